package models

import "time"

// Audit actions recorded for admission decisions.
const (
	AuditActionEnroll            = "ENROLL"
	AuditActionWaitlist          = "WAITLIST"
	AuditActionReject            = "REJECT"
	AuditActionDrop              = "DROP"
	AuditActionPromote           = "PROMOTE"
	AuditActionPromotionSkipped  = "PROMOTION_SKIPPED"
	AuditActionContentionFailure = "CONTENTION_FAILURE"
)

// AuditEntry is one append-only record of an admission decision. Rows are
// never updated or deleted by this service.
type AuditEntry struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	SectionID string    `db:"section_id" json:"section_id"`
	JobID     *string   `db:"job_id" json:"job_id,omitempty"`
	Action    string    `db:"action" json:"action"`
	Detail    []byte    `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
