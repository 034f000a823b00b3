package models

import "time"

// RequestType distinguishes enrollment requests flowing through the queue.
type RequestType string

const (
	RequestTypeAdd  RequestType = "ADD"
	RequestTypeDrop RequestType = "DROP"
)

// JobState captures the admission job lifecycle. Transitions are monotonic:
// QUEUED -> ACTIVE -> COMPLETED | FAILED, never backwards.
type JobState string

const (
	JobStateQueued    JobState = "QUEUED"
	JobStateActive    JobState = "ACTIVE"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job results for COMPLETED admission jobs. Rejections carry a reason suffix,
// e.g. "rejected:time_conflict".
const (
	JobResultEnrolled   = "enrolled"
	JobResultWaitlisted = "waitlisted"
	JobResultDropped    = "dropped"
)

// Rejection reason codes.
const (
	ReasonAlreadyEnrolled     = "already_enrolled"
	ReasonDuplicateRequest    = "duplicate_request"
	ReasonPrerequisiteMissing = "prerequisite_missing"
	ReasonTimeConflict        = "time_conflict"
	ReasonCreditLimit         = "credit_limit_exceeded"
	ReasonSectionNotFound     = "section_not_found"
	ReasonSectionInactive     = "section_inactive"
	ReasonNotEnrolled         = "not_enrolled"
	ReasonSeatContention      = "seat_contention"
)

// RejectedResult formats a rejection outcome for the given reason code.
func RejectedResult(reason string) string {
	return "rejected:" + reason
}

// AdmissionJob is the durable queue item and client-pollable handle for one
// enrollment request. The row doubles as the per-section FIFO record: workers
// pick jobs up in created_at order within a section.
type AdmissionJob struct {
	ID          string      `db:"id" json:"id"`
	StudentID   string      `db:"student_id" json:"student_id"`
	SectionID   string      `db:"section_id" json:"section_id"`
	RequestType RequestType `db:"request_type" json:"request_type"`
	State       JobState    `db:"state" json:"state"`
	Result      *string     `db:"result" json:"result,omitempty"`
	Error       *string     `db:"error" json:"error,omitempty"`
	Attempt     int         `db:"attempt" json:"attempt"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}
