package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment record.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusConfirmed  EnrollmentStatus = "CONFIRMED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusDropped    EnrollmentStatus = "DROPPED"
)

// EnrollmentRecord is the ledger row for a (student, section) pair. At most
// one non-DROPPED row exists per pair.
type EnrollmentRecord struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	SectionID        string           `db:"section_id" json:"section_id"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	WaitlistPosition *int             `db:"waitlist_position" json:"waitlist_position,omitempty"`
	Grade            *string          `db:"grade" json:"grade,omitempty"`
	EnrolledAt       time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt        *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	DropReason       *string          `db:"drop_reason" json:"drop_reason,omitempty"`
}

// EnrollmentDetail enriches a record with section info for student-facing
// listings.
type EnrollmentDetail struct {
	EnrollmentRecord
	CourseCode string `db:"course_code" json:"course_code"`
	Title      string `db:"title" json:"title"`
	Credits    int    `db:"credits" json:"credits"`
}

// WaitlistEntry is the public projection of one waitlist slot. Identity is
// not exposed; position and age are.
type WaitlistEntry struct {
	Position int       `db:"waitlist_position" json:"position"`
	JoinedAt time.Time `db:"enrolled_at" json:"joined_at"`
}

// Pagination carries standard list metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
