package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusworks/registrar-api/internal/models"
)

// EnrollmentRepository handles persistence of the enrollment ledger.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns a ledger row by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error) {
	const query = `SELECT id, student_id, section_id, status, waitlist_position, grade, enrolled_at, dropped_at, drop_reason
FROM enrollments WHERE id = $1`
	var record models.EnrollmentRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindActive returns the non-DROPPED row for a (student, section) pair, or
// sql.ErrNoRows when none exists.
func (r *EnrollmentRepository) FindActive(ctx context.Context, studentID, sectionID string) (*models.EnrollmentRecord, error) {
	const query = `SELECT id, student_id, section_id, status, waitlist_position, grade, enrolled_at, dropped_at, drop_reason
FROM enrollments WHERE student_id = $1 AND section_id = $2 AND status <> $3 LIMIT 1`
	var record models.EnrollmentRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, sectionID, models.EnrollmentStatusDropped); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindLatest returns the most recent row for a (student, section) pair
// regardless of status, or sql.ErrNoRows when the student never touched the
// section. Used to tell a re-delivered, already-applied DROP apart from a
// drop of something that was never enrolled.
func (r *EnrollmentRepository) FindLatest(ctx context.Context, studentID, sectionID string) (*models.EnrollmentRecord, error) {
	const query = `SELECT id, student_id, section_id, status, waitlist_position, grade, enrolled_at, dropped_at, drop_reason
FROM enrollments WHERE student_id = $1 AND section_id = $2
ORDER BY enrolled_at DESC LIMIT 1`
	var record models.EnrollmentRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, sectionID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Create persists a new ledger row.
func (r *EnrollmentRepository) Create(ctx context.Context, record *models.EnrollmentRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EnrolledAt.IsZero() {
		record.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, student_id, section_id, status, waitlist_position, grade, enrolled_at, dropped_at, drop_reason)
VALUES (:id, :student_id, :section_id, :status, :waitlist_position, :grade, :enrolled_at, :dropped_at, :drop_reason)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Drop marks a row DROPPED with an optional reason.
func (r *EnrollmentRepository) Drop(ctx context.Context, id string, reason *string) error {
	now := time.Now().UTC()
	const query = `UPDATE enrollments SET status = $2, waitlist_position = NULL, dropped_at = $3, drop_reason = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusDropped, now, reason); err != nil {
		return fmt.Errorf("drop enrollment: %w", err)
	}
	return nil
}

// WaitlistCount returns the current waitlist length for a section.
func (r *EnrollmentRepository) WaitlistCount(ctx context.Context, sectionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sectionID, models.EnrollmentStatusWaitlisted); err != nil {
		return 0, fmt.Errorf("count waitlist: %w", err)
	}
	return count, nil
}

// NextWaitlisted returns the earliest waitlisted row for a section, or nil
// when the waitlist is empty. FIFO order: position first, arrival as the
// tie-breaker.
func (r *EnrollmentRepository) NextWaitlisted(ctx context.Context, sectionID string) (*models.EnrollmentRecord, error) {
	const query = `SELECT id, student_id, section_id, status, waitlist_position, grade, enrolled_at, dropped_at, drop_reason
FROM enrollments WHERE section_id = $1 AND status = $2
ORDER BY waitlist_position ASC, enrolled_at ASC LIMIT 1`
	var record models.EnrollmentRecord
	if err := r.db.GetContext(ctx, &record, query, sectionID, models.EnrollmentStatusWaitlisted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("next waitlisted: %w", err)
	}
	return &record, nil
}

// CompactWaitlist shifts every waitlist position after the removed one down
// by one.
func (r *EnrollmentRepository) CompactWaitlist(ctx context.Context, sectionID string, removedPosition int) error {
	const query = `UPDATE enrollments SET waitlist_position = waitlist_position - 1
WHERE section_id = $1 AND status = $2 AND waitlist_position > $3`
	if _, err := r.db.ExecContext(ctx, query, sectionID, models.EnrollmentStatusWaitlisted, removedPosition); err != nil {
		return fmt.Errorf("compact waitlist: %w", err)
	}
	return nil
}

// ListWaitlist returns the public waitlist projection for a section.
func (r *EnrollmentRepository) ListWaitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	const query = `SELECT waitlist_position, enrolled_at FROM enrollments
WHERE section_id = $1 AND status = $2 ORDER BY waitlist_position ASC`
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, sectionID, models.EnrollmentStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

// ConfirmedSlot pairs a meeting time with the course it belongs to, used for
// time-conflict checks against a student's confirmed schedule.
type ConfirmedSlot struct {
	models.TimeSlot
	CourseCode string `db:"course_code"`
}

// ListConfirmedSlots returns all meeting times of the student's confirmed
// sections.
func (r *EnrollmentRepository) ListConfirmedSlots(ctx context.Context, studentID string) ([]ConfirmedSlot, error) {
	const query = `SELECT ts.id, ts.section_id, ts.day_of_week, ts.start_minute, ts.end_minute, cs.course_code
FROM enrollments e
JOIN course_sections cs ON cs.id = e.section_id
JOIN section_time_slots ts ON ts.section_id = cs.id
WHERE e.student_id = $1 AND e.status = $2`
	var slots []ConfirmedSlot
	if err := r.db.SelectContext(ctx, &slots, query, studentID, models.EnrollmentStatusConfirmed); err != nil {
		return nil, fmt.Errorf("list confirmed slots: %w", err)
	}
	return slots, nil
}

// ListCompletedCourseCodes returns course codes the student has finished with
// a passing grade, the input to prerequisite checks.
func (r *EnrollmentRepository) ListCompletedCourseCodes(ctx context.Context, studentID string) ([]string, error) {
	const query = `SELECT cs.course_code
FROM enrollments e
JOIN course_sections cs ON cs.id = e.section_id
WHERE e.student_id = $1 AND e.status = $2 AND e.grade IS NOT NULL AND e.grade NOT IN ('F', 'NP')`
	var codes []string
	if err := r.db.SelectContext(ctx, &codes, query, studentID, models.EnrollmentStatusConfirmed); err != nil {
		return nil, fmt.Errorf("list completed courses: %w", err)
	}
	return codes, nil
}

// ConfirmedCredits sums the credits of the student's confirmed, ungraded
// sections, the input to the credit-limit check.
func (r *EnrollmentRepository) ConfirmedCredits(ctx context.Context, studentID string) (int, error) {
	const query = `SELECT COALESCE(SUM(cs.credits), 0)
FROM enrollments e
JOIN course_sections cs ON cs.id = e.section_id
WHERE e.student_id = $1 AND e.status = $2 AND e.grade IS NULL`
	var credits int
	if err := r.db.GetContext(ctx, &credits, query, studentID, models.EnrollmentStatusConfirmed); err != nil {
		return 0, fmt.Errorf("sum confirmed credits: %w", err)
	}
	return credits, nil
}

// ListDetailsByStudent returns the student's non-DROPPED enrollments with
// section info.
func (r *EnrollmentRepository) ListDetailsByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.section_id, e.status, e.waitlist_position, e.grade, e.enrolled_at, e.dropped_at, e.drop_reason,
cs.course_code, cs.title, cs.credits
FROM enrollments e
JOIN course_sections cs ON cs.id = e.section_id
WHERE e.student_id = $1 AND e.status <> $2
ORDER BY e.enrolled_at DESC`
	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, studentID, models.EnrollmentStatusDropped); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return details, nil
}
