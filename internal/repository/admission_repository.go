package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusworks/registrar-api/internal/models"
)

// AdmissionRepository owns the capacity transitions. Each transition pairs a
// version-checked update of the section counters with the matching ledger
// write inside one transaction, so a crash can never leave a reserved seat
// without its enrollment row or the other way round. A false return means the
// version check lost: the caller re-reads the section and decides again.
type AdmissionRepository struct {
	db *sqlx.DB
}

// NewAdmissionRepository constructs the repository.
func NewAdmissionRepository(db *sqlx.DB) *AdmissionRepository {
	return &AdmissionRepository{db: db}
}

const reserveSeatQuery = `UPDATE course_sections
SET current_enrollment = current_enrollment + 1,
    version = version + 1,
    status = CASE WHEN current_enrollment + 1 >= max_capacity THEN 'FULL' ELSE status END
WHERE id = $1 AND version = $2 AND current_enrollment < max_capacity`

const releaseSeatQuery = `UPDATE course_sections
SET current_enrollment = current_enrollment - 1,
    version = version + 1,
    status = CASE WHEN status = 'FULL' THEN 'OPEN' ELSE status END
WHERE id = $1 AND version = $2 AND current_enrollment > 0`

// ReserveAndConfirm reserves a seat under the optimistic version check and
// inserts the CONFIRMED ledger row in the same transaction.
func (r *AdmissionRepository) ReserveAndConfirm(ctx context.Context, sectionID string, version int64, record *models.EnrollmentRecord) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, reserveSeatQuery, sectionID, version)
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve seat result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EnrolledAt.IsZero() {
		record.EnrolledAt = time.Now().UTC()
	}
	record.Status = models.EnrollmentStatusConfirmed
	record.WaitlistPosition = nil

	const insert = `INSERT INTO enrollments (id, student_id, section_id, status, waitlist_position, grade, enrolled_at, dropped_at, drop_reason)
VALUES (:id, :student_id, :section_id, :status, :waitlist_position, :grade, :enrolled_at, :dropped_at, :drop_reason)`
	if _, err := tx.NamedExecContext(ctx, insert, record); err != nil {
		return false, fmt.Errorf("insert confirmed enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reserve: %w", err)
	}
	return true, nil
}

// ReserveAndPromote reserves a seat and flips an existing waitlisted row to
// CONFIRMED in the same transaction.
func (r *AdmissionRepository) ReserveAndPromote(ctx context.Context, sectionID string, version int64, enrollmentID string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin promote: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, reserveSeatQuery, sectionID, version)
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve seat result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	const promote = `UPDATE enrollments SET status = $2, waitlist_position = NULL WHERE id = $1`
	if _, err := tx.ExecContext(ctx, promote, enrollmentID, models.EnrollmentStatusConfirmed); err != nil {
		return false, fmt.Errorf("promote enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit promote: %w", err)
	}
	return true, nil
}

// ReleaseAndDrop frees a seat and marks the confirmed row DROPPED in the same
// transaction.
func (r *AdmissionRepository) ReleaseAndDrop(ctx context.Context, sectionID string, version int64, enrollmentID string, reason *string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin release: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, releaseSeatQuery, sectionID, version)
	if err != nil {
		return false, fmt.Errorf("release seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release seat result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	const drop = `UPDATE enrollments SET status = $2, waitlist_position = NULL, dropped_at = $3, drop_reason = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, drop, enrollmentID, models.EnrollmentStatusDropped, time.Now().UTC(), reason); err != nil {
		return false, fmt.Errorf("drop enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit release: %w", err)
	}
	return true, nil
}
