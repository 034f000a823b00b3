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

// JobRepository persists admission jobs. The table is both the durable queue
// record and the client-pollable status store; state transitions are guarded
// in SQL so they stay monotonic even under redundant delivery.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository constructs the repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new QUEUED job row. The insert must succeed before the
// submit call is acknowledged.
func (r *JobRepository) Create(ctx context.Context, job *models.AdmissionJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = models.JobStateQueued
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	const query = `INSERT INTO admission_jobs (id, student_id, section_id, request_type, state, result, error, attempt, created_at, updated_at)
VALUES (:id, :student_id, :section_id, :request_type, :state, :result, :error, :attempt, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create admission job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.AdmissionJob, error) {
	const query = `SELECT id, student_id, section_id, request_type, state, result, error, attempt, created_at, updated_at
FROM admission_jobs WHERE id = $1`
	var job models.AdmissionJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkActive moves a job to ACTIVE and bumps its attempt counter. The state
// guard keeps terminal jobs terminal on redundant delivery.
func (r *JobRepository) MarkActive(ctx context.Context, id string) error {
	const query = `UPDATE admission_jobs SET state = $2, attempt = attempt + 1, updated_at = $3
WHERE id = $1 AND state IN ($4, $5)`
	if _, err := r.db.ExecContext(ctx, query, id, models.JobStateActive, time.Now().UTC(),
		models.JobStateQueued, models.JobStateActive); err != nil {
		return fmt.Errorf("mark job active: %w", err)
	}
	return nil
}

// Complete resolves a job with its admission outcome.
func (r *JobRepository) Complete(ctx context.Context, id, result string) error {
	const query = `UPDATE admission_jobs SET state = $2, result = $3, updated_at = $4
WHERE id = $1 AND state IN ($5, $6)`
	if _, err := r.db.ExecContext(ctx, query, id, models.JobStateCompleted, result, time.Now().UTC(),
		models.JobStateQueued, models.JobStateActive); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail resolves a job as FAILED with an error message.
func (r *JobRepository) Fail(ctx context.Context, id, message string) error {
	const query = `UPDATE admission_jobs SET state = $2, error = $3, updated_at = $4
WHERE id = $1 AND state IN ($5, $6)`
	if _, err := r.db.ExecContext(ctx, query, id, models.JobStateFailed, message, time.Now().UTC(),
		models.JobStateQueued, models.JobStateActive); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// HasOpenRequest reports whether a non-terminal job exists for the pair. The
// queue accepts at most one in-flight request per (student, section).
func (r *JobRepository) HasOpenRequest(ctx context.Context, studentID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM admission_jobs
WHERE student_id = $1 AND section_id = $2 AND state IN ($3, $4) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, sectionID,
		models.JobStateQueued, models.JobStateActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check open request: %w", err)
	}
	return true, nil
}

// ListPending fetches one page of non-terminal jobs in submission order,
// keyset-cursored on (created_at, id). Rows stay QUEUED until a worker drains
// them, so cold start recovery must advance a cursor rather than re-issue the
// same LIMIT query. A zero cursor starts from the oldest row.
func (r *JobRepository) ListPending(ctx context.Context, afterCreated time.Time, afterID string, limit int) ([]models.AdmissionJob, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, student_id, section_id, request_type, state, result, error, attempt, created_at, updated_at
FROM admission_jobs WHERE state IN ($1, $2) AND (created_at, id) > ($3, $4)
ORDER BY created_at ASC, id ASC LIMIT $5`
	var jobs []models.AdmissionJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.JobStateQueued, models.JobStateActive,
		afterCreated, afterID, limit); err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return jobs, nil
}

// DeleteTerminalBefore removes terminal jobs older than the cutoff and
// reports how many rows went away.
func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM admission_jobs WHERE state IN ($1, $2) AND updated_at < $3`
	res, err := r.db.ExecContext(ctx, query, models.JobStateCompleted, models.JobStateFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs result: %w", err)
	}
	return deleted, nil
}
