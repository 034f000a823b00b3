package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusworks/registrar-api/internal/models"
)

// AuditRepository appends admission decisions to the audit trail. Rows are
// write-once; no update or delete paths exist.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts an audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO admission_audit (id, student_id, section_id, job_id, action, detail, created_at)
VALUES (:id, :student_id, :section_id, :job_id, :action, :detail, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListBySection returns recent audit entries for a section, newest first.
func (r *AuditRepository) ListBySection(ctx context.Context, sectionID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, student_id, section_id, job_id, action, detail, created_at
FROM admission_audit WHERE section_id = $1 ORDER BY created_at DESC LIMIT $2`
	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, sectionID, limit); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
