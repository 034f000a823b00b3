package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campusworks/registrar-api/internal/models"
)

// SectionRepository serves catalog reads. Capacity and version are only ever
// mutated through the transactional updates in AdmissionRepository.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// FindByID returns a section without its time slots.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.CourseSection, error) {
	const query = `SELECT id, course_code, title, credits, prerequisites, max_capacity, current_enrollment, version, status
FROM course_sections WHERE id = $1`
	var section models.CourseSection
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// List returns sections ordered by course code with pagination.
func (r *SectionRepository) List(ctx context.Context, page, pageSize int) ([]models.CourseSection, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	const query = `SELECT id, course_code, title, credits, prerequisites, max_capacity, current_enrollment, version, status
FROM course_sections ORDER BY course_code ASC LIMIT $1 OFFSET $2`
	var sections []models.CourseSection
	if err := r.db.SelectContext(ctx, &sections, query, pageSize, offset); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM course_sections"); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}
	return sections, total, nil
}

// ListTimeSlots returns the scheduled meetings for a section.
func (r *SectionRepository) ListTimeSlots(ctx context.Context, sectionID string) ([]models.TimeSlot, error) {
	const query = `SELECT id, section_id, day_of_week, start_minute, end_minute
FROM section_time_slots WHERE section_id = $1 ORDER BY day_of_week ASC, start_minute ASC`
	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query, sectionID); err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	return slots, nil
}
