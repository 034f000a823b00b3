package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/campusworks/registrar-api/internal/models"
	"github.com/campusworks/registrar-api/internal/repository"
	appErrors "github.com/campusworks/registrar-api/pkg/errors"
)

type sectionReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseSection, error)
	List(ctx context.Context, page, pageSize int) ([]models.CourseSection, int, error)
	ListTimeSlots(ctx context.Context, sectionID string) ([]models.TimeSlot, error)
}

type snapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CatalogService serves read-only section lookups with a short-lived Redis
// snapshot cache in front. Writes belong to the catalog CRUD surface, which
// is external to this API.
type CatalogService struct {
	sections sectionReader
	cache    snapshotCache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewCatalogService constructs the catalog read service.
func NewCatalogService(sections sectionReader, cache snapshotCache, ttl time.Duration, logger *zap.Logger) *CatalogService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{sections: sections, cache: cache, ttl: ttl, logger: logger}
}

// GetSection returns a section with its time slots.
func (s *CatalogService) GetSection(ctx context.Context, id string) (*models.CourseSection, error) {
	if s.cache != nil {
		var cached models.CourseSection
		if err := s.cache.Get(ctx, repository.CacheKeySection+id, &cached); err == nil {
			return &cached, nil
		}
	}

	section, err := s.sections.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	slots, err := s.sections.ListTimeSlots(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section slots")
	}
	section.TimeSlots = slots

	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.CacheKeySection+id, section, s.ttl); err != nil {
			s.logger.Sugar().Warnw("failed to cache section snapshot", "section_id", id, "error", err)
		}
	}
	return section, nil
}

// ListSections returns a catalog page.
func (s *CatalogService) ListSections(ctx context.Context, page, pageSize int) ([]models.CourseSection, *models.Pagination, error) {
	sections, total, err := s.sections.List(ctx, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return sections, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}
