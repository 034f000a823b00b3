package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusworks/registrar-api/internal/dto"
	"github.com/campusworks/registrar-api/internal/models"
	"github.com/campusworks/registrar-api/pkg/dispatch"
	appErrors "github.com/campusworks/registrar-api/pkg/errors"
)

type jobStore interface {
	Create(ctx context.Context, job *models.AdmissionJob) error
	GetByID(ctx context.Context, id string) (*models.AdmissionJob, error)
	Fail(ctx context.Context, id, message string) error
	HasOpenRequest(ctx context.Context, studentID, sectionID string) (bool, error)
	ListPending(ctx context.Context, afterCreated time.Time, afterID string, limit int) ([]models.AdmissionJob, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ledgerReader interface {
	FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error)
	FindActive(ctx context.Context, studentID, sectionID string) (*models.EnrollmentRecord, error)
	ListWaitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error)
	ListDetailsByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
}

type sectionLookup interface {
	FindByID(ctx context.Context, id string) (*models.CourseSection, error)
}

type taskDispatcher interface {
	Submit(task dispatch.Task) error
	Depth() int
}

// estimatedWaitSeconds prices one queued decision when projecting a wait time
// from queue depth for the submit acknowledgement.
const estimatedWaitSeconds = 2

// AdmissionServiceConfig governs recovery and job retention.
type AdmissionServiceConfig struct {
	JobRetention    time.Duration
	JanitorInterval time.Duration
	RecoveryBatch   int
}

// AdmissionService is the synchronous face of the admission engine: it
// accepts requests onto the durable queue, serves job status polls and the
// waitlist projection. All admission decisions happen in the worker.
type AdmissionService struct {
	jobs       jobStore
	ledger     ledgerReader
	sections   sectionLookup
	dispatcher taskDispatcher
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        AdmissionServiceConfig
}

// NewAdmissionService constructs the admission service.
func NewAdmissionService(jobs jobStore, ledger ledgerReader, sections sectionLookup, dispatcher taskDispatcher, validate *validator.Validate, logger *zap.Logger, cfg AdmissionServiceConfig) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = 24 * time.Hour
	}
	if cfg.RecoveryBatch <= 0 {
		cfg.RecoveryBatch = 100
	}
	return &AdmissionService{
		jobs:       jobs,
		ledger:     ledger,
		sections:   sections,
		dispatcher: dispatcher,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
	}
}

// SubmitAdd accepts an enrollment request. The job row is durably persisted
// before the call acknowledges; the decision itself is made later by the
// worker draining the section's lane.
func (s *AdmissionService) SubmitAdd(ctx context.Context, studentID string, req dto.EnrollRequest) (*dto.JobQueuedResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	section, err := s.sections.FindByID(ctx, req.SectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	if section.Status == models.SectionStatusInactive {
		return nil, appErrors.ErrSectionUnavailable
	}

	record, err := s.ledger.FindActive(ctx, studentID, req.SectionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if record != nil {
		return nil, appErrors.ErrAlreadyEnrolled
	}

	return s.enqueue(ctx, studentID, req.SectionID, models.RequestTypeAdd)
}

// SubmitDrop accepts a drop request for one of the caller's enrollments. It
// flows through the same per-section lane as ADD requests, so a drop racing
// a pending add resolves in queue order.
func (s *AdmissionService) SubmitDrop(ctx context.Context, studentID, enrollmentID string) (*dto.JobQueuedResponse, error) {
	record, err := s.ledger.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if record.StudentID != studentID {
		return nil, appErrors.ErrForbidden
	}
	if record.Status == models.EnrollmentStatusDropped {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment already dropped")
	}

	return s.enqueue(ctx, studentID, record.SectionID, models.RequestTypeDrop)
}

func (s *AdmissionService) enqueue(ctx context.Context, studentID, sectionID string, requestType models.RequestType) (*dto.JobQueuedResponse, error) {
	open, err := s.jobs.HasOpenRequest(ctx, studentID, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}
	if open {
		return nil, appErrors.ErrDuplicateRequest
	}

	job := &models.AdmissionJob{
		StudentID:   studentID,
		SectionID:   sectionID,
		RequestType: requestType,
		State:       models.JobStateQueued,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist request")
	}

	if err := s.dispatcher.Submit(dispatch.Task{ID: job.ID, Key: sectionID}); err != nil {
		// The row is durable but undeliverable in this process; resolve it
		// rather than leaving the client polling forever.
		if failErr := s.jobs.Fail(ctx, job.ID, "failed to dispatch request"); failErr != nil {
			s.logger.Sugar().Errorw("failed to mark undispatched job failed", "job_id", job.ID, "error", failErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue request")
	}

	return &dto.JobQueuedResponse{
		JobID:             job.ID,
		Status:            job.State,
		EstimatedWaitTime: s.dispatcher.Depth() * estimatedWaitSeconds,
	}, nil
}

// GetJob serves a status poll. Unknown and garbage-collected IDs return
// NotFound, which callers must distinguish from a FAILED job. Students only
// see their own jobs.
func (s *AdmissionService) GetJob(ctx context.Context, jobID, studentID string, role models.UserRole) (*dto.JobStatusResponse, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load job")
	}
	if role != models.RoleAdmin && job.StudentID != studentID {
		return nil, appErrors.ErrForbidden
	}
	return &dto.JobStatusResponse{
		JobID:  job.ID,
		Status: job.State,
		Result: job.Result,
		Error:  job.Error,
	}, nil
}

// Waitlist returns the public waitlist projection for a section.
func (s *AdmissionService) Waitlist(ctx context.Context, sectionID string) (*dto.WaitlistResponse, error) {
	if _, err := s.sections.FindByID(ctx, sectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	entries, err := s.ledger.ListWaitlist(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist")
	}
	return &dto.WaitlistResponse{SectionID: sectionID, Count: len(entries), Waitlist: entries}, nil
}

// MyEnrollments returns the caller's confirmed and waitlisted records.
func (s *AdmissionService) MyEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	details, err := s.ledger.ListDetailsByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return details, nil
}

// RecoverPending re-dispatches non-terminal jobs after process restart.
// Redundant delivery is harmless: the worker skips terminal jobs and applies
// effects idempotently. The backlog is walked in pages behind a keyset cursor;
// re-listed rows stay QUEUED until a worker drains them, so a plain LIMIT
// query would return the same page forever.
func (s *AdmissionService) RecoverPending(ctx context.Context) {
	var (
		afterCreated time.Time
		afterID      string
		total        int
	)
	for {
		pending, err := s.jobs.ListPending(ctx, afterCreated, afterID, s.cfg.RecoveryBatch)
		if err != nil {
			s.logger.Sugar().Warnw("failed to recover pending admission jobs", "error", err)
			return
		}
		if len(pending) == 0 {
			break
		}
		for _, job := range pending {
			if err := s.dispatcher.Submit(dispatch.Task{ID: job.ID, Key: job.SectionID}); err != nil {
				s.logger.Sugar().Warnw("failed to redispatch pending job", "job_id", job.ID, "error", err)
			}
		}
		total += len(pending)
		last := pending[len(pending)-1]
		afterCreated, afterID = last.CreatedAt, last.ID
		if len(pending) < s.cfg.RecoveryBatch {
			break
		}
	}
	if total > 0 {
		s.logger.Sugar().Infow("recovered pending admission jobs", "count", total)
	}
}

// StartJanitor boots a goroutine that purges terminal jobs past the
// retention window. Expired IDs poll as NotFound afterwards.
func (s *AdmissionService) StartJanitor(ctx context.Context) {
	if s.cfg.JanitorInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-s.cfg.JobRetention)
				deleted, err := s.jobs.DeleteTerminalBefore(ctx, cutoff)
				if err != nil {
					s.logger.Sugar().Warnw("job janitor sweep failed", "error", err)
					continue
				}
				if deleted > 0 {
					s.logger.Sugar().Infow("purged expired admission jobs", "count", deleted)
				}
			}
		}
	}()
}
