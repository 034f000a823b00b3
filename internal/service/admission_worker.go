package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/campusworks/registrar-api/internal/models"
	"github.com/campusworks/registrar-api/internal/repository"
	"github.com/campusworks/registrar-api/pkg/dispatch"
)

type workerJobStore interface {
	GetByID(ctx context.Context, id string) (*models.AdmissionJob, error)
	MarkActive(ctx context.Context, id string) error
	Complete(ctx context.Context, id, result string) error
	Fail(ctx context.Context, id, message string) error
}

type ledgerStore interface {
	FindActive(ctx context.Context, studentID, sectionID string) (*models.EnrollmentRecord, error)
	FindLatest(ctx context.Context, studentID, sectionID string) (*models.EnrollmentRecord, error)
	Create(ctx context.Context, record *models.EnrollmentRecord) error
	Drop(ctx context.Context, id string, reason *string) error
	WaitlistCount(ctx context.Context, sectionID string) (int, error)
	NextWaitlisted(ctx context.Context, sectionID string) (*models.EnrollmentRecord, error)
	CompactWaitlist(ctx context.Context, sectionID string, removedPosition int) error
}

type seatLedger interface {
	ReserveAndConfirm(ctx context.Context, sectionID string, version int64, record *models.EnrollmentRecord) (bool, error)
	ReserveAndPromote(ctx context.Context, sectionID string, version int64, enrollmentID string) (bool, error)
	ReleaseAndDrop(ctx context.Context, sectionID string, version int64, enrollmentID string, reason *string) (bool, error)
}

type admissionChecker interface {
	CheckAdd(ctx context.Context, studentID string, section *models.CourseSection) (*Rejection, error)
}

type auditLog interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
}

type cacheInvalidator interface {
	Delete(ctx context.Context, keys ...string) error
}

const dropReasonStudentRequest = "student_request"

// AdmissionWorkerConfig governs seat reservation retries.
type AdmissionWorkerConfig struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// AdmissionWorker makes the actual admission decisions. It runs as the
// dispatcher handler, so all jobs for one section arrive on a single
// goroutine in FIFO order. Seat counter conflicts can still occur against
// other instances or out-of-band capacity edits, which is what the version
// check and retry loop absorb.
type AdmissionWorker struct {
	jobs     workerJobStore
	ledger   ledgerStore
	sections sectionLookup
	seats    seatLedger
	checks   admissionChecker
	audit    auditLog
	cache    cacheInvalidator
	metrics  *MetricsService
	notifier *NotificationService
	logger   *zap.Logger
	cfg      AdmissionWorkerConfig
}

// NewAdmissionWorker constructs the worker.
func NewAdmissionWorker(
	jobs workerJobStore,
	ledger ledgerStore,
	sections sectionLookup,
	seats seatLedger,
	checks admissionChecker,
	audit auditLog,
	cache cacheInvalidator,
	metrics *MetricsService,
	notifier *NotificationService,
	logger *zap.Logger,
	cfg AdmissionWorkerConfig,
) *AdmissionWorker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionWorker{
		jobs:     jobs,
		ledger:   ledger,
		sections: sections,
		seats:    seats,
		checks:   checks,
		audit:    audit,
		cache:    cache,
		metrics:  metrics,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Handle processes one dispatched task. A returned error leaves the job row
// in a non-terminal state for the recovery path; every business outcome,
// including rejections, resolves the job and returns nil. Delivery is
// at-least-once, so everything below must tolerate redelivery.
func (w *AdmissionWorker) Handle(ctx context.Context, task dispatch.Task) error {
	job, err := w.jobs.GetByID(ctx, task.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Sugar().Warnw("dispatched job no longer exists", "job_id", task.ID)
			return nil
		}
		return fmt.Errorf("load job %s: %w", task.ID, err)
	}
	if job.State.Terminal() {
		return nil
	}
	if err := w.jobs.MarkActive(ctx, job.ID); err != nil {
		return fmt.Errorf("mark job %s active: %w", job.ID, err)
	}
	job.Attempt++

	started := time.Now()
	var outcome string
	switch job.RequestType {
	case models.RequestTypeDrop:
		outcome, err = w.processDrop(ctx, job)
	default:
		outcome, err = w.processAdd(ctx, job)
	}
	if err != nil {
		return err
	}
	w.metrics.ObserveDecision(string(job.RequestType), outcome, time.Since(started))
	return nil
}

func (w *AdmissionWorker) processAdd(ctx context.Context, job *models.AdmissionJob) (string, error) {
	// Redelivery guard: a prior attempt may have applied the effect before
	// the process died. Resolve the job to whatever the ledger already says.
	existing, err := w.ledger.FindActive(ctx, job.StudentID, job.SectionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("check existing enrollment: %w", err)
	}
	if existing != nil {
		switch existing.Status {
		case models.EnrollmentStatusConfirmed:
			return w.complete(ctx, job, models.JobResultEnrolled)
		case models.EnrollmentStatusWaitlisted:
			return w.complete(ctx, job, models.JobResultWaitlisted)
		}
	}

	section, err := w.sections.FindByID(ctx, job.SectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return w.reject(ctx, job, models.ReasonSectionNotFound, "section not found")
		}
		return "", fmt.Errorf("load section %s: %w", job.SectionID, err)
	}
	if section.Status == models.SectionStatusInactive {
		return w.reject(ctx, job, models.ReasonSectionInactive, "section is not accepting enrollments")
	}

	rej, err := w.checks.CheckAdd(ctx, job.StudentID, section)
	if err != nil {
		return "", fmt.Errorf("validate admission: %w", err)
	}
	if rej != nil {
		return w.reject(ctx, job, rej.Reason, rej.Message)
	}

	for attempt := 0; attempt < w.cfg.MaxAttempts; attempt++ {
		if section.SeatsLeft() <= 0 {
			return w.waitlist(ctx, job)
		}

		ok, err := w.seats.ReserveAndConfirm(ctx, job.SectionID, section.Version, &models.EnrollmentRecord{
			StudentID: job.StudentID,
			SectionID: job.SectionID,
		})
		if err != nil {
			return "", fmt.Errorf("reserve seat: %w", err)
		}
		if ok {
			w.recordAudit(ctx, job.StudentID, job.SectionID, &job.ID, models.AuditActionEnroll, nil)
			return w.complete(ctx, job, models.JobResultEnrolled)
		}

		w.metrics.SeatConflict()
		if err := w.backoff(ctx, attempt); err != nil {
			return "", err
		}
		section, err = w.sections.FindByID(ctx, job.SectionID)
		if err != nil {
			return "", fmt.Errorf("reload section %s: %w", job.SectionID, err)
		}
		if section.Status == models.SectionStatusInactive {
			return w.reject(ctx, job, models.ReasonSectionInactive, "section closed during processing")
		}
	}

	return w.failContended(ctx, job)
}

func (w *AdmissionWorker) processDrop(ctx context.Context, job *models.AdmissionJob) (string, error) {
	record, err := w.ledger.FindActive(ctx, job.StudentID, job.SectionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("check existing enrollment: %w", err)
	}
	if record == nil {
		// On redelivery the first attempt may already have dropped the row.
		if job.Attempt > 1 {
			latest, err := w.ledger.FindLatest(ctx, job.StudentID, job.SectionID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return "", fmt.Errorf("check drop history: %w", err)
			}
			if latest != nil && latest.Status == models.EnrollmentStatusDropped {
				return w.complete(ctx, job, models.JobResultDropped)
			}
		}
		return w.reject(ctx, job, models.ReasonNotEnrolled, "no active enrollment for section")
	}

	if record.Status == models.EnrollmentStatusWaitlisted {
		// Leaving the waitlist frees no seat, only a position.
		reason := dropReasonStudentRequest
		if err := w.ledger.Drop(ctx, record.ID, &reason); err != nil {
			return "", fmt.Errorf("drop waitlisted enrollment: %w", err)
		}
		if record.WaitlistPosition != nil {
			if err := w.ledger.CompactWaitlist(ctx, job.SectionID, *record.WaitlistPosition); err != nil {
				return "", fmt.Errorf("compact waitlist: %w", err)
			}
		}
		w.recordAudit(ctx, job.StudentID, job.SectionID, &job.ID, models.AuditActionDrop, nil)
		return w.complete(ctx, job, models.JobResultDropped)
	}

	reason := dropReasonStudentRequest
	for attempt := 0; attempt < w.cfg.MaxAttempts; attempt++ {
		section, err := w.sections.FindByID(ctx, job.SectionID)
		if err != nil {
			return "", fmt.Errorf("load section %s: %w", job.SectionID, err)
		}
		ok, err := w.seats.ReleaseAndDrop(ctx, job.SectionID, section.Version, record.ID, &reason)
		if err != nil {
			return "", fmt.Errorf("release seat: %w", err)
		}
		if ok {
			w.recordAudit(ctx, job.StudentID, job.SectionID, &job.ID, models.AuditActionDrop, nil)
			if err := w.promoteNext(ctx, job); err != nil {
				// The freed seat is durable; the next event on this section
				// retries promotion.
				w.logger.Sugar().Errorw("waitlist promotion failed after drop",
					"section_id", job.SectionID, "error", err)
			}
			return w.complete(ctx, job, models.JobResultDropped)
		}
		w.metrics.SeatConflict()
		if err := w.backoff(ctx, attempt); err != nil {
			return "", err
		}
	}

	return w.failContended(ctx, job)
}

// promoteNext fills a freed seat from the waitlist head. Candidates are
// re-validated at promotion time; a candidate whose schedule no longer fits
// is dropped from the waitlist and the next one is considered.
func (w *AdmissionWorker) promoteNext(ctx context.Context, job *models.AdmissionJob) error {
	conflicts := 0
	for {
		next, err := w.ledger.NextWaitlisted(ctx, job.SectionID)
		if err != nil {
			return fmt.Errorf("load waitlist head: %w", err)
		}
		if next == nil {
			return nil
		}

		section, err := w.sections.FindByID(ctx, job.SectionID)
		if err != nil {
			return fmt.Errorf("load section %s: %w", job.SectionID, err)
		}
		if section.SeatsLeft() <= 0 || section.Status == models.SectionStatusInactive {
			return nil
		}

		rej, err := w.checks.CheckAdd(ctx, next.StudentID, section)
		if err != nil {
			return fmt.Errorf("validate promotion: %w", err)
		}
		if rej != nil {
			reason := "promotion_failed:" + rej.Reason
			if err := w.ledger.Drop(ctx, next.ID, &reason); err != nil {
				return fmt.Errorf("drop ineligible candidate: %w", err)
			}
			if next.WaitlistPosition != nil {
				if err := w.ledger.CompactWaitlist(ctx, job.SectionID, *next.WaitlistPosition); err != nil {
					return fmt.Errorf("compact waitlist: %w", err)
				}
			}
			w.recordAudit(ctx, next.StudentID, job.SectionID, &job.ID, models.AuditActionPromotionSkipped,
				map[string]string{"reason": rej.Reason})
			continue
		}

		ok, err := w.seats.ReserveAndPromote(ctx, job.SectionID, section.Version, next.ID)
		if err != nil {
			return fmt.Errorf("reserve promotion seat: %w", err)
		}
		if !ok {
			w.metrics.SeatConflict()
			conflicts++
			if conflicts >= w.cfg.MaxAttempts {
				return fmt.Errorf("promotion contention on section %s exhausted retries", job.SectionID)
			}
			continue
		}

		if next.WaitlistPosition != nil {
			if err := w.ledger.CompactWaitlist(ctx, job.SectionID, *next.WaitlistPosition); err != nil {
				return fmt.Errorf("compact waitlist: %w", err)
			}
		}
		w.recordAudit(ctx, next.StudentID, job.SectionID, &job.ID, models.AuditActionPromote, nil)
		w.metrics.Promotion()
		w.notifier.Publish(ctx, DecisionEvent{
			StudentID: next.StudentID,
			SectionID: job.SectionID,
			Result:    models.JobResultEnrolled,
			At:        time.Now().UTC(),
		})
		w.invalidate(ctx, job.SectionID, next.StudentID)
		return nil
	}
}

func (w *AdmissionWorker) waitlist(ctx context.Context, job *models.AdmissionJob) (string, error) {
	count, err := w.ledger.WaitlistCount(ctx, job.SectionID)
	if err != nil {
		return "", fmt.Errorf("count waitlist: %w", err)
	}
	position := count + 1
	record := &models.EnrollmentRecord{
		StudentID:        job.StudentID,
		SectionID:        job.SectionID,
		Status:           models.EnrollmentStatusWaitlisted,
		WaitlistPosition: &position,
	}
	if err := w.ledger.Create(ctx, record); err != nil {
		return "", fmt.Errorf("create waitlisted enrollment: %w", err)
	}
	w.recordAudit(ctx, job.StudentID, job.SectionID, &job.ID, models.AuditActionWaitlist,
		map[string]int{"position": position})
	return w.complete(ctx, job, models.JobResultWaitlisted)
}

func (w *AdmissionWorker) reject(ctx context.Context, job *models.AdmissionJob, reason, message string) (string, error) {
	w.recordAudit(ctx, job.StudentID, job.SectionID, &job.ID, models.AuditActionReject,
		map[string]string{"reason": reason, "message": message})
	return w.complete(ctx, job, models.RejectedResult(reason))
}

func (w *AdmissionWorker) failContended(ctx context.Context, job *models.AdmissionJob) (string, error) {
	w.recordAudit(ctx, job.StudentID, job.SectionID, &job.ID, models.AuditActionContentionFailure,
		map[string]int{"attempts": w.cfg.MaxAttempts})
	if err := w.jobs.Fail(ctx, job.ID, "seat version conflicts exhausted retries"); err != nil {
		return "", fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	result := "failed:" + models.ReasonSeatContention
	w.notifier.Publish(ctx, DecisionEvent{
		JobID:     job.ID,
		StudentID: job.StudentID,
		SectionID: job.SectionID,
		Result:    result,
		At:        time.Now().UTC(),
	})
	return result, nil
}

func (w *AdmissionWorker) complete(ctx context.Context, job *models.AdmissionJob, result string) (string, error) {
	if err := w.jobs.Complete(ctx, job.ID, result); err != nil {
		return "", fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	w.notifier.Publish(ctx, DecisionEvent{
		JobID:     job.ID,
		StudentID: job.StudentID,
		SectionID: job.SectionID,
		Result:    result,
		At:        time.Now().UTC(),
	})
	w.invalidate(ctx, job.SectionID, job.StudentID)
	return result, nil
}

// recordAudit appends one decision record. Audit writes are best effort: the
// decision itself is already durable in the job and ledger rows.
func (w *AdmissionWorker) recordAudit(ctx context.Context, studentID, sectionID string, jobID *string, action string, detail interface{}) {
	var payload []byte
	if detail != nil {
		payload, _ = json.Marshal(detail)
	}
	entry := &models.AuditEntry{
		StudentID: studentID,
		SectionID: sectionID,
		JobID:     jobID,
		Action:    action,
		Detail:    payload,
	}
	if err := w.audit.Append(ctx, entry); err != nil {
		w.logger.Sugar().Errorw("failed to append audit entry",
			"section_id", sectionID, "action", action, "error", err)
	}
}

func (w *AdmissionWorker) invalidate(ctx context.Context, sectionID, studentID string) {
	if w.cache == nil {
		return
	}
	keys := []string{repository.CacheKeySection + sectionID}
	if studentID != "" {
		keys = append(keys, repository.CacheKeySchedule+studentID)
	}
	if err := w.cache.Delete(ctx, keys...); err != nil {
		w.logger.Sugar().Warnw("failed to invalidate cache", "section_id", sectionID, "error", err)
	}
}

func (w *AdmissionWorker) backoff(ctx context.Context, attempt int) error {
	delay := w.cfg.RetryBaseDelay << uint(attempt)
	delay += time.Duration(rand.Int63n(int64(w.cfg.RetryBaseDelay)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
