package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/campusworks/registrar-api/internal/models"
	"github.com/campusworks/registrar-api/internal/repository"
)

type transcriptReader interface {
	ListCompletedCourseCodes(ctx context.Context, studentID string) ([]string, error)
	ListConfirmedSlots(ctx context.Context, studentID string) ([]repository.ConfirmedSlot, error)
	ConfirmedCredits(ctx context.Context, studentID string) (int, error)
}

type slotReader interface {
	ListTimeSlots(ctx context.Context, sectionID string) ([]models.TimeSlot, error)
}

// Rejection is a terminal, non-retryable admission verdict with a reason code
// from the models taxonomy.
type Rejection struct {
	Reason  string
	Message string
}

// ValidationService runs the read-only admission checks: prerequisites, time
// conflicts against the confirmed schedule, and the credit limit. It never
// mutates state.
type ValidationService struct {
	transcript transcriptReader
	slots      slotReader
	maxCredits int
	logger     *zap.Logger
}

// NewValidationService constructs the validation service.
func NewValidationService(transcript transcriptReader, slots slotReader, maxCredits int, logger *zap.Logger) *ValidationService {
	if maxCredits <= 0 {
		maxCredits = 18
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationService{transcript: transcript, slots: slots, maxCredits: maxCredits, logger: logger}
}

// CheckAdd validates a student against a section. A nil Rejection with a nil
// error means the admission may proceed to the capacity decision. The same
// checks run again on waitlist promotion, since the student's schedule may
// have changed while they waited.
func (s *ValidationService) CheckAdd(ctx context.Context, studentID string, section *models.CourseSection) (*Rejection, error) {
	if rej, err := s.checkPrerequisites(ctx, studentID, section); rej != nil || err != nil {
		return rej, err
	}
	if rej, err := s.checkTimeConflict(ctx, studentID, section); rej != nil || err != nil {
		return rej, err
	}
	return s.checkCreditLimit(ctx, studentID, section)
}

func (s *ValidationService) checkPrerequisites(ctx context.Context, studentID string, section *models.CourseSection) (*Rejection, error) {
	if len(section.Prerequisites) == 0 {
		return nil, nil
	}
	completed, err := s.transcript.ListCompletedCourseCodes(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load completed courses: %w", err)
	}
	done := make(map[string]struct{}, len(completed))
	for _, code := range completed {
		done[code] = struct{}{}
	}
	var missing []string
	for _, required := range section.Prerequisites {
		if _, ok := done[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return &Rejection{
			Reason:  models.ReasonPrerequisiteMissing,
			Message: "missing prerequisites: " + strings.Join(missing, ", "),
		}, nil
	}
	return nil, nil
}

func (s *ValidationService) checkTimeConflict(ctx context.Context, studentID string, section *models.CourseSection) (*Rejection, error) {
	newSlots := section.TimeSlots
	if newSlots == nil {
		loaded, err := s.slots.ListTimeSlots(ctx, section.ID)
		if err != nil {
			return nil, fmt.Errorf("load section slots: %w", err)
		}
		newSlots = loaded
	}
	if len(newSlots) == 0 {
		return nil, nil
	}
	confirmed, err := s.transcript.ListConfirmedSlots(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load confirmed slots: %w", err)
	}
	for _, existing := range confirmed {
		for _, slot := range newSlots {
			if slot.Overlaps(existing.TimeSlot) {
				return &Rejection{
					Reason:  models.ReasonTimeConflict,
					Message: fmt.Sprintf("time conflict with %s", existing.CourseCode),
				}, nil
			}
		}
	}
	return nil, nil
}

func (s *ValidationService) checkCreditLimit(ctx context.Context, studentID string, section *models.CourseSection) (*Rejection, error) {
	current, err := s.transcript.ConfirmedCredits(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("sum current credits: %w", err)
	}
	if current+section.Credits > s.maxCredits {
		return &Rejection{
			Reason:  models.ReasonCreditLimit,
			Message: fmt.Sprintf("credit limit exceeded: current %d, adding %d, max %d", current, section.Credits, s.maxCredits),
		}, nil
	}
	return nil, nil
}
