package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DecisionEvent is the payload published for every terminal admission
// outcome. The external notification dispatcher subscribes to the channel and
// turns these into student-facing messages.
type DecisionEvent struct {
	JobID     string    `json:"jobId"`
	StudentID string    `json:"studentId"`
	SectionID string    `json:"sectionId"`
	Result    string    `json:"result"`
	At        time.Time `json:"at"`
}

// NotificationService publishes decision events to a Redis channel,
// fire-and-forget. A nil client disables publishing entirely.
type NotificationService struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewNotificationService constructs the publisher.
func NewNotificationService(client *redis.Client, channel string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "enrollment-events"
	}
	return &NotificationService{client: client, channel: channel, logger: logger}
}

// Publish emits a decision event. Failures are logged, never propagated: a
// dropped notification must not fail the admission decision it describes.
func (s *NotificationService) Publish(ctx context.Context, event DecisionEvent) {
	if s == nil || s.client == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Sugar().Warnw("failed to marshal decision event", "job_id", event.JobID, "error", err)
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Sugar().Warnw("failed to publish decision event", "job_id", event.JobID, "error", err)
	}
}
