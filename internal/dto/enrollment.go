package dto

import "github.com/campusworks/registrar-api/internal/models"

// EnrollRequest captures POST /enrollments payload. Student identity comes
// from the access token, never the body.
type EnrollRequest struct {
	SectionID string `json:"sectionId" validate:"required"`
}

// JobQueuedResponse is returned after a request is accepted onto the queue.
// EstimatedWaitTime is a queue-depth projection in seconds, not a promise.
type JobQueuedResponse struct {
	JobID             string          `json:"jobId"`
	Status            models.JobState `json:"status"`
	EstimatedWaitTime int             `json:"estimatedWaitTime"`
}

// JobStatusResponse exposes the pollable state of an admission job.
type JobStatusResponse struct {
	JobID  string          `json:"jobId"`
	Status models.JobState `json:"status"`
	Result *string         `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// WaitlistResponse wraps the public waitlist projection for a section.
type WaitlistResponse struct {
	SectionID string                 `json:"sectionId"`
	Count     int                    `json:"count"`
	Waitlist  []models.WaitlistEntry `json:"waitlist"`
}
