package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusworks/registrar-api/internal/dto"
	"github.com/campusworks/registrar-api/internal/models"
	appErrors "github.com/campusworks/registrar-api/pkg/errors"
	"github.com/campusworks/registrar-api/pkg/response"
)

// AdmissionAPI is the service surface the enrollment endpoints depend on.
type AdmissionAPI interface {
	SubmitAdd(ctx context.Context, studentID string, req dto.EnrollRequest) (*dto.JobQueuedResponse, error)
	SubmitDrop(ctx context.Context, studentID, enrollmentID string) (*dto.JobQueuedResponse, error)
	GetJob(ctx context.Context, jobID, studentID string, role models.UserRole) (*dto.JobStatusResponse, error)
	Waitlist(ctx context.Context, sectionID string) (*dto.WaitlistResponse, error)
	MyEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
}

// EnrollmentHandler exposes the asynchronous enrollment endpoints. Enrollment
// and drop requests return 202 with a pollable job ID; the decision is never
// made on the request path.
type EnrollmentHandler struct {
	admissions AdmissionAPI
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(admissions AdmissionAPI) *EnrollmentHandler {
	return &EnrollmentHandler{admissions: admissions}
}

// Enroll godoc
// @Summary Request enrollment into a section
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollRequest true "Enrollment payload"
// @Success 202 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	queued, err := h.admissions.SubmitAdd(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, queued)
}

// Status godoc
// @Summary Poll an enrollment request decision
// @Tags Enrollments
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/status/{jobId} [get]
func (h *EnrollmentHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	status, err := h.admissions.GetJob(c.Request.Context(), c.Param("jobId"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Drop godoc
// @Summary Request dropping an enrollment
// @Tags Enrollments
// @Produce json
// @Param enrollmentId path string true "Enrollment ID"
// @Success 202 {object} response.Envelope
// @Router /enrollments/{enrollmentId} [delete]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	queued, err := h.admissions.SubmitDrop(c.Request.Context(), claims.UserID, c.Param("enrollmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, queued)
}

// Waitlist godoc
// @Summary View a section waitlist
// @Tags Enrollments
// @Produce json
// @Param sectionId path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/waitlist/{sectionId} [get]
func (h *EnrollmentHandler) Waitlist(c *gin.Context) {
	waitlist, err := h.admissions.Waitlist(c.Request.Context(), c.Param("sectionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, waitlist, nil)
}

// My godoc
// @Summary List the caller's enrollments
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments/my [get]
func (h *EnrollmentHandler) My(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	details, err := h.admissions.MyEnrollments(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, nil)
}
