package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campusworks/registrar-api/internal/models"
	"github.com/campusworks/registrar-api/pkg/response"
)

// CatalogAPI is the service surface the catalog endpoints depend on.
type CatalogAPI interface {
	GetSection(ctx context.Context, id string) (*models.CourseSection, error)
	ListSections(ctx context.Context, page, pageSize int) ([]models.CourseSection, *models.Pagination, error)
}

// SectionHandler exposes read-only catalog endpoints.
type SectionHandler struct {
	catalog CatalogAPI
}

// NewSectionHandler constructs SectionHandler.
func NewSectionHandler(catalog CatalogAPI) *SectionHandler {
	return &SectionHandler{catalog: catalog}
}

// List godoc
// @Summary List course sections
// @Tags Sections
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sections [get]
func (h *SectionHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	sections, pagination, err := h.catalog.ListSections(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, pagination)
}

// Get godoc
// @Summary Get one course section
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id} [get]
func (h *SectionHandler) Get(c *gin.Context) {
	section, err := h.catalog.GetSection(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}
