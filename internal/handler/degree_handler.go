package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/uninorte/portal-api/internal/models"
	"github.com/uninorte/portal-api/internal/service"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
	"github.com/uninorte/portal-api/pkg/response"
)

// DegreeHandler exposes degree catalog endpoints.
type DegreeHandler struct {
	catalog *service.CatalogService
}

// NewDegreeHandler creates a new handler.
func NewDegreeHandler(catalog *service.CatalogService) *DegreeHandler {
	return &DegreeHandler{catalog: catalog}
}

// List godoc
// @Summary List degrees
// @Tags Degrees
// @Produce json
// @Param faculty query string false "Filter by faculty"
// @Param active query bool false "Filter by active flag"
// @Param search query string false "Search by name or code"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /degrees [get]
func (h *DegreeHandler) List(c *gin.Context) {
	filter := models.DegreeFilter{
		Faculty:   c.Query("faculty"),
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid active filter"))
			return
		}
		filter.Active = &active
	}

	degrees, pagination, err := h.catalog.ListDegrees(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, degrees, pagination)
}

// Get godoc
// @Summary Get degree by ID
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /degrees/{id} [get]
func (h *DegreeHandler) Get(c *gin.Context) {
	degree, err := h.catalog.GetDegree(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, degree, nil)
}

// Create godoc
// @Summary Create degree
// @Tags Degrees
// @Accept json
// @Produce json
// @Param payload body service.CreateDegreeRequest true "Degree payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /degrees [post]
func (h *DegreeHandler) Create(c *gin.Context) {
	var req service.CreateDegreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid degree payload"))
		return
	}

	degree, err := h.catalog.CreateDegree(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, degree)
}

// Update godoc
// @Summary Update degree
// @Tags Degrees
// @Accept json
// @Produce json
// @Param id path string true "Degree ID"
// @Param payload body service.UpdateDegreeRequest true "Degree payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /degrees/{id} [put]
func (h *DegreeHandler) Update(c *gin.Context) {
	var req service.UpdateDegreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid degree payload"))
		return
	}

	degree, err := h.catalog.UpdateDegree(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, degree, nil)
}

// Delete godoc
// @Summary Delete degree
// @Description Soft-delete (deactivate) a degree
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /degrees/{id} [delete]
func (h *DegreeHandler) Delete(c *gin.Context) {
	if err := h.catalog.DeleteDegree(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
