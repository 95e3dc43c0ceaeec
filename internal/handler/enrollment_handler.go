package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/uninorte/portal-api/internal/models"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
	"github.com/uninorte/portal-api/pkg/response"
)

type enrollmentLister interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
}

// EnrollmentHandler exposes enrollment listing endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentLister
}

// NewEnrollmentHandler creates a new handler.
func NewEnrollmentHandler(enrollments enrollmentLister) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List enrollments
// @Description List enrollments with filters; students only see their own
// @Tags Enrollments
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param course_id query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.EnrollmentFilter{
		StudentID: c.Query("student_id"),
		CourseID:  c.Query("course_id"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseEnrollmentStatus(raw)
		if err != nil {
			response.Error(c, err)
			return
		}
		filter.Status = status
	}

	// Students are scoped to their own enrollments.
	if claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollments, pagination)
}
