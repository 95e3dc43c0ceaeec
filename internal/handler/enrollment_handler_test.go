package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uninorte/portal-api/internal/middleware"
	"github.com/uninorte/portal-api/internal/models"
)

type enrollmentListerMock struct {
	lastFilter models.EnrollmentFilter
	result     []models.EnrollmentDetail
	total      int
}

func (m *enrollmentListerMock) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	m.lastFilter = filter
	return m.result, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: m.total}, nil
}

func TestEnrollmentHandlerListRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewEnrollmentHandler(&enrollmentListerMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/enrollments", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEnrollmentHandlerListScopesStudentsToOwnRows(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &enrollmentListerMock{}
	handler := NewEnrollmentHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/enrollments?student_id=someone-else", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "student-1", mock.lastFilter.StudentID)
}

func TestEnrollmentHandlerListAdminKeepsRequestedFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &enrollmentListerMock{}
	handler := NewEnrollmentHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/enrollments?student_id=student-7&status=INSCRITO&page=2", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "student-7", mock.lastFilter.StudentID)
	assert.Equal(t, models.EnrollmentStatusEnrolled, mock.lastFilter.Status)
	assert.Equal(t, 2, mock.lastFilter.Page)
}

func TestEnrollmentHandlerListRejectsUnknownStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewEnrollmentHandler(&enrollmentListerMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/enrollments?status=GRADUADO", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
