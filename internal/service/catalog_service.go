package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/uninorte/portal-api/internal/models"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
	"github.com/uninorte/portal-api/pkg/export"
)

type degreeRepository interface {
	FindByID(ctx context.Context, id string) (*models.Degree, error)
	FindByCode(ctx context.Context, code string) (*models.Degree, error)
	List(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, int, error)
	Create(ctx context.Context, degree *models.Degree) error
	Update(ctx context.Context, degree *models.Degree) error
	Delete(ctx context.Context, id string) error
}

type catalogCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	UpdateStatus(ctx context.Context, id string, status models.CourseStatus) error
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string)
}

type rosterReader interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type cacheRecorder interface {
	RecordCacheOperation(hit bool)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// CreateDegreeRequest payload for creating a degree.
type CreateDegreeRequest struct {
	Code        string `json:"code" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Faculty     string `json:"faculty" validate:"required"`
	Semesters   int    `json:"semesters" validate:"required,min=1"`
}

// UpdateDegreeRequest payload for updating a degree.
type UpdateDegreeRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Faculty     string `json:"faculty" validate:"required"`
	Semesters   int    `json:"semesters" validate:"required,min=1"`
	Active      *bool  `json:"active"`
}

// CreateCourseRequest payload for creating a course.
type CreateCourseRequest struct {
	Code        string `json:"code" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	DegreeID    string `json:"degree_id" validate:"required,uuid"`
	Credits     int    `json:"credits" validate:"required,min=1"`
	MaxStudents int    `json:"max_students" validate:"required,min=1"`
}

// UpdateCourseRequest payload for updating a course. current_students
// is absent on purpose; only the enrollment workflow mutates it.
type UpdateCourseRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Credits     int    `json:"credits" validate:"required,min=1"`
	MaxStudents int    `json:"max_students" validate:"required,min=1"`
}

// CachedCourseList is the cached representation of a course listing.
type CachedCourseList struct {
	Courses    []models.Course   `json:"courses"`
	Pagination models.Pagination `json:"pagination"`
}

const courseCachePrefix = "catalog:courses"

// CatalogService manages degrees and courses.
type CatalogService struct {
	degrees   degreeRepository
	courses   catalogCourseRepository
	roster    rosterReader
	cache     catalogCache
	csv       csvRenderer
	pdf       pdfRenderer
	metrics   cacheRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewCatalogService constructs a CatalogService. cache and metrics may
// be nil; a nil cache means listings always hit the database.
func NewCatalogService(degrees degreeRepository, courses catalogCourseRepository, roster rosterReader, cache catalogCache, metrics cacheRecorder, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CatalogService{
		degrees:   degrees,
		courses:   courses,
		roster:    roster,
		cache:     cache,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cacheTTL:  cacheTTL,
	}
}

// ListDegrees returns degrees with pagination metadata.
func (s *CatalogService) ListDegrees(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, *models.Pagination, error) {
	degrees, total, err := s.degrees.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list degrees")
	}
	return degrees, paginationFor(filter.Page, filter.PageSize, total), nil
}

// GetDegree returns a degree by ID.
func (s *CatalogService) GetDegree(ctx context.Context, id string) (*models.Degree, error) {
	degree, err := s.degrees.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "degree not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load degree")
	}
	return degree, nil
}

// CreateDegree adds a degree to the catalog.
func (s *CatalogService) CreateDegree(ctx context.Context, req CreateDegreeRequest) (*models.Degree, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid degree payload")
	}

	if _, err := s.degrees.FindByCode(ctx, req.Code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "degree code already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check degree code")
	}

	degree := &models.Degree{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Faculty:     req.Faculty,
		Semesters:   req.Semesters,
		Active:      true,
	}
	if err := s.degrees.Create(ctx, degree); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create degree")
	}
	return degree, nil
}

// UpdateDegree modifies a degree.
func (s *CatalogService) UpdateDegree(ctx context.Context, id string, req UpdateDegreeRequest) (*models.Degree, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid degree payload")
	}

	degree, err := s.GetDegree(ctx, id)
	if err != nil {
		return nil, err
	}

	degree.Name = req.Name
	degree.Description = req.Description
	degree.Faculty = req.Faculty
	degree.Semesters = req.Semesters
	if req.Active != nil {
		degree.Active = *req.Active
	}

	if err := s.degrees.Update(ctx, degree); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update degree")
	}
	return degree, nil
}

// DeleteDegree archives a degree (soft delete).
func (s *CatalogService) DeleteDegree(ctx context.Context, id string) error {
	if _, err := s.GetDegree(ctx, id); err != nil {
		return err
	}
	if err := s.degrees.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete degree")
	}
	return nil
}

// ListCourses returns courses, consulting the cache first. Results
// are cached per filter combination and invalidated on any write.
func (s *CatalogService) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	key := courseCacheKey(filter)
	if s.cache != nil {
		var cached CachedCourseList
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.recordCache(true)
			return cached.Courses, &cached.Pagination, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course cache read failed", zap.String("key", key), zap.Error(err))
		}
		s.recordCache(false)
	}

	courses, total, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	pagination := paginationFor(filter.Page, filter.PageSize, total)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, CachedCourseList{Courses: courses, Pagination: *pagination}, s.cacheTTL); err != nil {
			s.logger.Warn("course cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return courses, pagination, nil
}

// GetCourse returns a course by ID.
func (s *CatalogService) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// CreateCourse adds a course linked to an existing degree.
func (s *CatalogService) CreateCourse(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	if _, err := s.GetDegree(ctx, req.DegreeID); err != nil {
		return nil, err
	}

	if _, err := s.courses.FindByCode(ctx, req.Code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}

	course := &models.Course{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		DegreeID:    req.DegreeID,
		Credits:     req.Credits,
		MaxStudents: req.MaxStudents,
		Status:      models.CourseStatusActive,
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.invalidateCourses(ctx)
	return course, nil
}

// UpdateCourse modifies course attributes. Capacity can never drop
// below the number of currently enrolled students.
func (s *CatalogService) UpdateCourse(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.GetCourse(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.MaxStudents < course.CurrentStudents {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("max_students %d is below current enrollment %d", req.MaxStudents, course.CurrentStudents))
	}

	course.Name = req.Name
	course.Description = req.Description
	course.Credits = req.Credits
	course.MaxStudents = req.MaxStudents

	// The repository re-checks the capacity floor inside the UPDATE
	// itself; a concurrent enrollment landing after the read above
	// surfaces here as a precondition failure, not a broken counter.
	if err := s.courses.Update(ctx, course); err != nil {
		if errors.Is(err, appErrors.ErrPreconditionFailed) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}

	s.invalidateCourses(ctx)
	return course, nil
}

// UpdateCourseStatus transitions a course between ACTIVE, INACTIVE
// and ARCHIVED.
func (s *CatalogService) UpdateCourseStatus(ctx context.Context, id string, rawStatus string) (*models.Course, error) {
	status, err := models.ParseCourseStatus(rawStatus)
	if err != nil {
		return nil, err
	}

	course, err := s.GetCourse(ctx, id)
	if err != nil {
		return nil, err
	}

	if !course.Status.CanTransitionTo(status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid course status transition from "+string(course.Status)+" to "+string(status))
	}

	if err := s.courses.UpdateStatus(ctx, id, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course status")
	}

	course.Status = status
	s.invalidateCourses(ctx)
	return course, nil
}

// ExportRoster renders the list of enrolled students for a course as
// CSV or PDF.
func (s *CatalogService) ExportRoster(ctx context.Context, courseID, format string) ([]byte, string, string, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, "", "", err
	}

	var rows []models.EnrollmentDetail
	for page := 1; ; page++ {
		batch, total, err := s.roster.List(ctx, models.EnrollmentFilter{
			CourseID:  courseID,
			Status:    models.EnrollmentStatusEnrolled,
			Page:      page,
			PageSize:  100,
			SortBy:    "student_name",
			SortOrder: "ASC",
		})
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
		}
		rows = append(rows, batch...)
		if len(batch) == 0 || len(rows) >= total {
			break
		}
	}

	dataset := export.Dataset{
		Headers: []string{"Student Code", "Student Name", "Status", "Enrolled At"},
	}
	for _, row := range rows {
		dataset.Rows = append(dataset.Rows, []string{
			row.StudentCode,
			row.StudentName,
			string(row.Status),
			row.EnrolledAt.Format(time.RFC3339),
		})
	}

	switch format {
	case "csv", "":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv roster")
		}
		return payload, "text/csv", fmt.Sprintf("roster-%s.csv", course.Code), nil
	case "pdf":
		payload, err := s.pdf.Render(dataset, "Roster "+course.Code+" - "+course.Name)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf roster")
		}
		return payload, "application/pdf", fmt.Sprintf("roster-%s.pdf", course.Code), nil
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format: "+format)
	}
}

func (s *CatalogService) recordCache(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(hit)
	}
}

func (s *CatalogService) invalidateCourses(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, courseCachePrefix)
	}
}

func courseCacheKey(filter models.CourseFilter) string {
	return courseCachePrefix + ":" +
		filter.DegreeID + ":" + string(filter.Status) + ":" + filter.Search + ":" +
		strconv.Itoa(filter.Page) + ":" + strconv.Itoa(filter.PageSize) + ":" +
		filter.SortBy + ":" + filter.SortOrder
}

func paginationFor(page, pageSize, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}
