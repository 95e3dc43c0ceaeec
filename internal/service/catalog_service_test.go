package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uninorte/portal-api/internal/models"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

type degreeRepoStub struct {
	byID    map[string]*models.Degree
	byCode  map[string]*models.Degree
	created []*models.Degree
	updated []*models.Degree
	deleted []string
}

func newDegreeRepoStub() *degreeRepoStub {
	return &degreeRepoStub{byID: map[string]*models.Degree{}, byCode: map[string]*models.Degree{}}
}

func (s *degreeRepoStub) add(degree *models.Degree) {
	s.byID[degree.ID] = degree
	s.byCode[degree.Code] = degree
}

func (s *degreeRepoStub) FindByID(ctx context.Context, id string) (*models.Degree, error) {
	degree, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return degree, nil
}

func (s *degreeRepoStub) FindByCode(ctx context.Context, code string) (*models.Degree, error) {
	degree, ok := s.byCode[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return degree, nil
}

func (s *degreeRepoStub) List(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, int, error) {
	var out []models.Degree
	for _, degree := range s.byID {
		out = append(out, *degree)
	}
	return out, len(out), nil
}

func (s *degreeRepoStub) Create(ctx context.Context, degree *models.Degree) error {
	if degree.ID == "" {
		degree.ID = "deg-" + degree.Code
	}
	s.created = append(s.created, degree)
	s.add(degree)
	return nil
}

func (s *degreeRepoStub) Update(ctx context.Context, degree *models.Degree) error {
	s.updated = append(s.updated, degree)
	return nil
}

func (s *degreeRepoStub) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type courseRepoStub struct {
	byID          map[string]*models.Course
	byCode        map[string]*models.Course
	listResult    []models.Course
	listTotal     int
	listCalls     int
	updated       []*models.Course
	updateErr     error
	statusUpdates map[string]models.CourseStatus
}

func newCourseRepoStub() *courseRepoStub {
	return &courseRepoStub{
		byID:          map[string]*models.Course{},
		byCode:        map[string]*models.Course{},
		statusUpdates: map[string]models.CourseStatus{},
	}
}

func (s *courseRepoStub) add(course *models.Course) {
	s.byID[course.ID] = course
	s.byCode[course.Code] = course
}

func (s *courseRepoStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *course
	return &clone, nil
}

func (s *courseRepoStub) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	course, ok := s.byCode[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return course, nil
}

func (s *courseRepoStub) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	s.listCalls++
	return s.listResult, s.listTotal, nil
}

func (s *courseRepoStub) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = "crs-" + course.Code
	}
	s.add(course)
	return nil
}

func (s *courseRepoStub) Update(ctx context.Context, course *models.Course) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, course)
	s.add(course)
	return nil
}

func (s *courseRepoStub) UpdateStatus(ctx context.Context, id string, status models.CourseStatus) error {
	s.statusUpdates[id] = status
	return nil
}

type cacheStub struct {
	entries       map[string]CachedCourseList
	sets          []string
	invalidations []string
}

func newCacheStub() *cacheStub {
	return &cacheStub{entries: map[string]CachedCourseList{}}
}

func (s *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	cached, ok := s.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	out, ok := dest.(*CachedCourseList)
	if !ok {
		return errors.New("unexpected destination type")
	}
	*out = cached
	return nil
}

func (s *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	cached, ok := value.(CachedCourseList)
	if !ok {
		return errors.New("unexpected value type")
	}
	s.entries[key] = cached
	s.sets = append(s.sets, key)
	return nil
}

func (s *cacheStub) Invalidate(ctx context.Context, prefix string) {
	s.invalidations = append(s.invalidations, prefix)
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
}

type rosterStub struct {
	rows []models.EnrollmentDetail
}

func (s *rosterStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	total := len(s.rows)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return s.rows[start:end], total, nil
}

func catalogFixture(degrees *degreeRepoStub, courses *courseRepoStub, roster *rosterStub, cache *cacheStub) *CatalogService {
	var cacheIface catalogCache
	if cache != nil {
		cacheIface = cache
	}
	var rosterIface rosterReader
	if roster != nil {
		rosterIface = roster
	}
	return NewCatalogService(degrees, courses, rosterIface, cacheIface, nil, nil, zap.NewNop(), time.Minute)
}

func activeCourse(id, code string, current, max int) *models.Course {
	return &models.Course{
		ID:              id,
		Code:            code,
		Name:            "Course " + code,
		DegreeID:        "deg-1",
		Credits:         3,
		MaxStudents:     max,
		CurrentStudents: current,
		Status:          models.CourseStatusActive,
	}
}

func TestCatalogServiceListCoursesCachesResult(t *testing.T) {
	courses := newCourseRepoStub()
	courses.listResult = []models.Course{*activeCourse("course-1", "CS101", 0, 30)}
	courses.listTotal = 1
	cache := newCacheStub()
	svc := catalogFixture(newDegreeRepoStub(), courses, nil, cache)

	filter := models.CourseFilter{Page: 1, PageSize: 20}

	got, pagination, err := svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, 1, courses.listCalls)
	require.Len(t, cache.sets, 1)

	// Second identical read is served from the cache.
	got, _, err = svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, courses.listCalls)
}

type cacheRecorderStub struct {
	hits   int
	misses int
}

func (s *cacheRecorderStub) RecordCacheOperation(hit bool) {
	if hit {
		s.hits++
	} else {
		s.misses++
	}
}

func TestCatalogServiceListCoursesRecordsCacheMetrics(t *testing.T) {
	courses := newCourseRepoStub()
	courses.listTotal = 0
	recorder := &cacheRecorderStub{}
	svc := NewCatalogService(newDegreeRepoStub(), courses, nil, newCacheStub(), recorder, nil, zap.NewNop(), time.Minute)

	filter := models.CourseFilter{Page: 1, PageSize: 20}
	_, _, err := svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	_, _, err = svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)

	assert.Equal(t, 1, recorder.misses)
	assert.Equal(t, 1, recorder.hits)
}

func TestCatalogServiceListCoursesKeyVariesWithFilter(t *testing.T) {
	courses := newCourseRepoStub()
	courses.listTotal = 0
	cache := newCacheStub()
	svc := catalogFixture(newDegreeRepoStub(), courses, nil, cache)

	_, _, err := svc.ListCourses(context.Background(), models.CourseFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)
	_, _, err = svc.ListCourses(context.Background(), models.CourseFilter{Page: 2, PageSize: 20})
	require.NoError(t, err)

	assert.Equal(t, 2, courses.listCalls)
	assert.Len(t, cache.sets, 2)
}

func TestCatalogServiceListCoursesWithoutCache(t *testing.T) {
	courses := newCourseRepoStub()
	courses.listTotal = 0
	svc := catalogFixture(newDegreeRepoStub(), courses, nil, nil)

	_, _, err := svc.ListCourses(context.Background(), models.CourseFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)
	_, _, err = svc.ListCourses(context.Background(), models.CourseFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 2, courses.listCalls)
}

func TestCatalogServiceCreateCourseInvalidatesCache(t *testing.T) {
	degrees := newDegreeRepoStub()
	degrees.add(&models.Degree{ID: "9f2c9f6a-1c49-4d6e-8f57-2f6f3f6f9b11", Code: "ISW", Name: "Ingenieria de Software", Faculty: "Ingenieria", Semesters: 10, Active: true})
	courses := newCourseRepoStub()
	cache := newCacheStub()
	svc := catalogFixture(degrees, courses, nil, cache)

	course, err := svc.CreateCourse(context.Background(), CreateCourseRequest{
		Code:        "CS101",
		Name:        "Intro to CS",
		DegreeID:    "9f2c9f6a-1c49-4d6e-8f57-2f6f3f6f9b11",
		Credits:     3,
		MaxStudents: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusActive, course.Status)
	assert.Equal(t, 0, course.CurrentStudents)
	require.Len(t, cache.invalidations, 1)
	assert.Equal(t, "catalog:courses", cache.invalidations[0])
}

func TestCatalogServiceCreateCourseUnknownDegree(t *testing.T) {
	svc := catalogFixture(newDegreeRepoStub(), newCourseRepoStub(), nil, nil)

	_, err := svc.CreateCourse(context.Background(), CreateCourseRequest{
		Code:        "CS101",
		Name:        "Intro to CS",
		DegreeID:    "9f2c9f6a-1c49-4d6e-8f57-2f6f3f6f9b11",
		Credits:     3,
		MaxStudents: 30,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestCatalogServiceCreateCourseDuplicateCode(t *testing.T) {
	degrees := newDegreeRepoStub()
	degrees.add(&models.Degree{ID: "9f2c9f6a-1c49-4d6e-8f57-2f6f3f6f9b11", Code: "ISW", Active: true})
	courses := newCourseRepoStub()
	courses.add(activeCourse("course-1", "CS101", 0, 30))
	svc := catalogFixture(degrees, courses, nil, nil)

	_, err := svc.CreateCourse(context.Background(), CreateCourseRequest{
		Code:        "CS101",
		Name:        "Intro to CS",
		DegreeID:    "9f2c9f6a-1c49-4d6e-8f57-2f6f3f6f9b11",
		Credits:     3,
		MaxStudents: 30,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestCatalogServiceUpdateCourseRejectsCapacityBelowEnrollment(t *testing.T) {
	courses := newCourseRepoStub()
	courses.add(activeCourse("course-1", "CS101", 25, 30))
	svc := catalogFixture(newDegreeRepoStub(), courses, nil, nil)

	_, err := svc.UpdateCourse(context.Background(), "course-1", UpdateCourseRequest{
		Name:        "Intro to CS",
		Credits:     3,
		MaxStudents: 20,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	assert.Empty(t, courses.updated)
}

func TestCatalogServiceUpdateCoursePropagatesRepositoryGuard(t *testing.T) {
	courses := newCourseRepoStub()
	courses.add(activeCourse("course-1", "CS101", 20, 30))
	// The service read saw 20 enrolled, but by write time the guarded
	// UPDATE found more; the repository's typed error must reach the
	// caller instead of being masked as an internal failure.
	courses.updateErr = appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot shrink capacity below current enrollment")
	svc := catalogFixture(newDegreeRepoStub(), courses, nil, nil)

	_, err := svc.UpdateCourse(context.Background(), "course-1", UpdateCourseRequest{
		Name:        "Intro to CS",
		Credits:     3,
		MaxStudents: 22,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestCatalogServiceUpdateCourseShrinksCapacityToEnrollment(t *testing.T) {
	courses := newCourseRepoStub()
	courses.add(activeCourse("course-1", "CS101", 25, 30))
	cache := newCacheStub()
	svc := catalogFixture(newDegreeRepoStub(), courses, nil, cache)

	course, err := svc.UpdateCourse(context.Background(), "course-1", UpdateCourseRequest{
		Name:        "Intro to CS",
		Credits:     3,
		MaxStudents: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, course.MaxStudents)
	assert.Equal(t, 25, course.CurrentStudents)
	require.Len(t, courses.updated, 1)
	assert.Len(t, cache.invalidations, 1)
}

func TestCatalogServiceUpdateCourseStatus(t *testing.T) {
	courses := newCourseRepoStub()
	courses.add(activeCourse("course-1", "CS101", 0, 30))
	cache := newCacheStub()
	svc := catalogFixture(newDegreeRepoStub(), courses, nil, cache)

	course, err := svc.UpdateCourseStatus(context.Background(), "course-1", "inactive")
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusInactive, course.Status)
	assert.Equal(t, models.CourseStatusInactive, courses.statusUpdates["course-1"])
	assert.Len(t, cache.invalidations, 1)
}

func TestCatalogServiceUpdateCourseStatusArchivedIsTerminal(t *testing.T) {
	archived := activeCourse("course-1", "CS101", 0, 30)
	archived.Status = models.CourseStatusArchived
	courses := newCourseRepoStub()
	courses.add(archived)
	svc := catalogFixture(newDegreeRepoStub(), courses, nil, nil)

	_, err := svc.UpdateCourseStatus(context.Background(), "course-1", "ACTIVE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, courses.statusUpdates)
}

func TestCatalogServiceCreateDegree(t *testing.T) {
	degrees := newDegreeRepoStub()
	svc := catalogFixture(degrees, newCourseRepoStub(), nil, nil)

	degree, err := svc.CreateDegree(context.Background(), CreateDegreeRequest{
		Code:      "ISW",
		Name:      "Ingenieria de Software",
		Faculty:   "Ingenieria",
		Semesters: 10,
	})
	require.NoError(t, err)
	assert.True(t, degree.Active)
	require.Len(t, degrees.created, 1)

	_, err = svc.CreateDegree(context.Background(), CreateDegreeRequest{
		Code:      "ISW",
		Name:      "Ingenieria de Software",
		Faculty:   "Ingenieria",
		Semesters: 10,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestCatalogServiceExportRosterCSV(t *testing.T) {
	courses := newCourseRepoStub()
	courses.add(activeCourse("course-1", "CS101", 2, 30))
	enrolledAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	roster := &rosterStub{rows: []models.EnrollmentDetail{
		{Enrollment: models.Enrollment{Status: models.EnrollmentStatusEnrolled, EnrolledAt: enrolledAt}, StudentCode: "2026-0001", StudentName: "Ana Diaz"},
		{Enrollment: models.Enrollment{Status: models.EnrollmentStatusEnrolled, EnrolledAt: enrolledAt}, StudentCode: "2026-0002", StudentName: "Bruno Meza"},
	}}
	svc := catalogFixture(newDegreeRepoStub(), courses, roster, nil)

	payload, contentType, filename, err := svc.ExportRoster(context.Background(), "course-1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Equal(t, "roster-CS101.csv", filename)

	body := string(payload)
	assert.Contains(t, body, "Student Code")
	assert.Contains(t, body, "2026-0001")
	assert.Contains(t, body, "Ana Diaz")
	assert.Contains(t, body, "Bruno Meza")
}

func TestCatalogServiceExportRosterPDF(t *testing.T) {
	courses := newCourseRepoStub()
	courses.add(activeCourse("course-1", "CS101", 1, 30))
	roster := &rosterStub{rows: []models.EnrollmentDetail{
		{Enrollment: models.Enrollment{Status: models.EnrollmentStatusEnrolled, EnrolledAt: time.Now()}, StudentCode: "2026-0001", StudentName: "Ana Diaz"},
	}}
	svc := catalogFixture(newDegreeRepoStub(), courses, roster, nil)

	payload, contentType, filename, err := svc.ExportRoster(context.Background(), "course-1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.Equal(t, "roster-CS101.pdf", filename)
	assert.True(t, len(payload) > 0)
}

func TestCatalogServiceExportRosterUnsupportedFormat(t *testing.T) {
	courses := newCourseRepoStub()
	courses.add(activeCourse("course-1", "CS101", 0, 30))
	svc := catalogFixture(newDegreeRepoStub(), courses, &rosterStub{}, nil)

	_, _, _, err := svc.ExportRoster(context.Background(), "course-1", "xlsx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
