package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uninorte/portal-api/internal/models"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

type enrollmentRepoStub struct {
	enrollResult *models.Enrollment
	enrollErr    error
	dropResult   *models.DropResult
	dropErr      error
	listResult   []models.EnrollmentDetail
	listTotal    int
	enrollCalls  int
	dropCalls    int
}

func (s *enrollmentRepoStub) Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	s.enrollCalls++
	return s.enrollResult, s.enrollErr
}

func (s *enrollmentRepoStub) Drop(ctx context.Context, studentID, courseID string) (*models.DropResult, error) {
	s.dropCalls++
	return s.dropResult, s.dropErr
}

func (s *enrollmentRepoStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return s.listResult, s.listTotal, nil
}

type userReaderStub struct {
	users map[string]*models.User
}

func (s *userReaderStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

type courseReaderStub struct {
	courses map[string]*models.Course
}

func (s *courseReaderStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return course, nil
}

func approvedStudent(id string) *models.User {
	return &models.User{
		ID:       id,
		Email:    id + "@uninorte.edu",
		FullName: "Student " + id,
		Role:     models.RoleStudent,
		Status:   models.UserStatusApproved,
	}
}

func enrollmentFixture(repo *enrollmentRepoStub, users *userReaderStub, emitter *emitterStub) *EnrollmentService {
	courses := &courseReaderStub{courses: map[string]*models.Course{
		"course-1": {ID: "course-1", Code: "CS101", Name: "Intro to CS"},
	}}
	var notifier notificationEmitter
	if emitter != nil {
		notifier = emitter
	}
	return NewEnrollmentService(repo, users, courses, notifier, nil, zap.NewNop())
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	repo := &enrollmentRepoStub{
		enrollResult: &models.Enrollment{
			ID:         "enr-1",
			StudentID:  "stu-1",
			CourseID:   "course-1",
			EnrolledAt: time.Now().UTC(),
			Status:     models.EnrollmentStatusEnrolled,
		},
	}
	users := &userReaderStub{users: map[string]*models.User{"stu-1": approvedStudent("stu-1")}}
	emitter := &emitterStub{}
	svc := enrollmentFixture(repo, users, emitter)

	enrollment, err := svc.Enroll(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	require.Len(t, emitter.notifications, 1)
	assert.Equal(t, models.NotificationEnrolled, emitter.notifications[0].Kind)
	assert.Equal(t, "CS101", emitter.notifications[0].Payload["course_code"])
}

func TestEnrollmentServiceEnrollRejectsNonStudent(t *testing.T) {
	repo := &enrollmentRepoStub{}
	professor := approvedStudent("prof-1")
	professor.Role = models.RoleProfessor
	users := &userReaderStub{users: map[string]*models.User{"prof-1": professor}}
	svc := enrollmentFixture(repo, users, nil)

	_, err := svc.Enroll(context.Background(), "prof-1", "course-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, repo.enrollCalls)
}

func TestEnrollmentServiceEnrollRejectsUnapprovedStudent(t *testing.T) {
	repo := &enrollmentRepoStub{}
	pending := approvedStudent("stu-1")
	pending.Status = models.UserStatusPending
	users := &userReaderStub{users: map[string]*models.User{"stu-1": pending}}
	svc := enrollmentFixture(repo, users, nil)

	_, err := svc.Enroll(context.Background(), "stu-1", "course-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, repo.enrollCalls)
}

func TestEnrollmentServiceEnrollPropagatesCapacityError(t *testing.T) {
	repo := &enrollmentRepoStub{enrollErr: appErrors.Clone(appErrors.ErrCapacityExceeded, "course capacity exceeded")}
	users := &userReaderStub{users: map[string]*models.User{"stu-1": approvedStudent("stu-1")}}
	emitter := &emitterStub{}
	svc := enrollmentFixture(repo, users, emitter)

	_, err := svc.Enroll(context.Background(), "stu-1", "course-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))
	assert.Empty(t, emitter.notifications, "failed enrollment must not notify")
}

func TestEnrollmentServiceDrop(t *testing.T) {
	dropped := models.EnrollmentStatusDropped
	now := time.Now().UTC()
	repo := &enrollmentRepoStub{
		dropResult: &models.DropResult{
			Dropped: true,
			Enrollment: &models.Enrollment{
				ID:        "enr-1",
				StudentID: "stu-1",
				CourseID:  "course-1",
				DroppedAt: &now,
				Status:    dropped,
			},
		},
	}
	users := &userReaderStub{users: map[string]*models.User{"stu-1": approvedStudent("stu-1")}}
	emitter := &emitterStub{}
	svc := enrollmentFixture(repo, users, emitter)

	result, err := svc.Drop(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.True(t, result.Dropped)
	require.Len(t, emitter.notifications, 1)
	assert.Equal(t, models.NotificationDropped, emitter.notifications[0].Kind)
}

func TestEnrollmentServiceDropNoopDoesNotNotify(t *testing.T) {
	repo := &enrollmentRepoStub{dropResult: &models.DropResult{Dropped: false}}
	users := &userReaderStub{users: map[string]*models.User{"stu-1": approvedStudent("stu-1")}}
	emitter := &emitterStub{}
	svc := enrollmentFixture(repo, users, emitter)

	result, err := svc.Drop(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.False(t, result.Dropped)
	assert.Empty(t, emitter.notifications)
}

func TestEnrollmentServiceListPagination(t *testing.T) {
	repo := &enrollmentRepoStub{
		listResult: []models.EnrollmentDetail{{StudentName: "Ana Diaz", CourseCode: "CS101"}},
		listTotal:  41,
	}
	users := &userReaderStub{users: map[string]*models.User{}}
	svc := enrollmentFixture(repo, users, nil)

	enrollments, pagination, err := svc.List(context.Background(), models.EnrollmentFilter{Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, 2, pagination.Page)
	assert.Equal(t, 41, pagination.TotalCount)
}

// seatCountingRepoStub mimics the course-row lock: the capacity check
// and the counter increment happen atomically under one mutex.
type seatCountingRepoStub struct {
	mu       sync.Mutex
	capacity int
	enrolled int
}

func (s *seatCountingRepoStub) Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enrolled >= s.capacity {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "course capacity exceeded")
	}
	s.enrolled++
	return &models.Enrollment{
		StudentID:  studentID,
		CourseID:   courseID,
		EnrolledAt: time.Now().UTC(),
		Status:     models.EnrollmentStatusEnrolled,
	}, nil
}

func (s *seatCountingRepoStub) Drop(ctx context.Context, studentID, courseID string) (*models.DropResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enrolled > 0 {
		s.enrolled--
	}
	return &models.DropResult{Dropped: true}, nil
}

func (s *seatCountingRepoStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func TestEnrollmentServiceConcurrentEnrollsNeverExceedCapacity(t *testing.T) {
	const (
		capacity = 5
		attempts = 20
	)

	repo := &seatCountingRepoStub{capacity: capacity}
	students := map[string]*models.User{}
	for i := 0; i < attempts; i++ {
		id := fmt.Sprintf("stu-%d", i)
		students[id] = approvedStudent(id)
	}
	courses := &courseReaderStub{courses: map[string]*models.Course{}}
	svc := NewEnrollmentService(repo, &userReaderStub{users: students}, courses, nil, nil, zap.NewNop())

	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Enroll(context.Background(), id, "course-1")
			results <- err
		}(fmt.Sprintf("stu-%d", i))
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, appErrors.ErrCapacityExceeded):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, attempts-capacity, rejected)
	assert.Equal(t, capacity, repo.enrolled)
}
