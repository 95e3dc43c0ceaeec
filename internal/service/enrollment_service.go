package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/uninorte/portal-api/internal/models"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

type enrollmentRepository interface {
	Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Drop(ctx context.Context, studentID, courseID string) (*models.DropResult, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type enrollmentUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// EnrollmentService orchestrates the enrollment workflow. The
// capacity-gated mutation itself runs inside the repository
// transaction; this layer validates the student and announces
// committed state changes.
type EnrollmentService struct {
	repo      enrollmentRepository
	users     enrollmentUserReader
	courses   courseReader
	notifier  notificationEmitter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, users enrollmentUserReader, courses courseReader, notifier notificationEmitter, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, users: users, courses: courses, notifier: notifier, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Enroll registers a student into a course against its capacity.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.repo.Enroll(ctx, studentID, courseID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emit(student, courseID, models.NotificationEnrolled)
	return enrollment, nil
}

// Drop withdraws a student from a course. Dropping a student who is
// not enrolled reports Dropped=false and mutates nothing.
func (s *EnrollmentService) Drop(ctx context.Context, studentID, courseID string) (*models.DropResult, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.Drop(ctx, studentID, courseID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	if result.Dropped {
		s.emit(student, courseID, models.NotificationDropped)
	}
	return result, nil
}

func (s *EnrollmentService) loadStudent(ctx context.Context, studentID string) (*models.User, error) {
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not a student")
	}
	if student.Status != models.UserStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student account is not approved")
	}
	return student, nil
}

func (s *EnrollmentService) emit(student *models.User, courseID string, kind models.NotificationKind) {
	if s.notifier == nil {
		return
	}
	payload := map[string]string{"course_id": courseID}
	if course, err := s.courses.FindByID(context.Background(), courseID); err == nil {
		payload["course_code"] = course.Code
		payload["course_name"] = course.Name
	}
	s.notifier.Emit(models.Notification{
		UserID:    student.ID,
		Email:     student.Email,
		FullName:  student.FullName,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
