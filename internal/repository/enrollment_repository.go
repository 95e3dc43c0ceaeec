package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uninorte/portal-api/internal/models"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

const enrollmentColumns = `id, student_id, course_id, enrolled_at, dropped_at, status`

// EnrollmentRepository owns the enrollment rows and the course seat
// counter. Enroll and Drop are the only code paths that mutate
// current_students, and they do so inside a single transaction with
// the course row locked, so count(INSCRITO) == current_students holds
// under any interleaving.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Enroll registers the student into the course, reusing a previously
// dropped row when one exists. The course row lock serialises
// concurrent enrollments into the same course; capacity and duplicate
// checks happen under that lock.
func (r *EnrollmentRepository) Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enroll: %w", err)
	}

	var course models.Course
	if err := tx.GetContext(ctx, &course, `SELECT id, max_students, current_students, status FROM courses WHERE id = $1 FOR UPDATE`, courseID); err != nil {
		tx.Rollback() //nolint:errcheck
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, fmt.Errorf("lock course: %w", err)
	}
	if course.Status != models.CourseStatusActive {
		tx.Rollback() //nolint:errcheck
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course not open for enrollment")
	}
	if !course.HasCapacity() {
		tx.Rollback() //nolint:errcheck
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "course capacity exceeded")
	}

	now := time.Now().UTC()
	enrollment := models.Enrollment{
		StudentID:  studentID,
		CourseID:   courseID,
		EnrolledAt: now,
		Status:     models.EnrollmentStatusEnrolled,
	}

	var existing models.Enrollment
	err = tx.GetContext(ctx, &existing, fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND course_id = $2 FOR UPDATE`, enrollmentColumns), studentID, courseID)
	switch {
	case err == nil:
		if existing.Status == models.EnrollmentStatusEnrolled {
			tx.Rollback() //nolint:errcheck
			return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "student already enrolled in course")
		}
		if !existing.Status.CanTransitionTo(models.EnrollmentStatusEnrolled) {
			tx.Rollback() //nolint:errcheck
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot re-enroll from status %s", existing.Status))
		}
		enrollment.ID = existing.ID
		if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET status = $2, enrolled_at = $3, dropped_at = NULL WHERE id = $1`, existing.ID, models.EnrollmentStatusEnrolled, now); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, fmt.Errorf("reactivate enrollment: %w", err)
		}
	case err == sql.ErrNoRows:
		enrollment.ID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `INSERT INTO enrollments (id, student_id, course_id, enrolled_at, dropped_at, status) VALUES ($1, $2, $3, $4, NULL, $5)`,
			enrollment.ID, studentID, courseID, now, models.EnrollmentStatusEnrolled); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, fmt.Errorf("create enrollment: %w", err)
		}
	default:
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE courses SET current_students = current_students + 1, updated_at = $2 WHERE id = $1`, courseID, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("increment course seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enroll: %w", err)
	}
	return &enrollment, nil
}

// Drop withdraws the student from the course. A missing or
// not-enrolled row is a no-op result, not an error, and the seat
// counter is left untouched. The decrement is guarded against
// underflow so the counter never goes negative.
//
// The course row is locked before the enrollment row, the same order
// Enroll uses; taking them the other way around deadlocks a
// concurrent enroll and drop on the same pair.
func (r *EnrollmentRepository) Drop(ctx context.Context, studentID, courseID string) (*models.DropResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin drop: %w", err)
	}

	var courseRef struct {
		ID string `db:"id"`
	}
	if err := tx.GetContext(ctx, &courseRef, `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, courseID); err != nil {
		tx.Rollback() //nolint:errcheck
		if err == sql.ErrNoRows {
			return &models.DropResult{Dropped: false}, nil
		}
		return nil, fmt.Errorf("lock course: %w", err)
	}

	var existing models.Enrollment
	err = tx.GetContext(ctx, &existing, fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND course_id = $2 FOR UPDATE`, enrollmentColumns), studentID, courseID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		if err == sql.ErrNoRows {
			return &models.DropResult{Dropped: false}, nil
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	if existing.Status != models.EnrollmentStatusEnrolled {
		tx.Rollback() //nolint:errcheck
		return &models.DropResult{Dropped: false}, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET status = $2, dropped_at = $3 WHERE id = $1`, existing.ID, models.EnrollmentStatusDropped, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("drop enrollment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE courses SET current_students = current_students - 1, updated_at = $2 WHERE id = $1 AND current_students > 0`, courseID, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("decrement course seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drop: %w", err)
	}

	existing.Status = models.EnrollmentStatusDropped
	existing.DroppedAt = &now
	return &models.DropResult{Dropped: true, Enrollment: &existing}, nil
}

// FindByStudentAndCourse returns the single row for the pair.
func (r *EnrollmentRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "u.full_name",
		"course_code":  "c.code",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.enrolled_at, e.dropped_at, e.status,
        u.full_name AS student_name, COALESCE(u.student_code, '') AS student_code, c.code AS course_code, c.name AS course_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// CountEnrolled returns the number of INSCRITO rows for a course.
// Always equal to the course's current_students.
func (r *EnrollmentRepository) CountEnrolled(ctx context.Context, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID, models.EnrollmentStatusEnrolled); err != nil {
		return 0, fmt.Errorf("count enrolled: %w", err)
	}
	return count, nil
}
