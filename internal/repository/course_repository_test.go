package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/uninorte/portal-api/internal/models"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

func newCourseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseRepositoryUpdateAppliesCatalogFields(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET name = ?, description = ?, degree_id = ?, credits = ?, max_students = ?, status = ?, updated_at = ? WHERE id = ? AND current_students <= ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), &models.Course{
		ID:          "course-1",
		Name:        "Intro to CS",
		Credits:     3,
		MaxStudents: 30,
		Status:      models.CourseStatusActive,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryUpdateRefusesCapacityBelowEnrollment(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	// An enrollment committed after the service read the course leaves
	// current_students above the requested ceiling; the guarded UPDATE
	// matches no rows.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET name = ?, description = ?, degree_id = ?, credits = ?, max_students = ?, status = ?, updated_at = ? WHERE id = ? AND current_students <= ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Course{
		ID:          "course-1",
		Name:        "Intro to CS",
		Credits:     3,
		MaxStudents: 20,
		Status:      models.CourseStatusActive,
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	require.NoError(t, mock.ExpectationsWereMet())
}
