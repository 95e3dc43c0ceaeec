package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/uninorte/portal-api/internal/models"
)

func newSequenceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSequenceRepositoryNextWithTx(t *testing.T) {
	db, mock, cleanup := newSequenceRepoMock(t)
	defer cleanup()
	repo := NewSequenceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO identifier_sequences (role, year, last_value) VALUES ($1, $2, 1)")).
		WithArgs(models.RoleStudent, 2026).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(5))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	next, err := repo.NextWithTx(context.Background(), tx, models.RoleStudent, 2026)
	require.NoError(t, err)
	require.Equal(t, 5, next)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceRepositoryNextWithTxProfessorShard(t *testing.T) {
	db, mock, cleanup := newSequenceRepoMock(t)
	defer cleanup()
	repo := NewSequenceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO identifier_sequences (role, year, last_value) VALUES ($1, $2, 1)")).
		WithArgs(models.RoleProfessor, GlobalYear).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	next, err := repo.NextWithTx(context.Background(), tx, models.RoleProfessor, GlobalYear)
	require.NoError(t, err)
	require.Equal(t, 1, next)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceRepositoryCurrent(t *testing.T) {
	db, mock, cleanup := newSequenceRepoMock(t)
	defer cleanup()
	repo := NewSequenceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(last_value), 0) FROM identifier_sequences WHERE role = $1 AND year = $2")).
		WithArgs(models.RoleStudent, 2026).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(12))

	current, err := repo.Current(context.Background(), models.RoleStudent, 2026)
	require.NoError(t, err)
	require.Equal(t, 12, current)
	require.NoError(t, mock.ExpectationsWereMet())
}
