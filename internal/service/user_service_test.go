package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uninorte/portal-api/internal/models"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

type userRepoStub struct {
	byID          map[string]*models.User
	byEmail       map[string]*models.User
	created       []*models.User
	updated       []*models.User
	statusUpdates map[string]models.UserStatus
	deleted       []string
	auditLogs     []*models.AuditLog
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{
		byID:          map[string]*models.User{},
		byEmail:       map[string]*models.User{},
		statusUpdates: map[string]models.UserStatus{},
	}
}

func (s *userRepoStub) add(user *models.User) {
	s.byID[user.ID] = user
	s.byEmail[user.Email] = user
}

func (s *userRepoStub) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, user := range s.byID {
		out = append(out, *user)
	}
	return out, len(out), nil
}

func (s *userRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (s *userRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := s.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (s *userRepoStub) Create(ctx context.Context, user *models.User) error {
	s.created = append(s.created, user)
	s.add(user)
	return nil
}

func (s *userRepoStub) Update(ctx context.Context, user *models.User) error {
	s.updated = append(s.updated, user)
	s.add(user)
	return nil
}

func (s *userRepoStub) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	s.statusUpdates[id] = status
	return nil
}

func (s *userRepoStub) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *userRepoStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.auditLogs = append(s.auditLogs, log)
	return nil
}

func userFixture(repo *userRepoStub) *UserService {
	return NewUserService(repo, nil, zap.NewNop())
}

func TestUserServiceCreateDefaultsToPending(t *testing.T) {
	repo := newUserRepoStub()
	svc := userFixture(repo)

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "Nuevo@Uninorte.edu",
		FullName: "Nuevo Profesor",
		Role:     "PROFESSOR",
		Password: "secret123",
	}, "admin-1", models.LoginRequest{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusPending, user.Status)
	assert.Equal(t, "nuevo@uninorte.edu", user.Email)
	assert.NotEmpty(t, user.ID)
	assert.NotEmpty(t, user.PasswordHash)

	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
	assert.Equal(t, "10.0.0.1", repo.auditLogs[0].IPAddress)
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo := newUserRepoStub()
	repo.add(&models.User{ID: "usr-1", Email: "ana@uninorte.edu", Role: models.RoleStudent})
	svc := userFixture(repo)

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "ana@uninorte.edu",
		FullName: "Ana Diaz",
		Role:     "STUDENT",
		Password: "secret123",
	}, "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestUserServiceCreateInvalidRole(t *testing.T) {
	svc := userFixture(newUserRepoStub())

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "ana@uninorte.edu",
		FullName: "Ana Diaz",
		Role:     "WIZARD",
		Password: "secret123",
	}, "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestUserServiceUpdateProfile(t *testing.T) {
	repo := newUserRepoStub()
	repo.add(&models.User{ID: "usr-1", Email: "ana@uninorte.edu", FullName: "Ana", Role: models.RoleStudent, Status: models.UserStatusPending})
	svc := userFixture(repo)

	user, err := svc.Update(context.Background(), "usr-1", UpdateUserRequest{
		FullName: "Ana Maria Diaz",
		Role:     "STUDENT",
	}, "admin-1", models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria Diaz", user.FullName)
	require.Len(t, repo.updated, 1)
	require.Len(t, repo.auditLogs, 1)
}

func TestUserServiceUpdateAllowsRoleChangeBeforeCodeIssued(t *testing.T) {
	repo := newUserRepoStub()
	repo.add(&models.User{ID: "usr-1", Email: "ana@uninorte.edu", FullName: "Ana", Role: models.RoleStudent, Status: models.UserStatusPending})
	svc := userFixture(repo)

	user, err := svc.Update(context.Background(), "usr-1", UpdateUserRequest{
		FullName: "Ana Diaz",
		Role:     "PROFESSOR",
	}, "admin-1", models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleProfessor, user.Role)
}

func TestUserServiceUpdateBlocksRoleChangeAfterCodeIssued(t *testing.T) {
	code := "2026-0001"
	repo := newUserRepoStub()
	repo.add(&models.User{ID: "usr-1", Email: "ana@uninorte.edu", FullName: "Ana", Role: models.RoleStudent, Status: models.UserStatusApproved, StudentCode: &code})
	svc := userFixture(repo)

	_, err := svc.Update(context.Background(), "usr-1", UpdateUserRequest{
		FullName: "Ana Diaz",
		Role:     "PROFESSOR",
	}, "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	assert.Empty(t, repo.updated)
}

func TestUserServiceUpdateStatusSuspends(t *testing.T) {
	repo := newUserRepoStub()
	repo.add(&models.User{ID: "usr-1", Email: "ana@uninorte.edu", Role: models.RoleStudent, Status: models.UserStatusApproved})
	svc := userFixture(repo)

	user, err := svc.UpdateStatus(context.Background(), "usr-1", UpdateStatusRequest{Status: "SUSPENDIDO"}, "admin-1", models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusSuspended, user.Status)
	assert.Equal(t, models.UserStatusSuspended, repo.statusUpdates["usr-1"])
	require.Len(t, repo.auditLogs, 1)
}

func TestUserServiceUpdateStatusRejectsApprovalTargets(t *testing.T) {
	repo := newUserRepoStub()
	repo.add(&models.User{ID: "usr-1", Email: "ana@uninorte.edu", Role: models.RoleStudent, Status: models.UserStatusSuspended})
	svc := userFixture(repo)

	for _, target := range []string{"APROBADO", "RECHAZADO"} {
		_, err := svc.UpdateStatus(context.Background(), "usr-1", UpdateStatusRequest{Status: target}, "admin-1", models.LoginRequest{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
	}
	assert.Empty(t, repo.statusUpdates)
}

func TestUserServiceUpdateStatusInvalidTransition(t *testing.T) {
	repo := newUserRepoStub()
	repo.add(&models.User{ID: "usr-1", Email: "ana@uninorte.edu", Role: models.RoleStudent, Status: models.UserStatusPending})
	svc := userFixture(repo)

	_, err := svc.UpdateStatus(context.Background(), "usr-1", UpdateStatusRequest{Status: "SUSPENDIDO"}, "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, repo.statusUpdates)
}

func TestUserServiceDeleteIsSoft(t *testing.T) {
	repo := newUserRepoStub()
	repo.add(&models.User{ID: "usr-1", Email: "ana@uninorte.edu", Role: models.RoleStudent, Status: models.UserStatusApproved})
	svc := userFixture(repo)

	require.NoError(t, svc.Delete(context.Background(), "usr-1", "admin-1", models.LoginRequest{}))
	require.Len(t, repo.deleted, 1)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserDelete, repo.auditLogs[0].Action)
}

func TestUserServiceDeleteMissingUser(t *testing.T) {
	svc := userFixture(newUserRepoStub())

	err := svc.Delete(context.Background(), "ghost", "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
