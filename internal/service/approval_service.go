package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/uninorte/portal-api/internal/models"
	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

type approvalUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.User, error)
	ApproveWithTx(ctx context.Context, tx *sqlx.Tx, id string, role models.UserRole, code string) error
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type sequenceReserver interface {
	NextWithTx(ctx context.Context, tx *sqlx.Tx, role models.UserRole, year int) (int, error)
}

type approvalTxProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type notificationEmitter interface {
	Emit(notification models.Notification)
}

// ApprovalService transitions pending registrants to approved or
// rejected, issuing the role-scoped sequential identifier on first
// approval. Identifier issuance and the status write share one
// transaction; the sequence upsert serialises concurrent approvals
// within a (role, year) shard.
type ApprovalService struct {
	users     approvalUserRepository
	sequences sequenceReserver
	tx        approvalTxProvider
	notifier  notificationEmitter
	logger    *zap.Logger
	now       func() time.Time
}

// NewApprovalService wires approval dependencies. The notifier may be
// nil, in which case state changes are not announced.
func NewApprovalService(users approvalUserRepository, sequences sequenceReserver, tx approvalTxProvider, notifier notificationEmitter, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{
		users:     users,
		sequences: sequences,
		tx:        tx,
		notifier:  notifier,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FormatStudentCode renders a student identifier, e.g. 2025-0001.
func FormatStudentCode(year, value int) string {
	return fmt.Sprintf("%d-%04d", year, value)
}

// FormatProfessorCode renders a professor identifier, e.g. PROF-001.
func FormatProfessorCode(value int) string {
	return fmt.Sprintf("PROF-%03d", value)
}

// Approve moves the user to APROBADO. Approving an already-approved
// user is a no-op returning the stored record; no second identifier
// is ever issued.
func (s *ApprovalService) Approve(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	// Any non-APROBADO state may be approved; a previously rejected or
	// deactivated account is reinstated by the same path.
	if user.Status == models.UserStatusApproved {
		return user, nil
	}

	approved, err := s.approveTx(ctx, userID)
	if err != nil {
		// A unique violation on the code column means another approval
		// won the shard concurrently; retry once as the sequence state
		// has moved past the collision.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			s.logger.Warn("identifier collision, retrying approval", zap.String("user_id", userID))
			approved, err = s.approveTx(ctx, userID)
		}
		if err != nil {
			return nil, appErrors.FromError(err)
		}
	}

	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionUserApprove,
		Resource:   "users",
		ResourceID: &userID,
		NewValues:  []byte(fmt.Sprintf(`{"status":"%s","code":"%s"}`, approved.Status, approved.Code())),
	}); err != nil {
		s.logger.Warn("failed to record approval audit log", zap.Error(err))
	}

	s.emit(approved, models.NotificationApproved)
	return approved, nil
}

func (s *ApprovalService) approveTx(ctx context.Context, userID string) (*models.User, error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin approval")
	}

	user, err := s.users.FindByIDForUpdate(ctx, tx, userID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock user")
	}

	// Re-check under the lock: a concurrent approval may have landed
	// between the initial read and here.
	if user.Status == models.UserStatusApproved {
		tx.Rollback() //nolint:errcheck
		return user, nil
	}

	code := user.Code()
	if code == "" {
		switch user.Role {
		case models.RoleStudent:
			year := s.now().Year()
			next, err := s.sequences.NextWithTx(ctx, tx, user.Role, year)
			if err != nil {
				tx.Rollback() //nolint:errcheck
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve student code")
			}
			code = FormatStudentCode(year, next)
		case models.RoleProfessor:
			next, err := s.sequences.NextWithTx(ctx, tx, user.Role, 0)
			if err != nil {
				tx.Rollback() //nolint:errcheck
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve professor code")
			}
			code = FormatProfessorCode(next)
		}
	}

	if err := s.users.ApproveWithTx(ctx, tx, userID, user.Role, code); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit approval")
	}

	user.Status = models.UserStatusApproved
	user.ValidationToken = nil
	user.TokenExpiresAt = nil
	if code != "" {
		switch user.Role {
		case models.RoleStudent:
			user.StudentCode = &code
		case models.RoleProfessor:
			user.ProfessorCode = &code
		}
	}
	return user, nil
}

// Reject moves the user to RECHAZADO. Rejecting an already-rejected
// user re-applies the same status and succeeds.
func (s *ApprovalService) Reject(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if !user.Status.CanTransitionTo(models.UserStatusRejected) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot reject user in status %s", user.Status))
	}

	if err := s.users.UpdateStatus(ctx, userID, models.UserStatusRejected); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user status")
	}
	user.Status = models.UserStatusRejected
	user.ValidationToken = nil
	user.TokenExpiresAt = nil

	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionUserReject,
		Resource:   "users",
		ResourceID: &userID,
		NewValues:  []byte(`{"status":"RECHAZADO"}`),
	}); err != nil {
		s.logger.Warn("failed to record rejection audit log", zap.Error(err))
	}

	s.emit(user, models.NotificationRejected)
	return user, nil
}

func (s *ApprovalService) emit(user *models.User, kind models.NotificationKind) {
	if s.notifier == nil {
		return
	}
	payload := map[string]string{}
	if code := user.Code(); code != "" {
		payload["code"] = code
	}
	s.notifier.Emit(models.Notification{
		UserID:    user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: s.now(),
	})
}
