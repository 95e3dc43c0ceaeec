package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uninorte/portal-api/internal/models"
	"github.com/uninorte/portal-api/pkg/config"
	"github.com/uninorte/portal-api/pkg/jobs"
)

type mailSender interface {
	Send(toEmail, toName, subject, htmlBody string) error
}

// NotificationService delivers state-change notices asynchronously.
// Emit never blocks the calling workflow: messages are handed to an
// in-process queue and delivery failures are retried there, then
// dropped with a log entry. A lost notification never rolls back the
// transition that produced it.
type NotificationService struct {
	queue  *jobs.Queue
	mailer mailSender
	logger *zap.Logger
}

// NewNotificationService builds the dispatcher and its worker queue.
func NewNotificationService(mailer mailSender, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{mailer: mailer, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the dispatcher workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the dispatcher.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Emit enqueues a notification. Errors are logged, never returned;
// emitting is fire-and-forget by contract.
func (s *NotificationService) Emit(notification models.Notification) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(notification.Kind),
		Payload: notification,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Sugar().Warnw("notification dropped", "kind", notification.Kind, "user_id", notification.UserID, "error", err)
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	notification, ok := job.Payload.(models.Notification)
	if !ok {
		s.logger.Sugar().Errorw("invalid notification payload", "job_id", job.ID)
		return nil
	}

	subject, body := s.render(notification)
	if err := s.mailer.Send(notification.Email, notification.FullName, subject, body); err != nil {
		return fmt.Errorf("deliver %s notification: %w", notification.Kind, err)
	}
	return nil
}

func (s *NotificationService) render(n models.Notification) (string, string) {
	switch n.Kind {
	case models.NotificationApproved:
		code := n.Payload["code"]
		return "Cuenta aprobada - Portal Universitario",
			fmt.Sprintf(`<p>Hola %s,</p><p>Tu cuenta ha sido aprobada. Tu identificador es <strong>%s</strong>.</p>`, n.FullName, code)
	case models.NotificationRejected:
		return "Solicitud rechazada - Portal Universitario",
			fmt.Sprintf(`<p>Hola %s,</p><p>Lamentamos informarte que tu solicitud de registro fue rechazada.</p>`, n.FullName)
	case models.NotificationEnrolled:
		return "Inscripción confirmada - Portal Universitario",
			fmt.Sprintf(`<p>Hola %s,</p><p>Tu inscripción en el curso <strong>%s</strong> fue registrada.</p>`, n.FullName, n.Payload["course_name"])
	case models.NotificationDropped:
		return "Retiro confirmado - Portal Universitario",
			fmt.Sprintf(`<p>Hola %s,</p><p>Tu retiro del curso <strong>%s</strong> fue registrado.</p>`, n.FullName, n.Payload["course_name"])
	}
	return "Notificación - Portal Universitario", fmt.Sprintf(`<p>Hola %s,</p><p>Hay novedades en tu cuenta.</p>`, n.FullName)
}
