package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/uninorte/portal-api/pkg/config"
)

// Mailer sends portal emails over SMTP. When no credentials are
// configured the message is logged instead of sent, so development
// environments work without a mail server.
type Mailer struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

// New constructs a Mailer.
func New(cfg config.SMTPConfig, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{cfg: cfg, logger: logger}
}

// Send delivers a single HTML email.
func (m *Mailer) Send(toEmail, toName, subject, htmlBody string) error {
	if m.cfg.Username == "" || m.cfg.Password == "" {
		m.logger.Sugar().Infow("smtp not configured, skipping delivery",
			"to", toEmail, "subject", subject)
		return nil
	}

	from := m.cfg.FromEmail
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromEmail)
	}

	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + fmt.Sprintf("%s <%s>", toName, toEmail) + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)

	if err := smtp.SendMail(addr, auth, m.cfg.FromEmail, []string{toEmail}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", toEmail, err)
	}

	m.logger.Sugar().Debugw("email sent", "to", toEmail, "subject", subject)
	return nil
}
