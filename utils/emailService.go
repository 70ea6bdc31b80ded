package utils

import (
	"academy/automation"
	"academy/config"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const sendGridHost = "https://api.sendgrid.com"

// SendGridMailer delivers transactional email through the SendGrid v3 API.
type SendGridMailer struct {
	apiKey    string
	host      string
	fromEmail string
	fromName  string
	log       *zap.Logger
}

func NewSendGridMailer(apiKey, fromEmail, fromName string, log *zap.Logger) *SendGridMailer {
	return &SendGridMailer{
		apiKey:    apiKey,
		host:      sendGridHost,
		fromEmail: fromEmail,
		fromName:  fromName,
		log:       log.Named("sendgrid"),
	}
}

// Send posts one message. Any non-2xx answer is returned as an error so the
// dispatcher can record the failure.
func (m *SendGridMailer) Send(ctx context.Context, email automation.Email) error {
	from := mail.NewEmail(m.fromName, m.fromEmail)
	to := mail.NewEmail(email.ToName, email.To)
	message := mail.NewSingleEmail(from, email.Subject, to, plainText(email.HTML), email.HTML)

	request := sendgrid.GetRequest(m.apiKey, "/v3/mail/send", m.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	resp, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid rejected message: status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}

	m.log.Debug("email sent", zap.String("to", email.To), zap.String("subject", email.Subject), zap.Int("status", resp.StatusCode))
	return nil
}

// LogMailer only logs messages. Used when no SendGrid key is configured.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log.Named("mailer")}
}

func (m *LogMailer) Send(_ context.Context, email automation.Email) error {
	m.log.Info("email not delivered, no transport configured",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
	)
	return nil
}

// NewMailer picks the transport from configuration.
func NewMailer(cfg *config.Config, log *zap.Logger) automation.Mailer {
	if cfg.SendGridAPIKey == "" {
		return NewLogMailer(log)
	}
	return NewSendGridMailer(cfg.SendGridAPIKey, cfg.EmailSender, cfg.EmailSenderName, log)
}

var (
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern = regexp.MustCompile(`[ \t]+`)
	blankLines   = regexp.MustCompile(`\n\s*\n+`)
)

// plainText derives the text/plain alternative from the HTML body.
func plainText(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	text = spacePattern.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
