// Package mailer delivers plain-text messages to a single recipient.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"github.com/notely/notely-go/internal/config"
)

// ErrDelivery wraps every failure to hand a message to the mail server.
var ErrDelivery = errors.New("email delivery failed")

// Dispatcher sends an email with subject and body to an address.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTP sends mail through an authenticated SMTP relay.
type SMTP struct {
	client *mail.Client
	from   string
}

func NewSMTP(cfg config.SMTPConfig) (*SMTP, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}
	return &SMTP{client: client, from: cfg.From}, nil
}

func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("%w: invalid sender: %v", ErrDelivery, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("%w: invalid recipient: %v", ErrDelivery, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// Log writes messages to the logger instead of sending them. It is the
// development default when no SMTP host is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, to, subject, body string) error {
	l.logger.InfoContext(ctx, "mail not sent (log mailer)", "to", to, "subject", subject, "body", body)
	return nil
}

// New picks the SMTP mailer when a host is configured and the log mailer
// otherwise. Production refuses to run without SMTP.
func New(cfg config.Config, logger *slog.Logger) (Dispatcher, error) {
	if cfg.SMTP.Host != "" {
		return NewSMTP(cfg.SMTP)
	}
	if cfg.IsProduction() {
		return nil, errors.New("SMTP_HOST must be set in production environment")
	}
	logger.Warn("SMTP_HOST not set, emails will be logged instead of sent")
	return NewLog(logger), nil
}
