// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import (
	"context"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/i18n"
	"github.com/wneessen/go-mail"
)

// CodeValidMinutes is the lifetime of a mailed code as shown to the recipient.
const CodeValidMinutes = 10

// Mailer delivers one-time codes.
type Mailer interface {
	SendSignupCode(ctx context.Context, to, code string) error
	SendEmailChangeCode(ctx context.Context, to, code string) error
}

// Service sends mail over SMTP.
type Service struct {
	cfg *config.SMTPConfig
}

// NewService creates a new SMTP mailer.
func NewService(cfg *config.SMTPConfig) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	return &Service{cfg: cfg}, nil
}

// SendSignupCode mails the code that activates a new account.
func (s *Service) SendSignupCode(ctx context.Context, to, code string) error {
	return s.sendCode(ctx, to, code, "email_signup_code_subject", "email_signup_code_body")
}

// SendEmailChangeCode mails the code that confirms a new address.
func (s *Service) SendEmailChangeCode(ctx context.Context, to, code string) error {
	return s.sendCode(ctx, to, code, "email_change_code_subject", "email_change_code_body")
}

func (s *Service) sendCode(ctx context.Context, to, code, subjectID, bodyID string) error {
	subject := i18n.T(ctx, subjectID)
	body := i18n.TData(ctx, bodyID, map[string]any{
		"Code":    code,
		"Minutes": CodeValidMinutes,
	})

	msg, err := s.newMessage(to, subject, body)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

func (s *Service) newMessage(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// send delivers msg via SMTP using go-mail.
func (s *Service) send(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
	}

	// Implicit TLS on 465, STARTTLS elsewhere
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

// LogMailer records that a mail would have been sent without sending it.
// Used when no SMTP host is configured. The code itself is never logged.
type LogMailer struct{}

// NewLogMailer creates a LogMailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// SendSignupCode logs the signup mail.
func (m *LogMailer) SendSignupCode(ctx context.Context, to, _ string) error {
	slog.InfoContext(ctx, "email_not_sent", "purpose", "signup", "to", to)
	return nil
}

// SendEmailChangeCode logs the email change mail.
func (m *LogMailer) SendEmailChangeCode(ctx context.Context, to, _ string) error {
	slog.InfoContext(ctx, "email_not_sent", "purpose", "email_change", "to", to)
	return nil
}
