// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import (
	"context"
	"net"
	"testing"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/i18n"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func validSMTPConfig() *config.SMTPConfig {
	return &config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "testuser",
		Password: "testpass",
		From:     "noreply@example.com",
		FromName: "Member Directory",
		TLS:      true,
	}
}

func TestNewService(t *testing.T) {
	svc, err := NewService(validSMTPConfig())

	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestNewService_MissingHost(t *testing.T) {
	cfg := validSMTPConfig()
	cfg.Host = ""

	_, err := NewService(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP host is required")
}

func TestNewService_MissingFrom(t *testing.T) {
	cfg := validSMTPConfig()
	cfg.From = ""

	_, err := NewService(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP from address is required")
}

func TestNewMessage(t *testing.T) {
	svc, err := NewService(validSMTPConfig())
	require.NoError(t, err)

	msg, err := svc.newMessage("jane@x.com", "Your code", "123456")
	require.NoError(t, err)

	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"jane@x.com"}, rcpts)
	assert.Equal(t, []string{"Your code"}, msg.GetGenHeader(mail.HeaderSubject))
	from := msg.GetFrom()
	require.Len(t, from, 1)
	assert.Equal(t, "noreply@example.com", from[0].Address)
	assert.Equal(t, "Member Directory", from[0].Name)
}

func TestNewMessage_WithoutFromName(t *testing.T) {
	cfg := validSMTPConfig()
	cfg.FromName = ""
	svc, err := NewService(cfg)
	require.NoError(t, err)

	msg, err := svc.newMessage("jane@x.com", "s", "b")
	require.NoError(t, err)

	from := msg.GetFrom()
	require.Len(t, from, 1)
	assert.Empty(t, from[0].Name)
}

func TestNewMessage_InvalidRecipient(t *testing.T) {
	svc, err := NewService(validSMTPConfig())
	require.NoError(t, err)

	_, err = svc.newMessage("not an address", "s", "b")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "setting to address")
}

func TestSendSignupCode_ConnectionRefused(t *testing.T) {
	require.NoError(t, i18n.Init())

	// Reserve a port and release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := validSMTPConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	cfg.TLS = false
	svc, err := NewService(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = svc.SendSignupCode(ctx, "jane@x.com", "123456")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sending email")
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer()

	assert.NoError(t, m.SendSignupCode(context.Background(), "jane@x.com", "123456"))
	assert.NoError(t, m.SendEmailChangeCode(context.Background(), "jane@x.com", "123456"))
}

func TestMailerImplementations(t *testing.T) {
	var _ Mailer = (*Service)(nil)
	var _ Mailer = (*LogMailer)(nil)
}
