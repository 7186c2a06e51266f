// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host     string
		expected bool
	}{
		{"", true},
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"app.localhost", true},
		{"sub.domain.localhost", true},
		{"example.com", false},
		{"www.example.com", false},
		{"192.168.1.1", false},
		{"localhost.com", false}, // not a real localhost
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsLocalhost(tt.host))
		})
	}
}

func TestBuildBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		expected string
	}{
		{
			name:     "localhost HTTP default port",
			cfg:      &Config{Server: ServerConfig{Host: "localhost", Port: 80}},
			expected: "http://localhost",
		},
		{
			name:     "localhost HTTP custom port",
			cfg:      &Config{Server: ServerConfig{Host: "localhost", Port: 8080}},
			expected: "http://localhost:8080",
		},
		{
			name:     "remote host default port",
			cfg:      &Config{Server: ServerConfig{Host: "members.example.org", Port: 443}},
			expected: "https://members.example.org",
		},
		{
			name:     "remote host custom port",
			cfg:      &Config{Server: ServerConfig{Host: "members.example.org", Port: 8443}},
			expected: "https://members.example.org:8443",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildBaseURL(tt.cfg))
		})
	}
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Server: ServerConfig{Environment: "production"}}).IsProduction())
	assert.True(t, (&Config{Server: ServerConfig{Environment: "Production"}}).IsProduction())
	assert.False(t, (&Config{Server: ServerConfig{Environment: "development"}}).IsProduction())
	assert.False(t, (&Config{}).IsProduction())
}

func TestEnsureSecrets_Development(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Environment: "development"}}
	cfg.Session.HashKey = "keep-me"

	require.NoError(t, cfg.EnsureSecrets())

	assert.Len(t, cfg.Session.JWTSecret, 64)
	assert.Len(t, cfg.Auth.OTPPepper, 64)
	assert.Equal(t, "keep-me", cfg.Session.HashKey)
}

func TestEnsureSecrets_Production(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Environment: "production"}}
	cfg.Session.JWTSecret = "aa"
	cfg.Session.HashKey = "bb"

	err := cfg.EnsureSecrets()

	require.ErrorIs(t, err, ErrMissingSecret)
	assert.Contains(t, err.Error(), "otp-pepper")
}

func TestSMTPConfig_Enabled(t *testing.T) {
	assert.False(t, SMTPConfig{}.Enabled())
	assert.True(t, SMTPConfig{Host: "smtp.example.com"}.Enabled())
}

func TestFlags(t *testing.T) {
	flags := ServerFlags()

	// Should have all expected flags
	assert.NotEmpty(t, flags)

	flagNames := make(map[string]bool)
	for _, f := range flags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}

	assert.True(t, flagNames["host"], "should have host flag")
	assert.True(t, flagNames["port"], "should have port flag")
	assert.True(t, flagNames["log-level"], "should have log-level flag")
	assert.True(t, flagNames["database-dsn"], "should have database-dsn flag")
	assert.True(t, flagNames["jwt-secret"], "should have jwt-secret flag")
	assert.True(t, flagNames["otp-pepper"], "should have otp-pepper flag")
	assert.True(t, flagNames["redis-url"], "should have redis-url flag")
	assert.True(t, flagNames["pending-signup-ttl"], "should have pending-signup-ttl flag")
}

func TestNewFromCLI(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: ServerFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			// Verify defaults are applied
			assert.NotNil(t, cfg)
			assert.Equal(t, "localhost", cfg.Server.Host)
			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "development", cfg.Server.Environment)
			assert.Equal(t, "info", cfg.Log.Level)
			assert.Equal(t, "text", cfg.Log.Format)
			assert.Equal(t, "refresh_token", cfg.Session.CookieName)
			assert.Equal(t, 15*time.Minute, cfg.Session.AccessTTL)
			assert.Equal(t, 7*24*time.Hour, cfg.Session.RefreshTTL)
			assert.Equal(t, 10, cfg.Auth.RegisterRateLimit)
			assert.Equal(t, time.Hour, cfg.Auth.RegisterRateWindow)
			assert.Equal(t, 7*24*time.Hour, cfg.Reaper.PendingSignupTTL)
			assert.Equal(t, 15*24*time.Hour, cfg.Reaper.ExpiredRetention)
			assert.Empty(t, cfg.Redis.URL)

			// BaseURL should be auto-generated
			assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)

			return nil
		},
	}

	err := app.Run(context.Background(), []string{"test"})
	assert.NoError(t, err)
}

func TestNewFromCLI_WithCustomValues(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: ServerFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.Equal(t, "0.0.0.0", cfg.Server.Host)
			assert.Equal(t, 9000, cfg.Server.Port)
			assert.Equal(t, "https://example.com", cfg.Server.BaseURL)
			assert.Equal(t, "debug", cfg.Log.Level)
			assert.Equal(t, "./data/test.db", cfg.Database.DSN)
			assert.Equal(t, 30*time.Minute, cfg.Auth.RegisterRateWindow)
			assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
			assert.True(t, cfg.IsProduction())

			return nil
		},
	}

	args := []string{
		"test",
		"--host", "0.0.0.0",
		"--port", "9000",
		"--base-url", "https://example.com",
		"--log-level", "debug",
		"--database-dsn", "./data/test.db",
		"--register-rate-window", "30m",
		"--redis-url", "redis://localhost:6379/0",
		"--environment", "production",
	}
	err := app.Run(context.Background(), args)
	assert.NoError(t, err)
}
