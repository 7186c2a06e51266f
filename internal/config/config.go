// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

// ErrMissingSecret is returned when a production deployment lacks a required secret.
var ErrMissingSecret = errors.New("missing required secret")

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Session  SessionConfig
	SMTP     SMTPConfig
	Redis    RedisConfig
	Reaper   ReaperConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int    // in MB
	Environment string // development, production
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

type AuthConfig struct { //nolint:govet // fieldalignment not critical
	OTPPepper          string        // hex-encoded HMAC key for OTP hashes
	RegisterRateLimit  int           // registrations per window per address+email
	RegisterRateWindow time.Duration // fixed window length
}

type SessionConfig struct { //nolint:govet // fieldalignment not critical
	JWTSecret  string        // hex-encoded HS256 key
	AccessTTL  time.Duration // access token lifetime
	RefreshTTL time.Duration // refresh token and cookie lifetime
	CookieName string        // refresh cookie name
	HashKey    string        // 32-byte hex string for HMAC signing
	BlockKey   string        // 32-byte hex string for AES encryption (optional)
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// Enabled reports whether SMTP delivery is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	URL string // empty selects the database-backed rate limiter
}

type ReaperConfig struct {
	PendingSignupTTL time.Duration // pending signups older than this expire
	ExpiredRetention time.Duration // expired accounts older than this are purged
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
			Environment: cmd.String("environment"),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		Auth: AuthConfig{
			OTPPepper:          cmd.String("otp-pepper"),
			RegisterRateLimit:  int(cmd.Int("register-rate-limit")),
			RegisterRateWindow: cmd.Duration("register-rate-window"),
		},
		Session: SessionConfig{
			JWTSecret:  cmd.String("jwt-secret"),
			AccessTTL:  cmd.Duration("access-token-ttl"),
			RefreshTTL: cmd.Duration("refresh-token-ttl"),
			CookieName: cmd.String("refresh-cookie-name"),
			HashKey:    cmd.String("session-hash-key"),
			BlockKey:   cmd.String("session-block-key"),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		Redis: RedisConfig{
			URL: cmd.String("redis-url"),
		},
		Reaper: ReaperConfig{
			PendingSignupTTL: cmd.Duration("pending-signup-ttl"),
			ExpiredRetention: cmd.Duration("expired-retention"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}

	return cfg
}

// EnsureSecrets fills empty secrets with random per-process keys outside
// production. In production every secret must be configured.
func (c *Config) EnsureSecrets() error {
	secrets := []struct {
		name  string
		value *string
	}{
		{"jwt-secret", &c.Session.JWTSecret},
		{"session-hash-key", &c.Session.HashKey},
		{"otp-pepper", &c.Auth.OTPPepper},
	}

	for _, s := range secrets {
		if *s.value != "" {
			continue
		}
		if c.IsProduction() {
			return fmt.Errorf("%w: %s", ErrMissingSecret, s.name)
		}
		key, err := randomHex(32)
		if err != nil {
			return fmt.Errorf("generating %s: %w", s.name, err)
		}
		*s.value = key
	}

	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port

	scheme := "https"
	if IsLocalhost(host) {
		scheme = "http"
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

// Flags returns the flags shared by all subcommands.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_LEVEL"), toml.TOML("log.level", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_FORMAT"), toml.TOML("log.format", configFile)),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/app.db",
			Usage:   "Database DSN",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DATABASE_DSN"), toml.TOML("database.dsn", configFile)),
		},
		&cli.StringFlag{
			Name:    "environment",
			Value:   "development",
			Usage:   "Deployment environment (development, production)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ENVIRONMENT"), toml.TOML("server.environment", configFile)),
		},
		&cli.DurationFlag{
			Name:    "pending-signup-ttl",
			Value:   7 * 24 * time.Hour,
			Usage:   "Age after which unverified signups expire",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PENDING_SIGNUP_TTL"), toml.TOML("reaper.pending_signup_ttl", configFile)),
		},
		&cli.DurationFlag{
			Name:    "expired-retention",
			Value:   15 * 24 * time.Hour,
			Usage:   "Time expired accounts are kept before purge",
			Sources: cli.NewValueSourceChain(cli.EnvVar("EXPIRED_RETENTION"), toml.TOML("reaper.expired_retention", configFile)),
		},
	}
}

// ServerFlags returns the flags used by the HTTP server.
func ServerFlags() []cli.Flag {
	return append(Flags(),
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HOST"), toml.TOML("server.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PORT"), toml.TOML("server.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL for the application",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BASE_URL"), toml.TOML("server.base_url", configFile)),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: cli.NewValueSourceChain(cli.EnvVar("MAX_BODY_SIZE"), toml.TOML("server.max_body_size", configFile)),
		},
		// Auth flags
		&cli.StringFlag{
			Name:    "otp-pepper",
			Usage:   "OTP hash pepper (hex, auto-generated if empty in dev)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_PEPPER"), toml.TOML("auth.otp_pepper", configFile)),
		},
		&cli.IntFlag{
			Name:    "register-rate-limit",
			Value:   10,
			Usage:   "Registration attempts allowed per window per address and email",
			Sources: cli.NewValueSourceChain(cli.EnvVar("REGISTER_RATE_LIMIT"), toml.TOML("auth.register_rate_limit", configFile)),
		},
		&cli.DurationFlag{
			Name:    "register-rate-window",
			Value:   time.Hour,
			Usage:   "Registration rate limit window",
			Sources: cli.NewValueSourceChain(cli.EnvVar("REGISTER_RATE_WINDOW"), toml.TOML("auth.register_rate_window", configFile)),
		},
		// Session flags
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "Token signing key (hex, auto-generated if empty in dev)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("JWT_SECRET"), toml.TOML("session.jwt_secret", configFile)),
		},
		&cli.DurationFlag{
			Name:    "access-token-ttl",
			Value:   15 * time.Minute,
			Usage:   "Access token lifetime",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ACCESS_TOKEN_TTL"), toml.TOML("session.access_ttl", configFile)),
		},
		&cli.DurationFlag{
			Name:    "refresh-token-ttl",
			Value:   7 * 24 * time.Hour,
			Usage:   "Refresh token lifetime",
			Sources: cli.NewValueSourceChain(cli.EnvVar("REFRESH_TOKEN_TTL"), toml.TOML("session.refresh_ttl", configFile)),
		},
		&cli.StringFlag{
			Name:    "refresh-cookie-name",
			Value:   "refresh_token",
			Usage:   "Refresh token cookie name",
			Sources: cli.NewValueSourceChain(cli.EnvVar("REFRESH_COOKIE_NAME"), toml.TOML("session.cookie_name", configFile)),
		},
		&cli.StringFlag{
			Name:    "session-hash-key",
			Usage:   "Cookie hash key (32-byte hex, auto-generated if empty in dev)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SESSION_HASH_KEY"), toml.TOML("session.hash_key", configFile)),
		},
		&cli.StringFlag{
			Name:    "session-block-key",
			Usage:   "Cookie block key for encryption (32-byte hex, optional)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SESSION_BLOCK_KEY"), toml.TOML("session.block_key", configFile)),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP host (mail is logged and dropped if empty)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_HOST"), toml.TOML("smtp.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP port",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PORT"), toml.TOML("smtp.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_USERNAME"), toml.TOML("smtp.username", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PASSWORD"), toml.TOML("smtp.password", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM"), toml.TOML("smtp.from", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Usage:   "Sender display name",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM_NAME"), toml.TOML("smtp.from_name", configFile)),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_TLS"), toml.TOML("smtp.tls", configFile)),
		},
		// Redis flags
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for rate limiting (database is used if empty)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("REDIS_URL"), toml.TOML("redis.url", configFile)),
		},
	)
}
