// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	"codeberg.org/oliverandrich/memberdir/internal/services/email"
	"codeberg.org/oliverandrich/memberdir/internal/services/ratelimit"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// newMailer delivers through SMTP when configured and logs otherwise.
// Production refuses to run without SMTP.
func newMailer(cfg *config.Config) (email.Mailer, error) {
	if !cfg.SMTP.Enabled() {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("%w: smtp-host", config.ErrMissingSecret)
		}
		slog.Warn("smtp not configured, codes are not delivered")
		return email.NewLogMailer(), nil
	}
	svc, err := email.NewService(&cfg.SMTP)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailer: %w", err)
	}
	return svc, nil
}

// newRegisterLimiter uses Redis when a URL is configured and the database
// otherwise. The returned func releases the Redis client.
func newRegisterLimiter(ctx context.Context, cfg *config.Config, repo *repository.Repository) (ratelimit.Limiter, func(), error) {
	limit, window := cfg.Auth.RegisterRateLimit, cfg.Auth.RegisterRateWindow
	if cfg.Redis.URL == "" {
		return ratelimit.NewSQLLimiter(repo, limit, window, nil), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("rate limiter backed by redis", "addr", opts.Addr)
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
	return ratelimit.NewRedisLimiter(client, "memberdir:register:", limit, window), closeFn, nil
}
