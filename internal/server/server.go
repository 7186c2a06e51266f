// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package server wires the services into an echo server and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/database"
	"codeberg.org/oliverandrich/memberdir/internal/handlers"
	"codeberg.org/oliverandrich/memberdir/internal/i18n"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	authsvc "codeberg.org/oliverandrich/memberdir/internal/services/auth"
	"codeberg.org/oliverandrich/memberdir/internal/services/email"
	"codeberg.org/oliverandrich/memberdir/internal/services/emailchange"
	"codeberg.org/oliverandrich/memberdir/internal/services/otp"
	"codeberg.org/oliverandrich/memberdir/internal/services/ratelimit"
	"codeberg.org/oliverandrich/memberdir/internal/services/session"
	"codeberg.org/oliverandrich/memberdir/internal/services/signup"
	"codeberg.org/oliverandrich/memberdir/internal/validation"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.EnsureSecrets(); err != nil {
		return err
	}

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"environment", cfg.Server.Environment,
	)

	// Database, migrations included
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	if initErr := i18n.Init(); initErr != nil {
		return fmt.Errorf("failed to init i18n: %w", initErr)
	}

	repo := repository.New(db)

	limiter, closeLimiter, err := newRegisterLimiter(ctx, cfg, repo)
	if err != nil {
		return err
	}
	defer closeLimiter()

	mailer, err := newMailer(cfg)
	if err != nil {
		return err
	}

	e, err := New(cfg, repo, mailer, limiter)
	if err != nil {
		return err
	}

	return startWithGracefulShutdown(e, cfg)
}

// New builds the echo instance with all services, middleware and routes.
func New(cfg *config.Config, repo *repository.Repository, mailer email.Mailer, limiter ratelimit.Limiter) (*echo.Echo, error) {
	engine, err := otp.NewEngine(cfg.Auth.OTPPepper)
	if err != nil {
		return nil, fmt.Errorf("failed to create otp engine: %w", err)
	}

	sessions, err := session.NewManager(repo, &cfg.Session, cfg.IsProduction())
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	validate := validation.New()
	h := handlers.New(handlers.Services{
		Signups:  signup.NewService(repo, engine, sessions, mailer, validate),
		Logins:   authsvc.NewService(repo),
		Sessions: sessions,
		Emails:   emailchange.NewService(repo, engine, sessions, mailer, validate),
		Limiter:  limiter,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.ErrorHandler

	setupMiddleware(e, cfg)
	setupRoutes(e, h, sessions)

	return e, nil
}

func startWithGracefulShutdown(e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	e.Server.ReadHeaderTimeout = 10 * time.Second
	go func() {
		slog.Info("Server running", "url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
