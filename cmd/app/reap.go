// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/database"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	"codeberg.org/oliverandrich/memberdir/internal/server"
	"codeberg.org/oliverandrich/memberdir/internal/services/reaper"
	"github.com/urfave/cli/v3"
)

func reapCommand() *cli.Command {
	return &cli.Command{
		Name:  "reap",
		Usage: "Expire stale signups and purge expired accounts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only report how many accounts would be purged",
			},
			&cli.BoolFlag{
				Name:  "skip-expire",
				Usage: "Do not expire pending signups",
			},
			&cli.BoolFlag{
				Name:  "skip-purge",
				Usage: "Do not purge expired accounts",
			},
		},
		Action: runReap,
	}
}

func runReap(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	server.SetupLogger(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	return reap(ctx, reaper.NewService(repository.New(db), cfg.Reaper), reapOptions{
		dryRun:     cmd.Bool("dry-run"),
		skipExpire: cmd.Bool("skip-expire"),
		skipPurge:  cmd.Bool("skip-purge"),
	})
}

type reapOptions struct {
	dryRun     bool
	skipExpire bool
	skipPurge  bool
}

func reap(ctx context.Context, svc *reaper.Service, opts reapOptions) error {
	if opts.dryRun {
		count, err := svc.ExpiredAccountsPurgeCount(ctx)
		if err != nil {
			return err
		}
		slog.Info("reaper_dry_run", "purge_candidates", count)
		return nil
	}

	if !opts.skipExpire {
		res, err := svc.ExpireStaleSignups(ctx)
		if err != nil {
			return err
		}
		slog.Info("reap_expire_done", "expired", res.ExpiredCount)
	}

	if !opts.skipPurge {
		res, err := svc.PurgeExpiredAccounts(ctx)
		if err != nil {
			return err
		}
		slog.Info("reap_purge_done", "purged", res.PurgedCount)
	}

	if _, err := svc.PruneRateLimits(ctx); err != nil {
		slog.Warn("reaper_rate_limit_prune_failed", "error", err)
	}
	return nil
}
