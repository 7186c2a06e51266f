// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"database/sql"
	"fmt"

	"codeberg.org/oliverandrich/memberdir/internal/database"
	"github.com/urfave/cli/v3"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Commands: []*cli.Command{
			migrateAction("up", "Apply all pending migrations", database.RunMigrations),
			migrateAction("down", "Roll back the last migration", database.MigrateDown),
			migrateAction("reset", "Roll back all migrations", database.MigrateReset),
			migrateAction("status", "Print the current schema version", func(*sql.DB) error { return nil }),
		},
	}
}

func migrateAction(name, usage string, run func(*sql.DB) error) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(_ context.Context, cmd *cli.Command) error {
			db, err := database.Connect(cmd.String("database-dsn"))
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			if err := run(db.DB); err != nil {
				return fmt.Errorf("migrate %s: %w", name, err)
			}

			version, err := database.Version(db.DB)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.Root().Writer, "schema version %d\n", version)
			return err
		},
	}
}
