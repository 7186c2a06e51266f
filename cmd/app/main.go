// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"
	"os"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/server"
	"github.com/urfave/cli/v3"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "app",
		Usage:   "Member directory account service",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   config.ServerFlags(),
		Action:  server.Run,
		Commands: []*cli.Command{
			reapCommand(),
			migrateCommand(),
		},
	}
}
