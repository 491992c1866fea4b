package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"garmentledger/backend/internal/config"
	"garmentledger/backend/internal/logger"
	pgstore "garmentledger/backend/internal/store/postgres"
)

type migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() error
}

type openFunc func(databaseURL string) (migrator, error)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	defer func() { _ = log.Sync() }()

	open := func(databaseURL string) (migrator, error) {
		return pgstore.NewMigrator(databaseURL, log)
	}
	root := newRootCmd(open, cfg.DatabaseURL, os.Stdout)
	if err := root.Execute(); err != nil {
		log.Error("migrate failed", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCmd(open openFunc, defaultURL string, out io.Writer) *cobra.Command {
	var databaseURL string

	withMigrator := func(fn func(m migrator) error) error {
		if databaseURL == "" {
			return fmt.Errorf("database url is required: set DATABASE_URL or pass --database-url")
		}
		m, err := open(databaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()
		return fn(m)
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the ledger database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&databaseURL, "database-url", defaultURL, "Postgres connection string")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m migrator) error { return m.Up() })
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, all of them when steps is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withMigrator(func(m migrator) error { return m.Down(steps) })
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < 0 {
				return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
			}
			return withMigrator(func(m migrator) error { return m.Force(version) })
		},
	})

	return root
}
