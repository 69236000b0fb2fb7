package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/config"
	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/recorder"
	"github.com/fakeyudi/ridelog/internal/session"
	"github.com/fakeyudi/ridelog/internal/storage"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// logger is built from cfg once flags are parsed.
var logger *logrus.Logger

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "ridelog",
	Short:         "Record ride telemetry sessions and export them",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger = logging.New(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

func markerStore() (session.MarkerStore, error) {
	dir, err := recorder.DataDir(cfg)
	if err != nil {
		return nil, err
	}
	return session.NewMarkerStore(dir)
}

// withStore opens the migrated database for the duration of fn.
func withStore(ctx context.Context, fn func(storage.Store) error) error {
	store, err := recorder.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}
