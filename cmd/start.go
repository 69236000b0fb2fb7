package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/metrics"
	"github.com/fakeyudi/ridelog/internal/recorder"
	"github.com/fakeyudi/ridelog/internal/session"
	"github.com/fakeyudi/ridelog/internal/storage"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

var (
	startName        string
	startDuration    time.Duration
	startSimulate    bool
	startDryRun      bool
	startMetricsAddr string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Record a session in the foreground until stopped",
	Long: `Record a session in the foreground. Recording ends on Ctrl+C, on
"ridelog stop" from another terminal, or after --duration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		markers, err := markerStore()
		if err != nil {
			return err
		}
		m, err := markers.Load()
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			return err
		}
		if m != nil {
			if processAlive(m.PID) {
				return fmt.Errorf("session already in progress (started at %s, pid %d)", m.StartTime.Format(time.RFC3339), m.PID)
			}
			logger.WithField("session", m.SessionID).Warn("removing marker left by a recorder that is no longer running")
			if err := markers.Delete(); err != nil {
				return err
			}
		}

		c := GetConfig()
		if startSimulate {
			c.Simulate = true
		}
		if startMetricsAddr != "" {
			c.MetricsAddr = startMetricsAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if startDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, startDuration)
			defer cancel()
		}

		opts := recorder.Options{Config: c, Logger: logger}
		if startDryRun {
			opts.Store = storage.NewMemoryStore()
		}
		rec, err := recorder.New(ctx, opts)
		if err != nil {
			return err
		}
		defer rec.Close()

		if c.MetricsAddr != "" {
			go func() {
				if err := metrics.Serve(ctx, c.MetricsAddr, logger); err != nil {
					logger.WithError(err).Error("metrics server failed")
				}
			}()
		}

		started := func(s telemetry.Session) error {
			cmd.Printf("Session %s started. Press Ctrl+C or run `ridelog stop` to finish.\n", s.ID)
			return markers.Save(&session.Marker{
				SessionID: s.ID,
				Name:      s.Name,
				PID:       os.Getpid(),
				StartTime: time.UnixMilli(s.InitTimestamp),
			})
		}
		discard := func() bool {
			m, err := markers.Load()
			return err == nil && m.Discard
		}

		s, runErr := rec.Run(ctx, startName, started, discard)
		if err := markers.Delete(); err != nil {
			logger.WithError(err).Warn("removing session marker")
		}
		if runErr != nil {
			return runErr
		}
		if !s.Stopped() {
			cmd.Printf("Session %s discarded.\n", s.ID)
			return nil
		}
		cmd.Printf("Session %s stopped after %s.\n", s.ID, (time.Duration(s.Duration()) * time.Millisecond).Round(time.Second))
		return nil
	},
}

func init() {
	startCmd.Flags().StringVar(&startName, "name", "", "name for the session")
	startCmd.Flags().DurationVar(&startDuration, "duration", 0, "stop automatically after this long (0 = until stopped)")
	startCmd.Flags().BoolVar(&startSimulate, "simulate", false, "use simulated sensors for kinds without a feed")
	startCmd.Flags().BoolVar(&startDryRun, "dry-run", false, "keep the session in memory instead of the database")
	startCmd.Flags().StringVar(&startMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	rootCmd.AddCommand(startCmd)
}
