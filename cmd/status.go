package cmd

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/bundle"
	"github.com/fakeyudi/ridelog/internal/session"
	"github.com/fakeyudi/ridelog/internal/storage"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session being recorded",
	RunE: func(cmd *cobra.Command, args []string) error {
		markers, err := markerStore()
		if err != nil {
			return err
		}
		m, err := markers.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				cmd.Println("no active session")
				return nil
			}
			return err
		}

		cmd.Printf("Session: %s\n", m.SessionID)
		if m.Name != "" {
			cmd.Printf("Name: %s\n", m.Name)
		}
		cmd.Printf("Started: %s\n", m.StartTime.Format(time.RFC3339))
		cmd.Printf("Duration: %s\n", time.Since(m.StartTime).Round(time.Second).String())
		if !processAlive(m.PID) {
			cmd.Printf("Recorder: pid %d is not running\n", m.PID)
		}

		return withStore(cmd.Context(), func(store storage.Store) error {
			b, err := bundle.Build(cmd.Context(), store, m.SessionID)
			if errors.Is(err, storage.ErrNotFound) {
				cmd.Println("Telemetry: not in the database (dry run?)")
				return nil
			}
			if err != nil {
				return err
			}
			cmd.Printf("Snapshots: %d\n", len(b.Rows))
			for _, k := range telemetry.Kinds {
				cmd.Printf("%s: %d\n", kindLabel(k), b.Count(k))
			}
			return nil
		})
	},
}

// kindLabel is the capitalised kind name used in command output.
func kindLabel(k telemetry.Kind) string {
	name := k.String()
	return strings.ToUpper(name[:1]) + name[1:]
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
