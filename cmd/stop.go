package cmd

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/session"
)

var (
	stopDiscard bool
	stopWait    time.Duration
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the session recording in another terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		markers, err := markerStore()
		if err != nil {
			return err
		}
		m, err := markers.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return fmt.Errorf("no active session")
			}
			return err
		}

		if !processAlive(m.PID) {
			if err := markers.Delete(); err != nil {
				return err
			}
			return fmt.Errorf("recorder process %d is not running; removed stale session marker", m.PID)
		}
		if stopDiscard {
			m.Discard = true
			if err := markers.Save(m); err != nil {
				return err
			}
		}
		proc, err := os.FindProcess(m.PID)
		if err != nil {
			return err
		}
		if err := proc.Signal(os.Interrupt); err != nil {
			return fmt.Errorf("signalling recorder %d: %w", m.PID, err)
		}

		verb := "stopped"
		if stopDiscard {
			verb = "discarded"
		}
		if stopWait <= 0 {
			cmd.Printf("Stop requested for session %s.\n", m.SessionID)
			return nil
		}
		deadline := time.Now().Add(stopWait)
		for time.Now().Before(deadline) {
			if _, err := markers.Load(); errors.Is(err, session.ErrNoSession) {
				cmd.Printf("Session %s %s.\n", m.SessionID, verb)
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return fmt.Errorf("recorder %d did not finish within %s", m.PID, stopWait)
	},
}

// processAlive reports whether pid names a running process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func init() {
	stopCmd.Flags().BoolVar(&stopDiscard, "discard", false, "delete the session and its telemetry instead of keeping it")
	stopCmd.Flags().DurationVar(&stopWait, "wait", 15*time.Second, "how long to wait for the recorder to finish (0 = do not wait)")
	rootCmd.AddCommand(stopCmd)
}
