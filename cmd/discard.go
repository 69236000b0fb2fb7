package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/storage"
)

var discardCmd = &cobra.Command{
	Use:   "discard <session-id>",
	Short: "Delete a recorded session and its telemetry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		markers, err := markerStore()
		if err != nil {
			return err
		}
		if m, err := markers.Load(); err == nil && m.SessionID == id && processAlive(m.PID) {
			return fmt.Errorf("session %s is still recording; use `ridelog stop --discard`", id)
		}

		return withStore(cmd.Context(), func(store storage.Store) error {
			if err := store.DeleteSession(cmd.Context(), id); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("session not found: %s", id)
				}
				return err
			}
			cmd.Printf("Session %s discarded.\n", id)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(discardCmd)
}
