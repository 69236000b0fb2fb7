package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/bundle"
	"github.com/fakeyudi/ridelog/internal/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store storage.Store) error {
			list, err := store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				cmd.Println("no sessions recorded")
				return nil
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ID", "NAME", "STARTED", "DURATION")
			for _, s := range list {
				t.Row(s.ID, s.Name, time.UnixMilli(s.InitTimestamp).Format(time.RFC3339), bundle.Meta(s).Duration)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
