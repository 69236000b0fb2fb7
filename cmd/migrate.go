package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/recorder"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down>",
	Short:     "Apply or roll back the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := recorder.Connect(cmd.Context(), GetConfig())
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		if err := store.Migrate(args[0]); err != nil {
			return err
		}
		version, dirty, ok, err := store.Version(cmd.Context())
		if err != nil {
			return err
		}
		switch {
		case !ok:
			cmd.Println("No migrations applied.")
		case dirty:
			cmd.Printf("Schema version %d (dirty)\n", version)
		default:
			cmd.Printf("Schema version %d\n", version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
