package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/bundle"
	"github.com/fakeyudi/ridelog/internal/storage"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write a recorded session as a Markdown or JSON bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		renderer, err := bundle.NewRenderer(exportFormat)
		if err != nil {
			return err
		}

		return withStore(cmd.Context(), func(store storage.Store) error {
			b, err := bundle.Build(cmd.Context(), store, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("session not found: %s", id)
				}
				return err
			}
			data, err := renderer.Render(b)
			if err != nil {
				return fmt.Errorf("render bundle: %w", err)
			}

			if exportOut == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			path := exportOut
			if path == "" {
				path = defaultExportName(id, exportFormat)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write output file: %w", err)
			}
			cmd.Printf("Exported %d snapshots to %s\n", len(b.Rows), path)
			return nil
		})
	},
}

// defaultExportName is ride-<first 8 chars of id>.<ext>.
func defaultExportName(id, format string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	ext := ".md"
	if strings.EqualFold(format, "json") {
		ext = ".json"
	}
	return "ride-" + short + ext
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "markdown", "output format: markdown or json")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default ride-<id>.<ext>, - for stdout)")
	rootCmd.AddCommand(exportCmd)
}
