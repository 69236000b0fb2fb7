package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/bundle"
	"github.com/fakeyudi/ridelog/internal/telemetry"
	"github.com/fakeyudi/ridelog/internal/tui"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "View an exported ride bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return err
		}

		b, err := bundle.Detect(data).Parse(data)
		if err != nil {
			return err
		}

		if plainOutput || !term.IsTerminal(os.Stdout.Fd()) {
			printBundle(cmd.OutOrStdout(), b)
			return nil
		}
		return tui.Run(b, path)
	},
}

// printBundle writes a plain-text rendition of b.
func printBundle(w io.Writer, b *bundle.ContextBundle) {
	s := b.Session
	fmt.Fprintln(w, "## Summary")
	fmt.Fprintf(w, "  Session:   %s\n", s.ID)
	if s.Name != "" {
		fmt.Fprintf(w, "  Name:      %s\n", s.Name)
	}
	fmt.Fprintf(w, "  Started:   %s\n", bundle.FormatTime(s.InitTimestamp))
	if s.EndTimestamp != nil {
		fmt.Fprintf(w, "  Stopped:   %s\n", bundle.FormatTime(*s.EndTimestamp))
	}
	fmt.Fprintf(w, "  Duration:  %s\n", s.Duration)
	fmt.Fprintf(w, "  Snapshots: %d\n", len(b.Rows))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Timeline")
	if len(b.Rows) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, r := range b.Rows {
		fmt.Fprintf(w, "  %s", bundle.FormatTime(r.Timestamp))
		for _, k := range telemetry.Kinds {
			if r.Has(k) {
				fmt.Fprintf(w, " %s", k)
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	section(w, b, telemetry.Location, func(r bundle.Row) string {
		l := r.Location
		return fmt.Sprintf("%.6f, %.6f  %.1f m  %.1f km/h  %.0f°", l.Latitude, l.Longitude, l.Altitude, l.Speed, l.Bearing)
	})
	section(w, b, telemetry.Inclination, func(r bundle.Row) string {
		o := r.Inclination.Orientation
		return fmt.Sprintf("azimuth %.1f°  pitch %.1f°  roll %.1f°", o.X, o.Y, o.Z)
	})
	section(w, b, telemetry.Environment, func(r bundle.Row) string {
		e := r.Environment
		return fmt.Sprintf("%.1f °C  wind %.1f km/h @ %.0f°  %.0f%%  %.1f hPa",
			e.Temperature, e.WindSpeed, e.WindDirection, e.Humidity, e.Pressure)
	})
	section(w, b, telemetry.Body, func(r bundle.Row) string {
		return fmt.Sprintf("%d bpm", r.Body.HeartRate)
	})
}

func section(w io.Writer, b *bundle.ContextBundle, k telemetry.Kind, line func(bundle.Row) string) {
	fmt.Fprintf(w, "## %s\n", kindLabel(k))
	if b.Count(k) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, r := range b.Rows {
		if r.Has(k) {
			fmt.Fprintf(w, "  %s  %s\n", bundle.FormatTime(r.Timestamp), line(r))
		}
	}
	fmt.Fprintln(w)
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
