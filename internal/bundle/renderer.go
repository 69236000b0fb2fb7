package bundle

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// BundleRenderer serializes a ContextBundle to bytes.
type BundleRenderer interface {
	Render(bundle *ContextBundle) ([]byte, error)
}

// JSONRenderer renders a ContextBundle as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(bundle *ContextBundle) ([]byte, error) {
	return json.MarshalIndent(bundle, "", "  ")
}

// NewRenderer returns the renderer for "json" or "markdown" ("md").
func NewRenderer(format string) (BundleRenderer, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONRenderer{}, nil
	case "markdown", "md":
		return &MarkdownRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown bundle format %q (want json or markdown)", format)
	}
}

// MarkdownRenderer renders a ContextBundle as human-readable Markdown with
// an embedded base64 JSON payload for lossless round-trip parsing.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(bundle *ContextBundle) ([]byte, error) {
	jsonBytes, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, base64.StdEncoding.EncodeToString(jsonBytes), commentSuffix)

	s := bundle.Session
	title := s.Name
	if title == "" {
		title = s.ID
	}
	fmt.Fprintf(&sb, "# Ride: %s (%s)\n\n", title, FormatTime(s.InitTimestamp))

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Session: %s\n", s.ID)
	fmt.Fprintf(&sb, "- Started: %s\n", FormatTime(s.InitTimestamp))
	if s.EndTimestamp != nil {
		fmt.Fprintf(&sb, "- Stopped: %s\n", FormatTime(*s.EndTimestamp))
	}
	fmt.Fprintf(&sb, "- Duration: %s\n", bundle.Session.Duration)
	fmt.Fprintf(&sb, "- Snapshots: %d\n", len(bundle.Rows))
	sb.WriteString("\n")

	sb.WriteString("## Timeline\n\n")
	if len(bundle.Rows) == 0 {
		sb.WriteString("_No snapshots recorded._\n")
	} else {
		sb.WriteString("| Time | Location | Inclination | Environment | Body |\n")
		sb.WriteString("|------|----------|-------------|-------------|------|\n")
		for _, row := range bundle.Rows {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
				FormatTime(row.Timestamp),
				mark(row.Location != nil), mark(row.Inclination != nil),
				mark(row.Environment != nil), mark(row.Body != nil))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Location\n\n")
	table(&sb, bundle.Rows, "location samples",
		"| Time | Latitude | Longitude | Altitude (m) | Speed (km/h) | Bearing |\n|------|----------|-----------|--------------|--------------|---------|\n",
		func(row Row) (string, bool) {
			l := row.Location
			if l == nil {
				return "", false
			}
			return fmt.Sprintf("| %s | %.6f | %.6f | %.1f | %.1f | %.0f |\n",
				FormatTime(row.Timestamp), l.Latitude, l.Longitude, l.Altitude, l.Speed, l.Bearing), true
		})

	sb.WriteString("## Inclination\n\n")
	table(&sb, bundle.Rows, "inclination samples",
		"| Time | Azimuth | Pitch | Roll | Acceleration (m/s²) |\n|------|---------|-------|------|---------------------|\n",
		func(row Row) (string, bool) {
			in := row.Inclination
			if in == nil {
				return "", false
			}
			a := in.Acceleration
			return fmt.Sprintf("| %s | %.1f | %.1f | %.1f | %.2f, %.2f, %.2f |\n",
				FormatTime(row.Timestamp), in.Orientation.X, in.Orientation.Y, in.Orientation.Z, a.X, a.Y, a.Z), true
		})

	sb.WriteString("## Environment\n\n")
	table(&sb, bundle.Rows, "environment samples",
		"| Time | Temp (°C) | Wind (km/h) | Wind dir | Humidity (%) | Pressure (hPa) |\n|------|-----------|-------------|----------|--------------|----------------|\n",
		func(row Row) (string, bool) {
			e := row.Environment
			if e == nil {
				return "", false
			}
			return fmt.Sprintf("| %s | %.1f | %.1f | %.0f | %.0f | %.0f |\n",
				FormatTime(row.Timestamp), e.Temperature, e.WindSpeed, e.WindDirection, e.Humidity, e.Pressure), true
		})

	sb.WriteString("## Body\n\n")
	table(&sb, bundle.Rows, "heart rate samples",
		"| Time | Heart rate (bpm) |\n|------|------------------|\n",
		func(row Row) (string, bool) {
			if row.Body == nil {
				return "", false
			}
			return fmt.Sprintf("| %s | %d |\n", FormatTime(row.Timestamp), row.Body.HeartRate), true
		})

	return []byte(sb.String()), nil
}

// table writes header and one line per row that line accepts, or a
// placeholder when none does.
func table(sb *strings.Builder, rows []Row, what, header string, line func(Row) (string, bool)) {
	var body strings.Builder
	for _, row := range rows {
		if l, ok := line(row); ok {
			body.WriteString(l)
		}
	}
	if body.Len() == 0 {
		fmt.Fprintf(sb, "_No %s recorded._\n\n", what)
		return
	}
	sb.WriteString(header)
	sb.WriteString(body.String())
	sb.WriteString("\n")
}

func mark(ok bool) string {
	if ok {
		return "x"
	}
	return "-"
}
