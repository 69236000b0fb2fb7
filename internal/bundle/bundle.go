// Package bundle exports a recorded session as a self-contained,
// time-aligned document and reads it back.
package bundle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fakeyudi/ridelog/internal/storage"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// ContextBundle is the complete, renderable representation of a session.
type ContextBundle struct {
	Session SessionMeta `json:"session"`
	Rows    []Row       `json:"rows"`
}

// SessionMeta is the stored session plus a human-readable duration.
type SessionMeta struct {
	telemetry.Session
	Duration string `json:"duration"` // e.g. "42m10s", or "running"
}

// Row joins every kind recorded at one snapshot timestamp. A nil field
// means the kind had no value at that snapshot.
type Row struct {
	Timestamp   int64                        `json:"timestamp"`
	Location    *telemetry.LocationRecord    `json:"location,omitempty"`
	Inclination *telemetry.InclinationRecord `json:"inclination,omitempty"`
	Environment *telemetry.EnvironmentRecord `json:"environment,omitempty"`
	Body        *telemetry.BodyRecord        `json:"body,omitempty"`
}

// Has reports whether the row carries a value of kind k.
func (r Row) Has(k telemetry.Kind) bool {
	switch k {
	case telemetry.Location:
		return r.Location != nil
	case telemetry.Inclination:
		return r.Inclination != nil
	case telemetry.Environment:
		return r.Environment != nil
	case telemetry.Body:
		return r.Body != nil
	}
	return false
}

// record returns the row's value of kind k, or nil.
func (r Row) record(k telemetry.Kind) telemetry.Record {
	switch {
	case k == telemetry.Location && r.Location != nil:
		return *r.Location
	case k == telemetry.Inclination && r.Inclination != nil:
		return *r.Inclination
	case k == telemetry.Environment && r.Environment != nil:
		return *r.Environment
	case k == telemetry.Body && r.Body != nil:
		return *r.Body
	}
	return nil
}

// Count returns how many rows carry a value of kind k.
func (b *ContextBundle) Count(k telemetry.Kind) int {
	n := 0
	for _, r := range b.Rows {
		if r.Has(k) {
			n++
		}
	}
	return n
}

// Build loads a session and all its telemetry from store.
func Build(ctx context.Context, store storage.Store, sessionID string) (*ContextBundle, error) {
	s, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var recs []telemetry.Record
	for _, k := range telemetry.Kinds {
		rs, err := store.Records(ctx, sessionID, k)
		if err != nil {
			return nil, fmt.Errorf("load %s records: %w", k, err)
		}
		recs = append(recs, rs...)
	}
	return &ContextBundle{Session: Meta(s), Rows: Join(recs)}, nil
}

// Meta derives the bundle header for s.
func Meta(s telemetry.Session) SessionMeta {
	d := "running"
	if s.Stopped() {
		d = (time.Duration(s.Duration()) * time.Millisecond).Round(time.Second).String()
	}
	return SessionMeta{Session: s, Duration: d}
}

// Join groups records by snapshot timestamp. Rows come back in
// ascending timestamp order. A later record of the same kind and
// timestamp replaces an earlier one.
func Join(recs []telemetry.Record) []Row {
	byTS := make(map[int64]*Row)
	for _, rec := range recs {
		ts := rec.Key().Timestamp
		row, ok := byTS[ts]
		if !ok {
			row = &Row{Timestamp: ts}
			byTS[ts] = row
		}
		switch r := rec.(type) {
		case telemetry.LocationRecord:
			row.Location = &r
		case telemetry.InclinationRecord:
			row.Inclination = &r
		case telemetry.EnvironmentRecord:
			row.Environment = &r
		case telemetry.BodyRecord:
			row.Body = &r
		}
	}
	rows := make([]Row, 0, len(byTS))
	for _, row := range byTS {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })
	return rows
}

// FormatTime renders a Unix millisecond timestamp in UTC.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05 MST")
}
