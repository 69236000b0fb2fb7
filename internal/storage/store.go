// Package storage persists sessions and their telemetry rows.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the persistence contract used by the recorder.
type Store interface {
	InsertSession(ctx context.Context, s telemetry.Session) error
	UpdateSession(ctx context.Context, s telemetry.Session) error
	// DeleteSession removes the session and every telemetry row keyed to it.
	DeleteSession(ctx context.Context, id string) error

	InsertLocation(ctx context.Context, r telemetry.LocationRecord) error
	InsertInclination(ctx context.Context, r telemetry.InclinationRecord) error
	InsertEnvironment(ctx context.Context, r telemetry.EnvironmentRecord) error
	InsertBody(ctx context.Context, r telemetry.BodyRecord) error

	GetSession(ctx context.Context, id string) (telemetry.Session, error)
	// ListSessions returns every session, newest first.
	ListSessions(ctx context.Context) ([]telemetry.Session, error)
	// Records returns the rows of one kind for a session, oldest first.
	Records(ctx context.Context, sessionID string, kind telemetry.Kind) ([]telemetry.Record, error)

	Close() error
}

// Insert dispatches r to the matching Insert method of s.
func Insert(ctx context.Context, s Store, r telemetry.Record) error {
	switch rec := r.(type) {
	case telemetry.LocationRecord:
		return s.InsertLocation(ctx, rec)
	case telemetry.InclinationRecord:
		return s.InsertInclination(ctx, rec)
	case telemetry.EnvironmentRecord:
		return s.InsertEnvironment(ctx, rec)
	case telemetry.BodyRecord:
		return s.InsertBody(ctx, rec)
	default:
		return fmt.Errorf("storage: unsupported record type %T", r)
	}
}
