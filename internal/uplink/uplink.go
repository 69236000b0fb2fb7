// Package uplink mirrors storage writes to a Kafka topic so a remote
// service can follow a ride while it is recorded.
package uplink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/storage"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// emitTimeout bounds a single mirrored emit.
const emitTimeout = 5 * time.Second

// Envelope types.
const (
	TypeSessionStarted = "session-started"
	TypeSessionUpdated = "session-updated"
	TypeSessionDeleted = "session-deleted"
)

// Envelope is the JSON document written for every mirrored change.
// Type is one of the session types above or a telemetry kind name.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp int64           `json:"timestamp"`
	Record    json.RawMessage `json:"record,omitempty"`
}

// Emitter delivers envelopes. Callers treat it as best effort.
type Emitter interface {
	Emit(ctx context.Context, env Envelope) error
	Close() error
}

// Mirror is a storage.Store that forwards every call to the wrapped
// store and, once the call succeeds, emits an Envelope asynchronously.
type Mirror struct {
	storage.Store

	emitter Emitter
	logger  logging.Logger
	wg      sync.WaitGroup
}

// NewMirror wraps store. A nil emitter returns store unchanged.
func NewMirror(store storage.Store, emitter Emitter, logger logging.Logger) storage.Store {
	if emitter == nil {
		return store
	}
	return &Mirror{Store: store, emitter: emitter, logger: logging.Component(logger, "uplink")}
}

func (m *Mirror) InsertSession(ctx context.Context, s telemetry.Session) error {
	if err := m.Store.InsertSession(ctx, s); err != nil {
		return err
	}
	m.emitAsync(TypeSessionStarted, s.ID, s.InitTimestamp, s)
	return nil
}

func (m *Mirror) UpdateSession(ctx context.Context, s telemetry.Session) error {
	if err := m.Store.UpdateSession(ctx, s); err != nil {
		return err
	}
	ts := s.InitTimestamp
	if s.EndTimestamp != nil {
		ts = *s.EndTimestamp
	}
	m.emitAsync(TypeSessionUpdated, s.ID, ts, s)
	return nil
}

func (m *Mirror) DeleteSession(ctx context.Context, id string) error {
	if err := m.Store.DeleteSession(ctx, id); err != nil {
		return err
	}
	m.emitAsync(TypeSessionDeleted, id, time.Now().UnixMilli(), nil)
	return nil
}

func (m *Mirror) InsertLocation(ctx context.Context, r telemetry.LocationRecord) error {
	return m.insert(ctx, r, func() error { return m.Store.InsertLocation(ctx, r) })
}

func (m *Mirror) InsertInclination(ctx context.Context, r telemetry.InclinationRecord) error {
	return m.insert(ctx, r, func() error { return m.Store.InsertInclination(ctx, r) })
}

func (m *Mirror) InsertEnvironment(ctx context.Context, r telemetry.EnvironmentRecord) error {
	return m.insert(ctx, r, func() error { return m.Store.InsertEnvironment(ctx, r) })
}

func (m *Mirror) InsertBody(ctx context.Context, r telemetry.BodyRecord) error {
	return m.insert(ctx, r, func() error { return m.Store.InsertBody(ctx, r) })
}

func (m *Mirror) insert(_ context.Context, r telemetry.Record, write func() error) error {
	if err := write(); err != nil {
		return err
	}
	key := r.Key()
	m.emitAsync(r.Kind().String(), key.SessionID, key.Timestamp, r)
	return nil
}

// Close waits for in-flight emits, then closes the emitter and the
// wrapped store.
func (m *Mirror) Close() error {
	m.wg.Wait()
	if err := m.emitter.Close(); err != nil {
		m.logger.WithError(err).Warn("closing uplink emitter")
	}
	return m.Store.Close()
}

// emitAsync runs Emit in a goroutine with its own timeout so the storage
// path never waits on the broker.
func (m *Mirror) emitAsync(typ, sessionID string, ts int64, body any) {
	env := Envelope{Type: typ, SessionID: sessionID, Timestamp: ts}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			m.logger.WithError(err).WithField("type", typ).Warn("encoding uplink record")
			return
		}
		env.Record = raw
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := m.emitter.Emit(ctx, env); err != nil {
			m.logger.WithError(err).WithField("type", typ).Warn("uplink emit failed")
		}
	}()
}
