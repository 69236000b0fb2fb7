package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]telemetry.Session
	rows     map[string]map[telemetry.Kind][]telemetry.Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]telemetry.Session),
		rows:     make(map[string]map[telemetry.Kind][]telemetry.Record),
	}
}

func (m *MemoryStore) InsertSession(_ context.Context, s telemetry.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("storage: session %s already exists", s.ID)
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s telemetry.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("storage: update session %s: %w", s.ID, ErrNotFound)
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("storage: delete session %s: %w", id, ErrNotFound)
	}
	delete(m.sessions, id)
	delete(m.rows, id)
	return nil
}

func (m *MemoryStore) InsertLocation(_ context.Context, r telemetry.LocationRecord) error {
	return m.insert(r)
}

func (m *MemoryStore) InsertInclination(_ context.Context, r telemetry.InclinationRecord) error {
	return m.insert(r)
}

func (m *MemoryStore) InsertEnvironment(_ context.Context, r telemetry.EnvironmentRecord) error {
	return m.insert(r)
}

func (m *MemoryStore) InsertBody(_ context.Context, r telemetry.BodyRecord) error {
	return m.insert(r)
}

func (m *MemoryStore) insert(r telemetry.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.Key()
	byKind := m.rows[key.SessionID]
	if byKind == nil {
		byKind = make(map[telemetry.Kind][]telemetry.Record)
		m.rows[key.SessionID] = byKind
	}
	for _, existing := range byKind[r.Kind()] {
		if existing.Key() == key {
			return fmt.Errorf("storage: duplicate %s row %s@%d", r.Kind(), key.SessionID, key.Timestamp)
		}
	}
	byKind[r.Kind()] = append(byKind[r.Kind()], r)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (telemetry.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return telemetry.Session{}, fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
	}
	return copySession(s), nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]telemetry.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]telemetry.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InitTimestamp != out[j].InitTimestamp {
			return out[i].InitTimestamp > out[j].InitTimestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) Records(_ context.Context, sessionID string, kind telemetry.Kind) ([]telemetry.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := append([]telemetry.Record(nil), m.rows[sessionID][kind]...)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Key().Timestamp < rows[j].Key().Timestamp
	})
	return rows, nil
}

// Count returns the number of telemetry rows stored for a session across
// all kinds.
func (m *MemoryStore) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rows := range m.rows[sessionID] {
		n += len(rows)
	}
	return n
}

func (m *MemoryStore) Close() error { return nil }

func copySession(s telemetry.Session) telemetry.Session {
	if s.EndTimestamp != nil {
		end := *s.EndTimestamp
		s.EndTimestamp = &end
	}
	return s
}
