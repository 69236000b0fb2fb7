package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fakeyudi/ridelog/internal/bus"
	"github.com/fakeyudi/ridelog/internal/clock"
	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/metrics"
	"github.com/fakeyudi/ridelog/internal/storage"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// ErrSessionActive is returned by Start while a session is recording.
var ErrSessionActive = errors.New("a session is already recording")

// Default snapshot cadence.
const (
	DefaultFirstTick = time.Second
	DefaultInterval  = 5 * time.Second
)

// ManagerConfig holds the collaborators of a Manager.
type ManagerConfig struct {
	Bus    *bus.Bus
	Writer *storage.Writer
	Clock  clock.Clock
	// FirstTick is the delay before the first save-telemetry broadcast;
	// Interval separates the following ones.
	FirstTick time.Duration
	Interval  time.Duration
	Logger    logging.Logger
	// NewID generates session ids. Defaults to random UUIDs.
	NewID func() string
}

// Manager owns the current session and the snapshot timer. Every
// transition happens under one mutex, so a tick never interleaves with
// Start, Stop or Discard.
type Manager struct {
	bus       *bus.Bus
	writer    *storage.Writer
	clock     clock.Clock
	firstTick time.Duration
	interval  time.Duration
	newID     func() string
	logger    logging.Logger

	mu      sync.Mutex
	current *telemetry.Session
	timer   *clock.Timer
	// gen identifies the armed timer; a tick from an older generation is
	// dropped.
	gen uint64
}

// NewManager returns a Manager with no current session.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		bus:       cfg.Bus,
		writer:    cfg.Writer,
		clock:     cfg.Clock,
		firstTick: cfg.FirstTick,
		interval:  cfg.Interval,
		newID:     cfg.NewID,
		logger:    logging.Component(cfg.Logger, "session"),
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.firstTick <= 0 {
		m.firstTick = DefaultFirstTick
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// Current returns a copy of the current session. ok is false when there
// is none; a stopped session stays current until the next Start or a
// Discard.
func (m *Manager) Current() (s telemetry.Session, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return telemetry.Session{}, false
	}
	return copySession(*m.current), true
}

// Start creates and persists a new session, tells the coordinators to
// start, and arms the snapshot timer.
func (m *Manager) Start(ctx context.Context, name string) (telemetry.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.Stopped() {
		return telemetry.Session{}, fmt.Errorf("start %q: %w (%s)", name, ErrSessionActive, m.current.ID)
	}

	s := telemetry.Session{
		ID:            m.newID(),
		Name:          name,
		InitTimestamp: clock.Millis(m.clock.Now()),
	}
	err := m.writer.Do(ctx, "insert session", func(ctx context.Context, st storage.Store) error {
		return st.InsertSession(ctx, s)
	})
	if err != nil {
		return telemetry.Session{}, fmt.Errorf("start session: %w", err)
	}

	m.current = &s
	m.bus.Publish(bus.Message{Topic: bus.TopicSessionCommands, Key: bus.KeyStartSession, Payload: s.ID})
	m.armLocked()
	metrics.Sessions.WithLabelValues("start").Inc()
	m.logger.WithField("session", s.ID).WithField("name", name).Info("session started")
	return copySession(s), nil
}

// Stop disarms the timer, records the end timestamp and tells the
// coordinators to stop. The end timestamp is never earlier than the
// start.
func (m *Manager) Stop(ctx context.Context) (telemetry.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) (telemetry.Session, error) {
	if m.current == nil || m.current.Stopped() {
		return telemetry.Session{}, ErrNoSession
	}
	m.disarmLocked()

	s := copySession(*m.current)
	end := clock.Millis(m.clock.Now())
	if end < s.InitTimestamp {
		end = s.InitTimestamp
	}
	s.EndTimestamp = &end
	m.current = &s

	// Coordinators stop even if the update fails.
	err := m.writer.Do(ctx, "update session", func(ctx context.Context, st storage.Store) error {
		return st.UpdateSession(ctx, s)
	})
	m.bus.Publish(bus.Message{Topic: bus.TopicSessionCommands, Key: bus.KeyStopSession, Payload: s.ID})
	metrics.Sessions.WithLabelValues("stop").Inc()

	log := m.logger.WithField("session", s.ID)
	if err != nil {
		log.WithError(err).Error("persisting session end failed")
		return copySession(s), fmt.Errorf("stop session: %w", err)
	}
	log.WithField("duration_ms", s.Duration()).Info("session stopped")
	return copySession(s), nil
}

// Discard stops the current session if needed, waits for in-flight
// snapshot writes to land, then deletes the session and its telemetry.
func (m *Manager) Discard(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoSession
	}
	if !m.current.Stopped() {
		if _, err := m.stopLocked(ctx); err != nil {
			m.logger.WithError(err).Warn("stopping session before discard")
		}
	}
	if err := m.settle(ctx); err != nil {
		return fmt.Errorf("discard session: %w", err)
	}

	id := m.current.ID
	err := m.writer.Do(ctx, "delete session", func(ctx context.Context, st storage.Store) error {
		return st.DeleteSession(ctx, id)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("discard session: %w", err)
	}
	m.current = nil
	metrics.Sessions.WithLabelValues("discard").Inc()
	m.logger.WithField("session", id).Info("session discarded")
	return nil
}

// Settle waits until the coordinators have handled every command
// broadcast so far and the storage writes they issued have finished.
func (m *Manager) Settle(ctx context.Context) error {
	return m.settle(ctx)
}

func (m *Manager) settle(ctx context.Context) error {
	if err := m.bus.Sync(ctx); err != nil {
		return err
	}
	return m.writer.Idle(ctx)
}

func (m *Manager) armLocked() {
	m.gen++
	m.scheduleLocked(m.gen, m.firstTick)
}

func (m *Manager) disarmLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) scheduleLocked(gen uint64, d time.Duration) {
	m.timer = m.clock.AfterFunc(d, func() { m.tick(gen) })
}

// tick broadcasts save-telemetry and re-arms the timer.
func (m *Manager) tick(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.current == nil || m.current.Stopped() {
		return
	}
	ts := clock.Millis(m.clock.Now())
	m.bus.Publish(bus.Message{Topic: bus.TopicSessionCommands, Key: bus.KeySaveTelemetry, Payload: ts})
	metrics.SnapshotTicks.Inc()
	m.scheduleLocked(gen, m.interval)
}

func copySession(s telemetry.Session) telemetry.Session {
	if s.EndTimestamp != nil {
		end := *s.EndTimestamp
		s.EndTimestamp = &end
	}
	return s
}
