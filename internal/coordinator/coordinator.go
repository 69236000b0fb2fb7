// Package coordinator bridges one telemetry producer to the session
// lifecycle and to storage.
//
// A Coordinator listens on the session-commands topic. start-session
// binds it to a session and starts its producer; every producer event
// overwrites a single last-known value; save-telemetry persists that
// value keyed at the tick's timestamp; stop-session stops the producer.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fakeyudi/ridelog/internal/bus"
	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/metrics"
	"github.com/fakeyudi/ridelog/internal/producer"
	"github.com/fakeyudi/ridelog/internal/storage"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// configureTimeout bounds producer.Configure on start-session.
const configureTimeout = 10 * time.Second

// Config holds the collaborators of a Coordinator.
type Config struct {
	Producer producer.Producer
	// Convert defaults to DefaultConverter(Producer.Kind()).
	Convert Converter
	Bus     *bus.Bus
	Writer  *storage.Writer
	Logger  logging.Logger
}

// Coordinator owns the last-known value of one telemetry kind.
type Coordinator struct {
	kind     telemetry.Kind
	producer producer.Producer
	convert  Converter
	bus      *bus.Bus
	writer   *storage.Writer
	logger   logging.Logger

	mu        sync.Mutex
	sessionID string
	active    bool
	last      telemetry.Record
}

// New returns a detached coordinator. Call Attach to start receiving
// session commands.
func New(cfg Config) *Coordinator {
	kind := cfg.Producer.Kind()
	convert := cfg.Convert
	if convert == nil {
		convert = DefaultConverter(kind)
	}
	return &Coordinator{
		kind:     kind,
		producer: cfg.Producer,
		convert:  convert,
		bus:      cfg.Bus,
		writer:   cfg.Writer,
		logger:   logging.Component(cfg.Logger, "coordinator").WithField("kind", kind.String()),
	}
}

// ID is the bus handler id of the coordinator.
func (c *Coordinator) ID() string { return "coordinator-" + c.kind.String() }

// Kind returns the telemetry kind the coordinator handles.
func (c *Coordinator) Kind() telemetry.Kind { return c.kind }

// Attach subscribes the coordinator to session commands.
func (c *Coordinator) Attach() {
	c.bus.Attach(c.ID(), []string{bus.TopicSessionCommands}, c)
}

// Detach unsubscribes the coordinator and stops its producer.
func (c *Coordinator) Detach() {
	c.bus.Detach(c.ID())
	if err := c.producer.Stop(); err != nil {
		c.logger.WithError(err).Warn("stopping producer")
	}
}

// Last returns the cached value, if any.
func (c *Coordinator) Last() (telemetry.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.last != nil
}

// SessionID returns the session the coordinator is bound to and whether
// it is recording.
func (c *Coordinator) SessionID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.active
}

// HandleMessage implements bus.Handler.
func (c *Coordinator) HandleMessage(msg bus.Message) error {
	switch msg.Key {
	case bus.KeyStartSession:
		id, ok := msg.Payload.(string)
		if !ok || id == "" {
			return fmt.Errorf("start-session: bad payload %T", msg.Payload)
		}
		c.start(id)
	case bus.KeyStopSession:
		id, ok := msg.Payload.(string)
		if !ok || id == "" {
			return fmt.Errorf("stop-session: bad payload %T", msg.Payload)
		}
		if current, _ := c.SessionID(); current != id {
			c.logger.WithField("session", current).WithField("stop_for", id).
				Warn("ignoring stop-session for another session")
			return nil
		}
		c.stop()
	case bus.KeySaveTelemetry:
		ts, ok := msg.Payload.(int64)
		if !ok {
			return fmt.Errorf("save-telemetry: bad payload %T", msg.Payload)
		}
		c.flush(ts)
	}
	return nil
}

func (c *Coordinator) start(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.active = true
	c.last = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), configureTimeout)
	defer cancel()
	log := c.logger.WithField("session", id)

	if err := c.producer.Configure(ctx); err != nil {
		c.logNotReady(log, err)
		return
	}
	if err := c.producer.Subscribe(c.onTelemetry); err != nil {
		c.logNotReady(log, err)
		return
	}
	log.Debug("producer subscribed")
}

func (c *Coordinator) logNotReady(log logging.Logger, err error) {
	state := c.producer.State()
	entry := log.WithError(err).WithField("state", state.String())
	if errors.Is(err, producer.ErrPermission) || errors.Is(err, producer.ErrNotReady) {
		entry.Warn("producer not ready")
		return
	}
	entry.Error("producer failed to start")
}

func (c *Coordinator) stop() {
	if err := c.producer.Stop(); err != nil {
		c.logger.WithError(err).Warn("stopping producer")
	}
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// onTelemetry is the producer callback.
func (c *Coordinator) onTelemetry(ev telemetry.Event) {
	rec, err := c.convert(ev)
	if err != nil {
		metrics.TelemetryEvents.WithLabelValues(c.kind.String(), "rejected").Inc()
		c.logger.WithError(err).Warn("dropping telemetry event")
		return
	}

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		metrics.TelemetryEvents.WithLabelValues(c.kind.String(), "inactive").Inc()
		return
	}
	rec = rec.WithKey(telemetry.ID{SessionID: c.sessionID})
	c.last = rec
	c.mu.Unlock()

	metrics.TelemetryEvents.WithLabelValues(c.kind.String(), "ok").Inc()
	c.bus.Publish(bus.Message{Topic: bus.LiveTopic(c.kind), Key: bus.KeyLiveValue, Payload: rec})
}

func (c *Coordinator) flush(ts int64) {
	c.mu.Lock()
	last, active := c.last, c.active
	c.mu.Unlock()
	if !active || last == nil {
		return
	}

	rec := last.WithTimestamp(ts)
	kind := c.kind.String()
	c.writer.Submit("flush "+kind, func(ctx context.Context, s storage.Store) error {
		if err := storage.Insert(ctx, s, rec); err != nil {
			metrics.TelemetryFlushes.WithLabelValues(kind, "error").Inc()
			return fmt.Errorf("flush %s at %d: %w", kind, ts, err)
		}
		metrics.TelemetryFlushes.WithLabelValues(kind, "ok").Inc()
		return nil
	})
}
