// Package recorder assembles a recording pipeline from configuration:
// producers, one coordinator per kind, the session manager, the bus and
// the storage writer, plus the optional uplink and camera link.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fakeyudi/ridelog/internal/bus"
	"github.com/fakeyudi/ridelog/internal/clock"
	"github.com/fakeyudi/ridelog/internal/config"
	"github.com/fakeyudi/ridelog/internal/coordinator"
	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/producer"
	"github.com/fakeyudi/ridelog/internal/session"
	"github.com/fakeyudi/ridelog/internal/storage"
	"github.com/fakeyudi/ridelog/internal/telemetry"
	"github.com/fakeyudi/ridelog/internal/uplink"
	"github.com/fakeyudi/ridelog/internal/video"
)

const (
	simulateEvery  = time.Second
	settleTimeout  = 10 * time.Second
	writerWorkers  = 2
	writerQueueLen = 256
)

// Options configures a Recorder.
type Options struct {
	Config config.Config
	// Store overrides the configured database, e.g. a MemoryStore for
	// dry runs. The recorder closes it.
	Store  storage.Store
	Clock  clock.Clock
	Logger logging.Logger
	// Producers overrides the producers built from Config.
	Producers []producer.Producer
}

// Recorder owns a wired pipeline. Build it with New, record with Run,
// release it with Close.
type Recorder struct {
	cfg     config.Config
	clock   clock.Clock
	logger  logging.Logger
	bus     *bus.Bus
	store   storage.Store
	writer  *storage.Writer
	manager *session.Manager
	coords  []*coordinator.Coordinator

	closeOnce sync.Once
}

// New wires a recorder. The storage is opened and migrated unless
// Options.Store is set.
func New(ctx context.Context, opts Options) (*Recorder, error) {
	cfg := opts.Config
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	log := logging.Component(opts.Logger, "recorder")

	store := opts.Store
	if store == nil {
		sqlStore, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = sqlStore
	}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		emitter, err := uplink.NewKafkaEmitter(brokers, cfg.KafkaTopic)
		if err != nil {
			store.Close()
			return nil, err
		}
		store = uplink.NewMirror(store, emitter, opts.Logger)
		log.WithField("topic", cfg.KafkaTopic).Info("kafka uplink enabled")
	}

	prods := opts.Producers
	if prods == nil {
		var err error
		if prods, err = Producers(cfg, c, opts.Logger); err != nil {
			store.Close()
			return nil, err
		}
	}
	if len(prods) == 0 {
		log.Warn("no telemetry producers configured; sessions will record no telemetry")
	}

	r := &Recorder{
		cfg:    cfg,
		clock:  c,
		logger: log,
		bus:    bus.New(opts.Logger),
		store:  store,
	}
	r.writer = storage.NewWriter(store, writerWorkers, writerQueueLen, opts.Logger)
	for _, p := range prods {
		co := coordinator.New(coordinator.Config{Producer: p, Bus: r.bus, Writer: r.writer, Logger: opts.Logger})
		co.Attach()
		r.coords = append(r.coords, co)
	}
	r.manager = session.NewManager(session.ManagerConfig{
		Bus:       r.bus,
		Writer:    r.writer,
		Clock:     c,
		FirstTick: cfg.FirstTick(),
		Interval:  cfg.Interval(),
		Logger:    opts.Logger,
	})
	return r, nil
}

// Producers builds one producer per kind that has a source: a feed file
// if configured, the weather endpoint for environment, otherwise a
// simulated source when Simulate is on. Kinds with no source are skipped.
func Producers(cfg config.Config, c clock.Clock, logger logging.Logger) ([]producer.Producer, error) {
	feeds, err := cfg.FeedPaths()
	if err != nil {
		return nil, err
	}
	var out []producer.Producer
	seed := c.Now().UnixNano()
	for _, k := range telemetry.Kinds {
		switch {
		case feeds[k] != "":
			out = append(out, producer.NewFeed(k, feeds[k], logger))
		case k == telemetry.Environment && cfg.WeatherURL != "":
			out = append(out, producer.NewWeather(cfg.WeatherURL, cfg.WeatherEvery(), c, logger))
		case cfg.Simulate:
			out = append(out, producer.NewSimulated(k, c, simulateEvery, seed+int64(k)))
		}
	}
	return out, nil
}

// Manager exposes the session manager.
func (r *Recorder) Manager() *session.Manager { return r.manager }

// Bus exposes the message bus, e.g. to watch live values.
func (r *Recorder) Bus() *bus.Bus { return r.bus }

// Store exposes the store the recorder writes to.
func (r *Recorder) Store() storage.Store { return r.store }

// Run starts a session named name, calls started with it, and records
// until ctx ends. It then stops the session, or deletes it if discard
// reports true, and waits for every pending write. When a camera URL is
// configured the video link runs alongside the session.
func (r *Recorder) Run(ctx context.Context, name string, started func(telemetry.Session) error, discard func() bool) (telemetry.Session, error) {
	s, err := r.manager.Start(ctx, name)
	if err != nil {
		return telemetry.Session{}, err
	}
	if started != nil {
		if err := started(s); err != nil {
			r.logger.WithError(err).Warn("session start hook failed")
		}
	}

	var camera sync.WaitGroup
	if r.cfg.CameraURL != "" {
		camera.Add(1)
		go func() {
			defer camera.Done()
			r.runCamera(ctx)
		}()
	}

	<-ctx.Done()
	camera.Wait()

	// The run context is gone; finishing uses a bounded one.
	fin, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	if discard != nil && discard() {
		if err := r.manager.Discard(fin); err != nil {
			return s, fmt.Errorf("discarding session: %w", err)
		}
		s.EndTimestamp = nil
		return s, nil
	}
	stopped, err := r.manager.Stop(fin)
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return stopped, err
	}
	if err := r.manager.Settle(fin); err != nil {
		return stopped, fmt.Errorf("waiting for pending writes: %w", err)
	}
	return stopped, nil
}

func (r *Recorder) runCamera(ctx context.Context) {
	policy, err := video.ParsePolicy(r.cfg.InvalidTransitions)
	if err != nil {
		r.logger.WithError(err).Warn("falling back to ignore policy")
	}
	link, err := video.NewLink(r.cfg.CameraURL, video.LinkOptions{Policy: policy, Clock: r.clock, Logger: r.logger})
	if err != nil {
		r.logger.WithError(err).Error("camera link disabled")
		return
	}
	if err := link.Run(ctx); err != nil {
		r.logger.WithError(err).Warn("camera link ended")
	}
}

// Close detaches the coordinators, drains the writer and closes the bus
// and the store. It is safe to call more than once.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		for _, c := range r.coords {
			c.Detach()
		}
		r.writer.Close()
		r.bus.Close()
		err = r.store.Close()
	})
	return err
}
