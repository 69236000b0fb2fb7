package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/metrics"
)

// ErrClosed is returned for work handed to a closed Writer.
var ErrClosed = errors.New("storage: writer closed")

// jobTimeout bounds a single fire-and-forget job.
const jobTimeout = 10 * time.Second

// Job is one unit of storage work.
type Job func(ctx context.Context, s Store) error

type job struct {
	name string
	fn   Job
	ctx  context.Context
	done chan error // nil for fire-and-forget
}

// Writer runs storage work on a fixed pool of workers so callers on the
// bus dispatch path never block on I/O.
type Writer struct {
	store  Store
	logger logging.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{} // closed while pending == 0
}

// NewWriter starts workers goroutines executing jobs against store.
func NewWriter(store Store, workers, queue int, logger logging.Logger) *Writer {
	if workers <= 0 {
		workers = 2
	}
	if queue <= 0 {
		queue = 256
	}
	w := &Writer{
		store:  store,
		logger: logging.Component(logger, "storage"),
		jobs:   make(chan job, queue),
		idle:   make(chan struct{}),
	}
	close(w.idle)
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Store returns the store the writer executes against.
func (w *Writer) Store() Store { return w.store }

// Submit queues fn without waiting for it. Failures are logged under
// name. It blocks only when the queue is full.
func (w *Writer) Submit(name string, fn Job) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.WithField("job", name).Warn("storage writer closed, dropping job")
		metrics.StorageJobs.WithLabelValues("dropped").Inc()
		return
	}
	w.addPending()
	w.jobs <- job{name: name, fn: fn}
}

// Do queues fn and waits for its result or for ctx to end.
func (w *Writer) Do(ctx context.Context, name string, fn Job) error {
	done := make(chan error, 1)
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return fmt.Errorf("%s: %w", name, ErrClosed)
	}
	w.addPending()
	select {
	case w.jobs <- job{name: name, fn: fn, ctx: ctx, done: done}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		w.donePending()
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Idle waits until no job is queued or running.
func (w *Writer) Idle(ctx context.Context) error {
	w.pendingMu.Lock()
	idle := w.idle
	w.pendingMu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) addPending() {
	w.pendingMu.Lock()
	if w.pending == 0 {
		w.idle = make(chan struct{})
	}
	w.pending++
	w.pendingMu.Unlock()
}

func (w *Writer) donePending() {
	w.pendingMu.Lock()
	w.pending--
	if w.pending == 0 {
		close(w.idle)
	}
	w.pendingMu.Unlock()
}

// Close stops accepting work and waits for queued jobs to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for j := range w.jobs {
		w.execute(j)
	}
}

func (w *Writer) execute(j job) {
	ctx, cancel := j.ctx, context.CancelFunc(func() {})
	if ctx == nil {
		ctx, cancel = context.WithTimeout(context.Background(), jobTimeout)
	}
	defer cancel()
	defer w.donePending()

	err := j.fn(ctx, w.store)
	if err != nil {
		metrics.StorageJobs.WithLabelValues("error").Inc()
	} else {
		metrics.StorageJobs.WithLabelValues("ok").Inc()
	}
	if j.done != nil {
		j.done <- err
		return
	}
	if err != nil {
		w.logger.WithError(err).WithField("job", j.name).Error("storage job failed")
	}
}
