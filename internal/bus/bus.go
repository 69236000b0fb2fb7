// Package bus is the in-process publish/subscribe router that carries
// session commands and live telemetry values between components.
//
// Semantics:
//   - Publish never blocks on subscriber work. Every attached handler owns
//     an unbounded FIFO mailbox drained by its own goroutine.
//   - A handler sees messages one at a time, in the order they were
//     published; ordering across handlers is unspecified.
//   - A handler error or panic is logged and counted; other handlers are
//     unaffected and the failing handler keeps receiving later messages.
//   - Once Detach returns, no further delivery to that handler starts.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/metrics"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// Session command vocabulary.
const (
	TopicSessionCommands = "session-commands"

	KeyStartSession  = "start-session"  // payload: session id (string)
	KeyStopSession   = "stop-session"   // payload: session id (string)
	KeySaveTelemetry = "save-telemetry" // payload: snapshot timestamp (int64 ms)

	// KeyLiveValue is the key of messages on the live-<kind> topics; the
	// payload is the latest telemetry.Record of that kind.
	KeyLiveValue = "value"
)

// LiveTopic returns the topic carrying live values of kind k.
func LiveTopic(k telemetry.Kind) string { return "live-" + k.String() }

// Message is the envelope routed by the bus.
type Message struct {
	Topic   string
	Key     string
	Payload any

	barrier chan struct{} // set only on Sync markers
}

// Handler receives messages for the topics it was attached to.
type Handler interface {
	HandleMessage(msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg Message) error

func (f HandlerFunc) HandleMessage(msg Message) error { return f(msg) }

// Bus routes messages to attached handlers. The zero value is not usable;
// call New.
type Bus struct {
	mu     sync.RWMutex
	boxes  map[string]*mailbox
	closed bool
	logger logging.Logger
}

// New returns an empty bus.
func New(logger logging.Logger) *Bus {
	return &Bus{
		boxes:  make(map[string]*mailbox),
		logger: logging.Component(logger, "bus"),
	}
}

// Attach registers h under id for the given topics. Attaching an id that
// is already attached replaces its topic set and handler but keeps its
// pending messages.
func (b *Bus) Attach(id string, topics []string, h Handler) {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.WithField("handler", id).Warn("attach on closed bus ignored")
		return
	}
	if mb, ok := b.boxes[id]; ok {
		mb.topics = set
		mb.setHandler(h)
		return
	}
	mb := newMailbox(id, set, h, b.logger)
	b.boxes[id] = mb
	go mb.run()
}

// Detach removes every registration of id and drops its queued messages.
// It waits for a delivery already in progress to finish, so it must not
// be called for a handler from inside that same handler. Detaching an
// unknown id is a no-op.
func (b *Bus) Detach(id string) {
	b.mu.Lock()
	mb, ok := b.boxes[id]
	delete(b.boxes, id)
	b.mu.Unlock()
	if ok {
		mb.close()
	}
}

// Publish queues msg for every handler attached to msg.Topic and returns
// immediately. Messages published after Close are dropped.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.WithField("topic", msg.Topic).Debug("publish on closed bus dropped")
		return
	}
	metrics.BusPublished.WithLabelValues(msg.Topic).Inc()
	for _, mb := range b.boxes {
		if _, ok := mb.topics[msg.Topic]; ok {
			mb.enqueue(msg)
		}
	}
}

// Sync waits until every handler attached when Sync was called has
// finished with the messages queued for it before the call. It must not
// be called from inside a handler.
func (b *Bus) Sync(ctx context.Context) error {
	b.mu.RLock()
	var marks []chan struct{}
	for _, mb := range b.boxes {
		ch := make(chan struct{})
		mb.enqueue(Message{barrier: ch})
		marks = append(marks, ch)
	}
	b.mu.RUnlock()

	for _, ch := range marks {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Attached reports whether id currently has a registration.
func (b *Bus) Attached(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.boxes[id]
	return ok
}

// Close detaches every handler. Further publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	boxes := b.boxes
	b.boxes = make(map[string]*mailbox)
	b.closed = true
	b.mu.Unlock()
	for _, mb := range boxes {
		mb.close()
	}
}

// mailbox is the per-handler queue and its dispatch goroutine.
type mailbox struct {
	id     string
	topics map[string]struct{} // guarded by Bus.mu
	logger logging.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Message
	handler  Handler
	detached bool

	// deliverMu is held for the duration of a handler call so close can
	// wait for an in-flight delivery.
	deliverMu sync.Mutex
}

func newMailbox(id string, topics map[string]struct{}, h Handler, logger logging.Logger) *mailbox {
	mb := &mailbox{
		id:      id,
		topics:  topics,
		handler: h,
		logger:  logger.WithField("handler", id),
	}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

func (mb *mailbox) setHandler(h Handler) {
	mb.mu.Lock()
	mb.handler = h
	mb.mu.Unlock()
}

func (mb *mailbox) enqueue(msg Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.detached {
		releaseBarrier(msg)
		return
	}
	mb.queue = append(mb.queue, msg)
	mb.cond.Signal()
}

func releaseBarrier(msg Message) {
	if msg.barrier != nil {
		close(msg.barrier)
	}
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	mb.detached = true
	for _, msg := range mb.queue {
		releaseBarrier(msg)
	}
	mb.queue = nil
	mb.cond.Broadcast()
	mb.mu.Unlock()

	// Wait out a delivery that started before detached was set.
	mb.deliverMu.Lock()
	mb.deliverMu.Unlock() //nolint:staticcheck // barrier
}

func (mb *mailbox) run() {
	for {
		mb.mu.Lock()
		for len(mb.queue) == 0 && !mb.detached {
			mb.cond.Wait()
		}
		if mb.detached {
			mb.mu.Unlock()
			return
		}
		msg := mb.queue[0]
		mb.queue[0] = Message{}
		mb.queue = mb.queue[1:]
		h := mb.handler
		mb.mu.Unlock()

		if msg.barrier != nil {
			close(msg.barrier)
			continue
		}

		mb.deliverMu.Lock()
		if mb.isDetached() {
			mb.deliverMu.Unlock()
			return
		}
		mb.deliver(h, msg)
		mb.deliverMu.Unlock()
	}
}

func (mb *mailbox) isDetached() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.detached
}

func (mb *mailbox) deliver(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusFailed.WithLabelValues(mb.id).Inc()
			mb.logger.WithField("topic", msg.Topic).WithField("key", msg.Key).
				WithError(fmt.Errorf("panic: %v", r)).Error("message handler panicked")
		}
	}()
	if err := h.HandleMessage(msg); err != nil {
		metrics.BusFailed.WithLabelValues(mb.id).Inc()
		mb.logger.WithField("topic", msg.Topic).WithField("key", msg.Key).
			WithError(err).Error("message handler failed")
		return
	}
	metrics.BusDelivered.WithLabelValues(mb.id).Inc()
}
