// Package producer wraps telemetry sources behind a uniform acquisition
// contract: configure, subscribe one callback, stop.
package producer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// State is the acquisition state of a producer.
//
//	Stopped --Configure--> Stopped | WaitingForPermission
//	        --Subscribe--> Subscribed --Stop--> Stopped
type State int

const (
	Stopped State = iota
	WaitingForPermission
	Subscribed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case WaitingForPermission:
		return "waiting-for-permission"
	case Subscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotReady is returned when the underlying source is unavailable.
	// The producer stays Stopped.
	ErrNotReady = errors.New("producer: source not ready")
	// ErrPermission is returned when the source exists but may not be
	// read. The producer stays WaitingForPermission.
	ErrPermission = errors.New("producer: permission denied")
)

// Callback receives one observation per call.
type Callback func(ev telemetry.Event)

// Producer is one telemetry source.
type Producer interface {
	Kind() telemetry.Kind
	// Configure prepares the source. It is idempotent.
	Configure(ctx context.Context) error
	// Subscribe registers cb for future observations and starts
	// acquisition. Subscribing again replaces the callback.
	Subscribe(cb Callback) error
	// Stop releases the source. Once Stop returns no callback runs until
	// the producer is configured and subscribed again.
	Stop() error
	State() State
}

// Source carries the state and callback bookkeeping shared by every
// producer. Concrete producers embed it.
type Source struct {
	kind telemetry.Kind

	mu         sync.Mutex
	state      State
	configured bool

	// emitMu is read-held while a callback runs; halt write-locks it so
	// that no callback is in flight once halt returns.
	emitMu sync.RWMutex
	cb     Callback
	live   bool
}

// NewSource returns a stopped Source for kind.
func NewSource(kind telemetry.Kind) *Source {
	return &Source{kind: kind}
}

// Kind returns the telemetry kind produced.
func (s *Source) Kind() telemetry.Kind { return s.kind }

// State returns the current acquisition state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Configured reports whether the last Configure succeeded.
func (s *Source) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// MarkConfigured records the outcome of a Configure call.
func (s *Source) MarkConfigured(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Subscribed {
		return nil
	}
	s.configured = err == nil
	switch {
	case errors.Is(err, ErrPermission):
		s.state = WaitingForPermission
	default:
		s.state = Stopped
	}
	return err
}

// Arm installs cb and marks the source Subscribed. It reports whether
// the source was already subscribed, in which case only the callback
// was replaced.
func (s *Source) Arm(cb Callback) (already bool) {
	s.emitMu.Lock()
	s.cb = cb
	s.live = true
	s.emitMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	already = s.state == Subscribed
	s.state = Subscribed
	return already
}

// Halt drops the callback and waits for an in-flight one to return.
func (s *Source) Halt() {
	s.emitMu.Lock()
	s.cb = nil
	s.live = false
	s.emitMu.Unlock()

	s.mu.Lock()
	s.state = Stopped
	s.configured = false
	s.mu.Unlock()
}

// Emit hands payload to the subscribed callback. It reports false when
// nothing is subscribed.
func (s *Source) Emit(payload any, observedAt time.Time) bool {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if !s.live || s.cb == nil {
		return false
	}
	s.cb(telemetry.Event{Kind: s.kind, Payload: payload, ObservedAt: observedAt})
	return true
}
