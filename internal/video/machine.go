// Package video tracks the handshake with a WiFi action camera: connect,
// measure the clock offset between camera and recorder, then consume
// the stream.
package video

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/metrics"
)

// State is a video client state.
type State int

const (
	Disconnected State = iota
	Connected
	WaitingToControlText
	WaitingToSyncText
	Synchronized
	Consuming
)

var stateNames = [...]string{
	Disconnected:         "disconnected",
	Connected:            "connected",
	WaitingToControlText: "waiting-to-control-text",
	WaitingToSyncText:    "waiting-to-sync-text",
	Synchronized:         "synchronized",
	Consuming:            "consuming",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Event moves the machine between states.
type Event int

const (
	Connect Event = iota
	NeedSynchronization
	CalculateDelay
	SaveDelay
	ConsumeVideo
	Disconnect
)

var eventNames = [...]string{
	Connect:             "connect",
	NeedSynchronization: "need-synchronization",
	CalculateDelay:      "calculate-delay",
	SaveDelay:           "save-delay",
	ConsumeVideo:        "consume-video",
	Disconnect:          "disconnect",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

// transitions maps (from, event) to the next state. Disconnect is valid
// from every state and is handled separately.
var transitions = map[State]map[Event]State{
	Disconnected:         {Connect: Connected},
	Connected:            {NeedSynchronization: WaitingToControlText},
	WaitingToControlText: {CalculateDelay: WaitingToSyncText},
	WaitingToSyncText:    {SaveDelay: Synchronized},
	Synchronized:         {ConsumeVideo: Consuming},
}

// Next returns the state event leads to from s.
func Next(s State, e Event) (State, bool) {
	if e == Disconnect {
		return Disconnected, true
	}
	next, ok := transitions[s][e]
	return next, ok
}

// Policy decides what an event that is invalid in the current state does.
type Policy int

const (
	// Ignore logs a warning and leaves the state unchanged.
	Ignore Policy = iota
	// Reject leaves the state unchanged and returns a *TransitionError.
	Reject
)

// ParsePolicy accepts "ignore" or "reject". Empty means Ignore.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return Ignore, nil
	case "reject":
		return Reject, nil
	default:
		return Ignore, fmt.Errorf("video: unknown transition policy %q", s)
	}
}

// ErrInvalidTransition is wrapped by every TransitionError.
var ErrInvalidTransition = errors.New("invalid video state transition")

// TransitionError reports an event fired in a state that does not accept it.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("video: %s not valid in state %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Listener observes every state the machine enters.
type Listener func(State)

// Pipeline performs the I/O attached to entering a state.
type Pipeline interface {
	Enter(ctx context.Context, s State) error
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, s State) error

func (f PipelineFunc) Enter(ctx context.Context, s State) error { return f(ctx, s) }

// Options configures a Machine.
type Options struct {
	Policy   Policy
	Pipeline Pipeline
	Logger   logging.Logger
}

// Machine is the video client state machine. It is safe for concurrent
// use. Listeners and the pipeline run synchronously, in transition
// order, and must not fire events on the same machine.
type Machine struct {
	policy   Policy
	pipeline Pipeline
	logger   logging.Logger

	mu        sync.Mutex
	state     State
	delay     time.Duration
	listeners []Listener

	// notifyMu is taken before mu is released so that observers see
	// transitions in the order they happened.
	notifyMu sync.Mutex
}

// NewMachine returns a Machine in the Disconnected state.
func NewMachine(opts Options) *Machine {
	metrics.VideoState.Set(float64(Disconnected))
	return &Machine{
		policy:   opts.Policy,
		pipeline: opts.Pipeline,
		logger:   logging.Component(opts.Logger, "video"),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Delay returns the offset saved by the last SaveDelay.
func (m *Machine) Delay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delay
}

// AddListener registers l for every future transition.
func (m *Machine) AddListener(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

func (m *Machine) Connect(ctx context.Context) error { return m.Fire(ctx, Connect) }

func (m *Machine) NeedSynchronization(ctx context.Context) error {
	return m.Fire(ctx, NeedSynchronization)
}

func (m *Machine) CalculateDelay(ctx context.Context) error { return m.Fire(ctx, CalculateDelay) }

// SaveDelay records the camera clock offset and completes synchronization.
func (m *Machine) SaveDelay(ctx context.Context, delay time.Duration) error {
	return m.fire(ctx, SaveDelay, func() { m.delay = delay })
}

func (m *Machine) ConsumeVideo(ctx context.Context) error { return m.Fire(ctx, ConsumeVideo) }

// Disconnect returns to Disconnected from any state.
func (m *Machine) Disconnect(ctx context.Context) error { return m.Fire(ctx, Disconnect) }

// Fire applies e.
func (m *Machine) Fire(ctx context.Context, e Event) error {
	return m.fire(ctx, e, nil)
}

func (m *Machine) fire(ctx context.Context, e Event, onAccept func()) error {
	m.mu.Lock()
	from := m.state
	next, ok := Next(from, e)
	if !ok {
		policy := m.policy
		m.mu.Unlock()
		return m.invalid(from, e, policy)
	}
	m.state = next
	if onAccept != nil {
		onAccept()
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	metrics.VideoState.Set(float64(next))
	metrics.VideoTransitions.WithLabelValues(e.String(), "ok").Inc()
	m.logger.WithField("event", e.String()).WithField("from", from.String()).
		WithField("to", next.String()).Debug("video transition")

	for _, l := range listeners {
		l(next)
	}
	if m.pipeline != nil {
		if err := m.pipeline.Enter(ctx, next); err != nil {
			m.logger.WithError(err).WithField("state", next.String()).Error("video pipeline entry failed")
		}
	}
	return nil
}

func (m *Machine) invalid(from State, e Event, policy Policy) error {
	err := &TransitionError{From: from, Event: e}
	if policy == Reject {
		metrics.VideoTransitions.WithLabelValues(e.String(), "rejected").Inc()
		return err
	}
	metrics.VideoTransitions.WithLabelValues(e.String(), "ignored").Inc()
	m.logger.WithError(err).Warn("ignoring video event")
	return nil
}
