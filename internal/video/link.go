package video

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fakeyudi/ridelog/internal/clock"
	"github.com/fakeyudi/ridelog/internal/logging"
)

// Frame types exchanged with the camera control channel.
const (
	FrameNeedSync           = "need-sync"
	FrameControlText        = "control-text"
	FrameSyncText           = "sync-text"
	FrameStreamReady        = "stream-ready"
	FrameRequestControlText = "request-control-text"
	FrameRequestSyncText    = "request-sync-text"
	FrameStartStream        = "start-stream"
)

const writeTimeout = 10 * time.Second

// Frame is one JSON message on the control channel. SentAt is the
// sender's clock in Unix milliseconds.
type Frame struct {
	Type   string `json:"type"`
	SentAt int64  `json:"sent_at,omitempty"`
}

// LinkOptions configures a Link.
type LinkOptions struct {
	Policy Policy
	Clock  clock.Clock
	Dialer *websocket.Dialer
	Logger logging.Logger
}

// Link drives a Machine from the camera's websocket control channel and
// performs the machine's entry actions on that channel.
type Link struct {
	url     string
	dialer  *websocket.Dialer
	clock   clock.Clock
	machine *Machine
	logger  logging.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewLink returns a Link for the control channel at rawURL. http and
// https URLs are mapped to ws and wss.
func NewLink(rawURL string, opts LinkOptions) (*Link, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("video: parse camera url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("video: unsupported camera url scheme %q", u.Scheme)
	}

	l := &Link{
		url:    u.String(),
		dialer: opts.Dialer,
		clock:  opts.Clock,
		logger: logging.Component(opts.Logger, "video").WithField("camera", u.Host),
	}
	if l.dialer == nil {
		l.dialer = websocket.DefaultDialer
	}
	if l.clock == nil {
		l.clock = clock.Real()
	}
	l.machine = NewMachine(Options{Policy: opts.Policy, Pipeline: l, Logger: opts.Logger})
	return l, nil
}

// Machine returns the state machine driven by the link.
func (l *Link) Machine() *Machine { return l.machine }

// Run connects and processes control frames until the channel closes or
// ctx ends. The machine is Disconnected when Run returns.
func (l *Link) Run(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("video: dial camera: %w", err)
	}
	l.writeMu.Lock()
	l.conn = conn
	l.writeMu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.closeConn()
		case <-done:
		}
	}()

	if err := l.machine.Connect(ctx); err != nil {
		l.closeConn()
		return err
	}

	readErr := l.readLoop(ctx, conn)
	l.closeConn()
	if err := l.machine.Disconnect(context.Background()); err != nil {
		l.logger.WithError(err).Warn("disconnecting video machine")
	}
	if ctx.Err() != nil || websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return fmt.Errorf("video: control channel: %w", readErr)
}

func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		if err := l.handle(ctx, f); err != nil {
			// Only reachable with the Reject policy.
			l.logger.WithError(err).WithField("frame", f.Type).Warn("camera frame rejected")
		}
	}
}

func (l *Link) handle(ctx context.Context, f Frame) error {
	switch f.Type {
	case FrameNeedSync:
		return l.machine.NeedSynchronization(ctx)
	case FrameControlText:
		return l.machine.CalculateDelay(ctx)
	case FrameSyncText:
		delay := time.Duration(clock.Millis(l.clock.Now())-f.SentAt) * time.Millisecond
		return l.machine.SaveDelay(ctx, delay)
	case FrameStreamReady:
		return l.machine.ConsumeVideo(ctx)
	default:
		l.logger.WithField("frame", f.Type).Debug("ignoring unknown camera frame")
		return nil
	}
}

// Enter implements Pipeline: each handshake state asks the camera for
// the next step.
func (l *Link) Enter(ctx context.Context, s State) error {
	switch s {
	case WaitingToControlText:
		return l.send(Frame{Type: FrameRequestControlText})
	case WaitingToSyncText:
		return l.send(Frame{Type: FrameRequestSyncText, SentAt: clock.Millis(l.clock.Now())})
	case Synchronized:
		return l.send(Frame{Type: FrameStartStream})
	default:
		return nil
	}
}

func (l *Link) send(f Frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.conn == nil {
		return errors.New("video: control channel not connected")
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := l.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("video: send %s: %w", f.Type, err)
	}
	return nil
}

func (l *Link) closeConn() {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.conn == nil {
		return
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = l.conn.Close()
	l.conn = nil
}
