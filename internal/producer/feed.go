package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// Feed reads raw payloads from a newline-delimited JSON file, one
// payload per line, and follows the file as it grows. It is how an
// external sensor bridge (a GPS daemon, a BLE heart-rate relay) hands
// observations to the recorder.
type Feed struct {
	*Source

	Path string
	// FromStart replays lines already in the file before following it.
	FromStart bool

	logger logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed returns a Feed producer for kind reading path.
func NewFeed(kind telemetry.Kind, path string, logger logging.Logger) *Feed {
	return &Feed{
		Source: NewSource(kind),
		Path:   path,
		logger: logging.Component(logger, "producer").WithField("kind", kind.String()).WithField("feed", path),
	}
}

// Configure checks that the feed file exists and is readable.
func (f *Feed) Configure(ctx context.Context) error {
	file, err := os.Open(f.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return f.MarkConfigured(fmt.Errorf("%w: %s", ErrPermission, f.Path))
		case errors.Is(err, fs.ErrNotExist):
			return f.MarkConfigured(fmt.Errorf("%w: %s does not exist", ErrNotReady, f.Path))
		default:
			return f.MarkConfigured(fmt.Errorf("%w: %v", ErrNotReady, err))
		}
	}
	file.Close()
	return f.MarkConfigured(nil)
}

// Subscribe starts following the file. A second call only swaps the
// callback.
func (f *Feed) Subscribe(cb Callback) error {
	if f.State() == Subscribed {
		f.Arm(cb)
		return nil
	}
	if !f.Configured() {
		return fmt.Errorf("%w: feed %s not configured", ErrNotReady, f.Path)
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return f.MarkConfigured(fmt.Errorf("%w: %v", ErrNotReady, err))
	}
	if !f.FromStart {
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return fmt.Errorf("feed %s: seek: %w", f.Path, err)
		}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		file.Close()
		return fmt.Errorf("feed %s: watcher: %w", f.Path, err)
	}
	if err := watcher.Add(f.Path); err != nil {
		watcher.Close()
		file.Close()
		return fmt.Errorf("feed %s: watch: %w", f.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.mu.Lock()
	f.cancel, f.done = cancel, done
	f.mu.Unlock()

	f.Arm(cb)
	go f.follow(ctx, file, watcher, done)
	return nil
}

// Stop halts delivery and closes the file and watcher.
func (f *Feed) Stop() error {
	f.Halt()

	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (f *Feed) follow(ctx context.Context, file *os.File, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer watcher.Close()
	defer file.Close()

	var pending []byte
	pending = f.drain(file, pending)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) {
				pending = f.drain(file, pending)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			// Watcher errors are non-fatal; keep following.
			f.logger.WithError(err).Warn("feed watcher error")
		}
	}
}

// drain reads everything available and emits each complete line. The
// trailing partial line is returned for the next call.
func (f *Feed) drain(r io.Reader, pending []byte) []byte {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			f.emitLine(bytes.TrimSpace(pending[:i]))
			pending = pending[i+1:]
		}
		if err != nil || n == 0 {
			return append([]byte(nil), pending...)
		}
	}
}

func (f *Feed) emitLine(line []byte) {
	if len(line) == 0 {
		return
	}
	payload, err := telemetry.DecodePayload(f.Kind(), line)
	if err != nil {
		f.logger.WithError(err).Warn("skipping malformed feed line")
		return
	}
	f.Emit(payload, observedAt(payload))
}

// observedAt returns the producer-side time carried by a raw payload, or
// now if it has none.
func observedAt(payload any) time.Time {
	var t time.Time
	switch p := payload.(type) {
	case telemetry.GPSFix:
		t = p.Time
	case telemetry.IMUSample:
		t = p.Time
	case telemetry.WeatherReport:
		t = p.Time
	case telemetry.HeartRateSample:
		t = p.Time
	}
	if t.IsZero() {
		return time.Now()
	}
	return t
}
