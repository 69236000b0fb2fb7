package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/ridelog/internal/bus"
)

// recorder is a Handler that collects every message it receives.
type recorder struct {
	mu   sync.Mutex
	msgs []bus.Message
	got  chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 1024)} }

func (r *recorder) HandleMessage(msg bus.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recorder) snapshot() []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Message(nil), r.msgs...)
}

func (r *recorder) wait(t testing.TB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d/%d messages", i, n)
		}
	}
}

func TestTopicIsolation(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	a, other := newRecorder(), newRecorder()
	b.Attach("a", []string{"A"}, a)
	b.Attach("b", []string{"B"}, other)

	b.Publish(bus.Message{Topic: "B", Key: "x"})
	b.Publish(bus.Message{Topic: "A", Key: "y"})

	a.wait(t, 1)
	other.wait(t, 1)
	if got := a.snapshot(); len(got) != 1 || got[0].Key != "y" {
		t.Fatalf("handler on A got %+v", got)
	}
	if got := other.snapshot(); len(got) != 1 || got[0].Key != "x" {
		t.Fatalf("handler on B got %+v", got)
	}
}

func TestDetachStopsDelivery(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	r := newRecorder()
	b.Attach("r", []string{"A"}, r)
	b.Publish(bus.Message{Topic: "A", Key: "before"})
	r.wait(t, 1)

	b.Detach("r")
	b.Detach("r") // repeated detach is safe
	if b.Attached("r") {
		t.Fatal("still attached after Detach")
	}
	for i := 0; i < 10; i++ {
		b.Publish(bus.Message{Topic: "A", Key: "after"})
	}
	time.Sleep(50 * time.Millisecond)
	if got := r.snapshot(); len(got) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(got))
	}
}

func TestDetachWaitsForInFlightDelivery(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	b.Attach("slow", []string{"A"}, bus.HandlerFunc(func(bus.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		entered <- struct{}{}
		<-release
		return nil
	}))

	b.Publish(bus.Message{Topic: "A"})
	b.Publish(bus.Message{Topic: "A"})
	<-entered

	detached := make(chan struct{})
	go func() {
		b.Detach("slow")
		close(detached)
	}()
	select {
	case <-detached:
		t.Fatal("Detach returned while a delivery was in flight")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	<-detached

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (queued message must be dropped)", calls)
	}
}

func TestAttachIsIdempotent(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	r := newRecorder()
	b.Attach("r", []string{"A"}, r)
	b.Attach("r", []string{"A"}, r)

	b.Publish(bus.Message{Topic: "A"})
	r.wait(t, 1)
	time.Sleep(30 * time.Millisecond)
	if got := len(r.snapshot()); got != 1 {
		t.Fatalf("double attach delivered %d times", got)
	}

	// Re-attaching replaces the topic set.
	b.Attach("r", []string{"B"}, r)
	b.Publish(bus.Message{Topic: "A"})
	b.Publish(bus.Message{Topic: "B"})
	r.wait(t, 1)
	msgs := r.snapshot()
	if msgs[len(msgs)-1].Topic != "B" || len(msgs) != 2 {
		t.Fatalf("after re-attach got %+v", msgs)
	}
}

func TestFailingHandlerDoesNotBlockOthers(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	b.Attach("err", []string{"A"}, bus.HandlerFunc(func(bus.Message) error {
		return errors.New("boom")
	}))
	b.Attach("panic", []string{"A"}, bus.HandlerFunc(func(bus.Message) error {
		panic("kaboom")
	}))
	ok := newRecorder()
	b.Attach("ok", []string{"A"}, ok)

	b.Publish(bus.Message{Topic: "A", Key: "1"})
	b.Publish(bus.Message{Topic: "A", Key: "2"})
	ok.wait(t, 2)
}

func TestPanickingHandlerKeepsReceiving(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	got := make(chan string, 2)
	b.Attach("flaky", []string{"A"}, bus.HandlerFunc(func(m bus.Message) error {
		got <- m.Key
		if m.Key == "bad" {
			panic("bad frame")
		}
		return nil
	}))
	b.Publish(bus.Message{Topic: "A", Key: "bad"})
	b.Publish(bus.Message{Topic: "A", Key: "good"})

	for _, want := range []string{"bad", "good"} {
		select {
		case k := <-got:
			if k != want {
				t.Fatalf("got %q, want %q", k, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestPublishDoesNotBlockOnSlowHandler(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	release := make(chan struct{})
	b.Attach("stuck", []string{"A"}, bus.HandlerFunc(func(bus.Message) error {
		<-release
		return nil
	}))
	defer close(release)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			b.Publish(bus.Message{Topic: "A"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked behind a stuck handler")
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := bus.New(nil)
	r := newRecorder()
	b.Attach("r", []string{"A"}, r)
	b.Close()
	b.Publish(bus.Message{Topic: "A"})
	b.Attach("late", []string{"A"}, r)
	time.Sleep(20 * time.Millisecond)
	if len(r.snapshot()) != 0 {
		t.Fatal("delivery after Close")
	}
}

// Feature: ridelog, Property 2: per-sender ordering is preserved per handler
func TestPublishOrderPreserved(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,4}`), 1, 50).Draw(rt, "keys")

		b := bus.New(nil)
		defer b.Close()
		r1, r2 := newRecorder(), newRecorder()
		b.Attach("r1", []string{bus.TopicSessionCommands}, r1)
		b.Attach("r2", []string{bus.TopicSessionCommands}, r2)

		for _, k := range keys {
			b.Publish(bus.Message{Topic: bus.TopicSessionCommands, Key: k})
		}
		r1.wait(t, len(keys))
		r2.wait(t, len(keys))

		for _, r := range []*recorder{r1, r2} {
			got := r.snapshot()
			for i, k := range keys {
				if got[i].Key != k {
					rt.Fatalf("message %d = %q, want %q", i, got[i].Key, k)
				}
			}
		}
	})
}

func TestSyncWaitsForQueuedMessages(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	var handled int
	var mu sync.Mutex
	b.Attach("slow", []string{"A"}, bus.HandlerFunc(func(bus.Message) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}))
	for i := 0; i < 10; i++ {
		b.Publish(bus.Message{Topic: "A"})
	}

	if err := b.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if handled != 10 {
		t.Fatalf("handled = %d after Sync, want 10", handled)
	}
}

func TestSyncHonoursContextAndDetach(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	release := make(chan struct{})
	b.Attach("stuck", []string{"A"}, bus.HandlerFunc(func(bus.Message) error {
		<-release
		return nil
	}))
	b.Publish(bus.Message{Topic: "A"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Sync(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Sync = %v, want deadline exceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.Sync(context.Background()) }()
	close(release)
	b.Detach("stuck")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Sync = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Sync blocked on a detached handler")
	}
}
