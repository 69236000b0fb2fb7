package video_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/ridelog/internal/video"
)

func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	m := video.NewMachine(video.Options{})

	steps := []struct {
		fire func() error
		want video.State
	}{
		{func() error { return m.Connect(ctx) }, video.Connected},
		{func() error { return m.NeedSynchronization(ctx) }, video.WaitingToControlText},
		{func() error { return m.CalculateDelay(ctx) }, video.WaitingToSyncText},
		{func() error { return m.SaveDelay(ctx, 120*time.Millisecond) }, video.Synchronized},
		{func() error { return m.ConsumeVideo(ctx) }, video.Consuming},
		{func() error { return m.Disconnect(ctx) }, video.Disconnected},
	}
	for i, s := range steps {
		if err := s.fire(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := m.State(); got != s.want {
			t.Fatalf("step %d: state = %s, want %s", i, got, s.want)
		}
	}
	if m.Delay() != 120*time.Millisecond {
		t.Fatalf("delay = %v", m.Delay())
	}
}

func TestInvalidEventPolicies(t *testing.T) {
	ctx := context.Background()

	ignore := video.NewMachine(video.Options{Policy: video.Ignore})
	if err := ignore.ConsumeVideo(ctx); err != nil {
		t.Fatalf("Ignore policy returned %v", err)
	}
	if ignore.State() != video.Disconnected {
		t.Fatalf("state = %s", ignore.State())
	}

	reject := video.NewMachine(video.Options{Policy: video.Reject})
	_ = reject.Connect(ctx)
	err := reject.SaveDelay(ctx, time.Second)
	if !errors.Is(err, video.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	var te *video.TransitionError
	if !errors.As(err, &te) || te.From != video.Connected || te.Event != video.SaveDelay {
		t.Fatalf("transition error = %+v", te)
	}
	if reject.State() != video.Connected || reject.Delay() != 0 {
		t.Fatalf("rejected event changed the machine: %s %v", reject.State(), reject.Delay())
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    video.Policy
		wantErr bool
	}{
		{"", video.Ignore, false},
		{"ignore", video.Ignore, false},
		{" Reject ", video.Reject, false},
		{"panic", video.Ignore, true},
	}
	for _, tt := range tests {
		got, err := video.ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestListenersAndPipelineSeeTransitionsInOrder(t *testing.T) {
	ctx := context.Background()
	var (
		mu      sync.Mutex
		seen    []video.State
		entered []video.State
	)
	m := video.NewMachine(video.Options{Pipeline: video.PipelineFunc(func(_ context.Context, s video.State) error {
		mu.Lock()
		entered = append(entered, s)
		mu.Unlock()
		if s == video.Connected {
			return errors.New("camera busy")
		}
		return nil
	})})
	m.AddListener(func(s video.State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	_ = m.Connect(ctx)
	_ = m.NeedSynchronization(ctx)
	_ = m.Disconnect(ctx)

	want := []video.State{video.Connected, video.WaitingToControlText, video.Disconnected}
	mu.Lock()
	defer mu.Unlock()
	if !equalStates(seen, want) || !equalStates(entered, want) {
		t.Fatalf("listener = %v pipeline = %v, want %v", seen, entered, want)
	}
}

func TestStateAndEventNames(t *testing.T) {
	if video.WaitingToControlText.String() != "waiting-to-control-text" {
		t.Errorf("state name = %q", video.WaitingToControlText)
	}
	if video.NeedSynchronization.String() != "need-synchronization" {
		t.Errorf("event name = %q", video.NeedSynchronization)
	}
	if video.State(42).String() != "state(42)" {
		t.Errorf("unknown state = %q", video.State(42))
	}
}

func equalStates(a, b []video.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Feature: ridelog, Property 6: Consuming is reachable only through the
// full handshake, and Disconnect returns to Disconnected from any state.
func TestConsumingRequiresFullHandshake(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		m := video.NewMachine(video.Options{Policy: video.Reject})
		events := rapid.SliceOfN(rapid.IntRange(int(video.Connect), int(video.Disconnect)), 1, 40).Draw(rt, "events")

		// progress counts the handshake steps taken since the last Disconnect.
		progress := 0
		for _, raw := range events {
			e := video.Event(raw)
			before := m.State()
			err := m.Fire(ctx, e)
			after := m.State()

			if e == video.Disconnect {
				if err != nil || after != video.Disconnected {
					rt.Fatalf("disconnect from %s: state %s err %v", before, after, err)
				}
				progress = 0
				continue
			}
			if int(e) == progress {
				if err != nil {
					rt.Fatalf("%s from %s rejected: %v", e, before, err)
				}
				progress++
			} else if err == nil || after != before {
				rt.Fatalf("%s from %s accepted out of order (now %s)", e, before, after)
			}
			if after == video.Consuming && progress != 5 {
				rt.Fatalf("consuming after %d handshake steps", progress)
			}
		}
	})
}
