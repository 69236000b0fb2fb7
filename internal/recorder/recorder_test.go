package recorder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/ridelog/internal/bus"
	"github.com/fakeyudi/ridelog/internal/clock"
	"github.com/fakeyudi/ridelog/internal/config"
	"github.com/fakeyudi/ridelog/internal/producer"
	"github.com/fakeyudi/ridelog/internal/recorder"
	"github.com/fakeyudi/ridelog/internal/storage"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type run struct {
	rec     *recorder.Recorder
	clock   *clock.FakeClock
	store   *storage.MemoryStore
	cancel  context.CancelFunc
	started chan telemetry.Session
	done    chan error
	result  telemetry.Session
}

func startRun(t *testing.T, discard bool) *run {
	t.Helper()
	cfg := config.Defaults()
	cfg.Simulate = true
	fake := clock.Fake(epoch)
	mem := storage.NewMemoryStore()

	rec, err := recorder.New(context.Background(), recorder.Options{Config: cfg, Store: mem, Clock: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rec.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{rec: rec, clock: fake, store: mem, cancel: cancel, started: make(chan telemetry.Session, 1), done: make(chan error, 1)}
	go func() {
		s, err := rec.Run(ctx, "test ride", func(s telemetry.Session) error {
			r.started <- s
			return nil
		}, func() bool { return discard })
		r.result = s
		r.done <- err
	}()
	return r
}

func (r *run) session(t *testing.T) telemetry.Session {
	t.Helper()
	select {
	case s := <-r.started:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("session never started")
	}
	return telemetry.Session{}
}

func (r *run) finish(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

// waitLive blocks until every kind has published a live value.
func waitLive(t *testing.T, b *bus.Bus) func() {
	t.Helper()
	seen := make(chan telemetry.Kind, 64)
	var topics []string
	for _, k := range telemetry.Kinds {
		topics = append(topics, bus.LiveTopic(k))
	}
	b.Attach("test-live", topics, bus.HandlerFunc(func(m bus.Message) error {
		seen <- m.Payload.(telemetry.Record).Kind()
		return nil
	}))
	return func() {
		t.Helper()
		got := map[telemetry.Kind]bool{}
		deadline := time.After(5 * time.Second)
		for len(got) < len(telemetry.Kinds) {
			select {
			case k := <-seen:
				got[k] = true
			case <-deadline:
				t.Fatalf("live values seen for %v only", got)
			}
		}
	}
}

func TestRunRecordsSnapshotsFromEveryKind(t *testing.T) {
	r := startRun(t, false)
	wait := waitLive(t, r.rec.Bus())
	s := r.session(t)

	// Snapshot timer plus one simulated ticker per kind.
	r.clock.WaitForTimers(1 + len(telemetry.Kinds))
	r.clock.Advance(time.Second)
	wait()
	r.clock.Advance(5 * time.Second)
	r.finish(t)

	ctx := context.Background()
	snap := epoch.Add(6 * time.Second).UnixMilli()
	for _, k := range telemetry.Kinds {
		recs, err := r.store.Records(ctx, s.ID, k)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, rec := range recs {
			ts := rec.Key().Timestamp
			if ts != snap && ts != epoch.Add(time.Second).UnixMilli() {
				t.Errorf("%s row at unexpected timestamp %d", k, ts)
			}
			found = found || ts == snap
		}
		if !found {
			t.Errorf("%s has no row at %d: %+v", k, snap, recs)
		}
	}

	stored, err := r.store.GetSession(ctx, s.ID)
	if err != nil || !stored.Stopped() || stored.Name != "test ride" {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
	if !r.result.Stopped() {
		t.Fatal("Run result not stopped")
	}
}

func TestRunDiscardDeletesEverything(t *testing.T) {
	r := startRun(t, true)
	s := r.session(t)
	r.clock.WaitForTimers(1 + len(telemetry.Kinds))
	r.clock.Advance(6 * time.Second)
	r.finish(t)

	if _, err := r.store.GetSession(context.Background(), s.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetSession after discard = %v", err)
	}
	if n := r.store.Count(s.ID); n != 0 {
		t.Fatalf("rows left after discard: %d", n)
	}
}

func TestProducersSelection(t *testing.T) {
	fake := clock.Fake(epoch)
	tests := []struct {
		name string
		cfg  config.Config
		want map[telemetry.Kind]string
	}{
		{"nothing configured", config.Config{}, map[telemetry.Kind]string{}},
		{
			"simulate everything",
			config.Config{Simulate: true},
			map[telemetry.Kind]string{
				telemetry.Location: "*producer.Simulated", telemetry.Inclination: "*producer.Simulated",
				telemetry.Environment: "*producer.Simulated", telemetry.Body: "*producer.Simulated",
			},
		},
		{
			"feeds and weather win over simulation",
			config.Config{
				Simulate:   true,
				WeatherURL: "http://weather.local/current",
				Feeds:      map[string]string{"location": "/tmp/gps.ndjson"},
			},
			map[telemetry.Kind]string{
				telemetry.Location: "*producer.Feed", telemetry.Inclination: "*producer.Simulated",
				telemetry.Environment: "*producer.Weather", telemetry.Body: "*producer.Simulated",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prods, err := recorder.Producers(tt.cfg, fake, nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(prods) != len(tt.want) {
				t.Fatalf("got %d producers, want %d", len(prods), len(tt.want))
			}
			for _, p := range prods {
				if got := typeName(p); got != tt.want[p.Kind()] {
					t.Errorf("%s producer = %s, want %s", p.Kind(), got, tt.want[p.Kind()])
				}
			}
		})
	}

	if _, err := recorder.Producers(config.Config{Feeds: map[string]string{"sonar": "x"}}, fake, nil); err == nil {
		t.Fatal("unknown feed kind accepted")
	}
}

func typeName(p producer.Producer) string {
	switch p.(type) {
	case *producer.Feed:
		return "*producer.Feed"
	case *producer.Weather:
		return "*producer.Weather"
	case *producer.Simulated:
		return "*producer.Simulated"
	}
	return "unknown"
}

func TestOpenStoreCreatesMigratedSQLite(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	store, err := recorder.OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "ridelog.db")); err != nil {
		t.Fatalf("database file: %v", err)
	}
	version, dirty, ok, err := store.Version(context.Background())
	if err != nil || !ok || dirty || version == 0 {
		t.Fatalf("Version = %d dirty=%v ok=%v err=%v", version, dirty, ok, err)
	}
}

func TestOpenStorePostgresNeedsURL(t *testing.T) {
	cfg := config.Defaults()
	cfg.StorageDriver = "postgres"
	if _, err := recorder.OpenStore(context.Background(), cfg); err == nil {
		t.Fatal("expected error")
	}
}

// Feature: ridelog, Property 14: a stop racing snapshot ticks leaves no
// stored row stamped outside [init, end], through real coordinators and
// storage.
func TestStoppedSessionRowsStayInsideSession(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := config.Defaults()
		cfg.Simulate = true
		fake := clock.Fake(epoch)
		mem := storage.NewMemoryStore()
		rec, err := recorder.New(context.Background(), recorder.Options{Config: cfg, Store: mem, Clock: fake})
		if err != nil {
			rt.Fatalf("New: %v", err)
		}
		defer rec.Close()

		ctx := context.Background()
		mgr := rec.Manager()
		s, err := mgr.Start(ctx, "prop")
		if err != nil {
			rt.Fatal(err)
		}
		fake.WaitForTimers(1 + len(telemetry.Kinds))

		for _, ms := range rapid.SliceOfN(rapid.Int64Range(1, 12_000), 0, 8).Draw(rt, "before") {
			fake.Advance(time.Duration(ms) * time.Millisecond)
		}

		// The racing advance may fire ticks before or after Stop takes the
		// manager lock.
		racing := time.Duration(rapid.Int64Range(0, 12_000).Draw(rt, "racing")) * time.Millisecond
		advanced := make(chan struct{})
		go func() {
			defer close(advanced)
			fake.Advance(racing)
		}()
		stopped, err := mgr.Stop(ctx)
		if err != nil {
			rt.Fatalf("Stop: %v", err)
		}
		<-advanced
		for _, ms := range rapid.SliceOfN(rapid.Int64Range(1, 12_000), 0, 3).Draw(rt, "after") {
			fake.Advance(time.Duration(ms) * time.Millisecond)
		}
		if err := mgr.Settle(ctx); err != nil {
			rt.Fatalf("Settle: %v", err)
		}

		end := *stopped.EndTimestamp
		for _, k := range telemetry.Kinds {
			recs, err := mem.Records(ctx, s.ID, k)
			if err != nil {
				rt.Fatal(err)
			}
			for _, r := range recs {
				if ts := r.Key().Timestamp; ts < s.InitTimestamp || ts > end {
					rt.Fatalf("%s row at %d outside [%d, %d]", k, ts, s.InitTimestamp, end)
				}
			}
		}
	})
}
