package cmd

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/config"
	"github.com/fakeyudi/ridelog/internal/recorder"
	"github.com/fakeyudi/ridelog/internal/session"
	"github.com/fakeyudi/ridelog/internal/storage"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// executeCommand runs a cobra command with the given args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	resetFlags()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// resetFlags restores flag variables to their defaults. Cobra keeps the
// values parsed by the previous Execute.
func resetFlags() {
	logLevel = ""
	startName, startDuration, startSimulate, startDryRun, startMetricsAddr = "", 0, false, false, ""
	stopDiscard, stopWait = false, 15*time.Second
	exportFormat, exportOut = "markdown", ""
	plainOutput = false
	videoPolicy = ""
}

// isolate points every per-user path at fresh temp dirs.
func isolate(t testing.TB) string {
	t.Helper()
	home := t.TempDir()
	data := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", data)
	return data
}

func saveMarker(t testing.TB, m *session.Marker) session.MarkerStore {
	t.Helper()
	dir, err := recorder.DataDir(config.Defaults())
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	markers, err := session.NewMarkerStore(dir)
	if err != nil {
		t.Fatalf("NewMarkerStore: %v", err)
	}
	if m != nil {
		if err := markers.Save(m); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	return markers
}

// deadPID returns the pid of a process that has already exited.
func deadPID(t testing.TB) int {
	t.Helper()
	c := exec.Command(os.Args[0], "-test.run=^$")
	if err := c.Run(); err != nil {
		t.Fatalf("running helper process: %v", err)
	}
	return c.Process.Pid
}

// seedSession stores a stopped session with counts[k] rows of kind k at
// timestamps startMs+1 .. startMs+counts[k].
func seedSession(t testing.TB, id string, startMs int64, counts map[telemetry.Kind]int) {
	t.Helper()
	ctx := context.Background()
	store, err := recorder.OpenStore(ctx, config.Defaults())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	end := startMs + 60_000
	if err := store.InsertSession(ctx, telemetry.Session{ID: id, Name: "ride " + id, InitTimestamp: startMs, EndTimestamp: &end}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	for k, n := range counts {
		for i := 1; i <= n; i++ {
			key := telemetry.ID{SessionID: id, Timestamp: startMs + int64(i)}
			var rec telemetry.Record
			switch k {
			case telemetry.Location:
				rec = telemetry.LocationRecord{ID: key, Latitude: 52.5, Longitude: 13.4}
			case telemetry.Inclination:
				rec = telemetry.InclinationRecord{ID: key}
			case telemetry.Environment:
				rec = telemetry.EnvironmentRecord{ID: key, Temperature: 18}
			case telemetry.Body:
				rec = telemetry.BodyRecord{ID: key, HeartRate: 120}
			}
			if err := storage.Insert(ctx, store, rec); err != nil {
				t.Fatalf("Insert %s: %v", k, err)
			}
		}
	}
}
