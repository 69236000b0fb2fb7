package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// Feature: ridelog, Property 7: Config merge precedence
func TestConfigMergePrecedence(t *testing.T) {
	nonEmptyString := rapid.StringMatching(`[a-zA-Z0-9/_.:-]{1,20}`)

	configGen := rapid.Custom(func(t *rapid.T) *Config {
		cfg := &Config{}
		for _, f := range stringFields {
			if rapid.Bool().Draw(t, "has_"+f.key) {
				*f.get(cfg) = nonEmptyString.Draw(t, f.key)
			}
		}
		cfg.Simulate = rapid.Bool().Draw(t, "simulate")
		return cfg
	})

	rapid.Check(t, func(t *rapid.T) {
		global := configGen.Draw(t, "global")
		project := configGen.Draw(t, "project")

		merged := Merge(global, project)
		defaults := Defaults()

		for _, f := range stringFields {
			checkStringField(t, f.key, *f.get(global), *f.get(project), *f.get(&defaults), *f.get(&merged))
		}
		if merged.Simulate != (global.Simulate || project.Simulate) {
			t.Fatalf("Simulate = %v", merged.Simulate)
		}
	})
}

// checkStringField asserts the merge precedence rule for a single string field:
//   - project non-empty  → merged == project
//   - project empty, global non-empty → merged == global
//   - both empty → merged == defaultVal
func checkStringField(t *rapid.T, name, globalVal, projectVal, defaultVal, mergedVal string) {
	t.Helper()
	switch {
	case projectVal != "":
		if mergedVal != projectVal {
			t.Fatalf("%s: expected project value %q, got %q", name, projectVal, mergedVal)
		}
	case globalVal != "":
		if mergedVal != globalVal {
			t.Fatalf("%s: only global set, expected %q, got %q", name, globalVal, mergedVal)
		}
	default:
		if mergedVal != defaultVal {
			t.Fatalf("%s: neither set, expected default %q, got %q", name, defaultVal, mergedVal)
		}
	}
}

func TestMergeFeedsPerKind(t *testing.T) {
	global := &Config{Feeds: map[string]string{"location": "/g/gps.ndjson", "body": "/g/hr.ndjson"}}
	project := &Config{Feeds: map[string]string{"body": "/p/hr.ndjson"}}

	merged := Merge(global, project)
	if merged.Feeds["location"] != "/g/gps.ndjson" || merged.Feeds["body"] != "/p/hr.ndjson" {
		t.Fatalf("Feeds = %v", merged.Feeds)
	}
	if len(global.Feeds) != 2 || global.Feeds["body"] != "/g/hr.ndjson" {
		t.Fatalf("Merge mutated the global layer: %v", global.Feeds)
	}
}

func TestDefaultsValues(t *testing.T) {
	d := Defaults()
	if d.StorageDriver != "sqlite" {
		t.Errorf("StorageDriver: want %q, got %q", "sqlite", d.StorageDriver)
	}
	if d.FirstTick() != time.Second || d.Interval() != 5*time.Second {
		t.Errorf("cadence = %v / %v", d.FirstTick(), d.Interval())
	}
	if d.InvalidTransitions != "ignore" {
		t.Errorf("InvalidTransitions: got %q", d.InvalidTransitions)
	}
	if d.Feeds == nil || len(d.Feeds) != 0 {
		t.Errorf("Feeds: want empty map, got %v", d.Feeds)
	}
	if d.KafkaBrokerList() != nil {
		t.Errorf("uplink enabled by default: %v", d.KafkaBrokerList())
	}
}

func TestDurationFallbacks(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"250ms", 250 * time.Millisecond},
		{"", 5 * time.Second},
		{"soon", 5 * time.Second},
		{"-1s", 5 * time.Second},
	}
	for _, tt := range tests {
		if got := (Config{SnapshotInterval: tt.in}).Interval(); got != tt.want {
			t.Errorf("Interval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestKafkaBrokerList(t *testing.T) {
	got := Config{KafkaBrokers: " a:9092, ,b:9092 "}.KafkaBrokerList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("brokers = %q", got)
	}
}

func TestFeedPaths(t *testing.T) {
	paths, err := Config{Feeds: map[string]string{"heart-rate": "hr.ndjson"}}.FeedPaths()
	if err != nil || paths[telemetry.Body] != "hr.ndjson" {
		t.Fatalf("FeedPaths = %v, %v", paths, err)
	}
	if _, err := (Config{Feeds: map[string]string{"altimeter": "x"}}).FeedPaths(); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RIDELOG_DATABASE_URL", "postgres://ride@localhost/ride")
	t.Setenv("RIDELOG_LOG_LEVEL", "debug")
	t.Setenv("RIDELOG_SIMULATE", "true")

	cfg := Defaults()
	cfg.LogFormat = "json"
	ApplyEnv(&cfg)

	if cfg.DatabaseURL != "postgres://ride@localhost/ride" || cfg.LogLevel != "debug" || !cfg.Simulate {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("unset variable overrode LogFormat: %q", cfg.LogFormat)
	}
}

func TestLoadGlobalMissingFileReturnsDefaults(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config, got nil")
	}
	if cfg.StorageDriver != Defaults().StorageDriver {
		t.Errorf("StorageDriver: got %q", cfg.StorageDriver)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestLoadProjectMissingFileReturnsNil(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadProject()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

func TestLoadLayers(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfgDir := filepath.Join(home, ".config", "ridelog")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	global := `{"log_level": "warn", "kafka_topic": "rides", "feeds": {"location": "/dev/gps"}}`
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(global), 0o644); err != nil {
		t.Fatal(err)
	}
	project := t.TempDir()
	chdir(t, project)
	if err := os.WriteFile(ProjectFile, []byte(`{"log_level": "debug"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RIDELOG_KAFKA_TOPIC", "rides-env")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" || cfg.KafkaTopic != "rides-env" || cfg.Feeds["location"] != "/dev/gps" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadGlobalParseError(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	cfgDir := filepath.Join(tmp, ".config", "ridelog")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{invalid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadGlobal()
	if err == nil {
		t.Fatal("expected an error for invalid JSON, got nil")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected *ParseError, got %T: %v", err, err)
	}
}
