// Package config loads ridelog settings: defaults, then the global file,
// then the project file, then RIDELOG_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// ProjectFile is the per-directory config file name.
const ProjectFile = ".ridelogconfig"

// EnvPrefix prefixes every environment override, e.g. RIDELOG_LOG_LEVEL.
const EnvPrefix = "RIDELOG"

// Config holds all configurable ridelog settings.
type Config struct {
	DataDir       string `json:"data_dir"`       // empty means the XDG data dir
	StorageDriver string `json:"storage_driver"` // "sqlite" | "postgres"
	DatabaseURL   string `json:"database_url"`   // empty means <data dir>/ridelog.db

	SnapshotFirstTick string `json:"snapshot_first_tick"`
	SnapshotInterval  string `json:"snapshot_interval"`

	// Feeds maps a telemetry kind to an NDJSON file tailed for it.
	Feeds           map[string]string `json:"feeds"`
	Simulate        bool              `json:"simulate"`
	WeatherURL      string            `json:"weather_url"`
	WeatherInterval string            `json:"weather_interval"`

	KafkaBrokers string `json:"kafka_brokers"` // comma-separated
	KafkaTopic   string `json:"kafka_topic"`

	CameraURL          string `json:"camera_url"`
	InvalidTransitions string `json:"invalid_transitions"` // "ignore" | "reject"

	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"` // "text" | "json"
	MetricsAddr string `json:"metrics_addr"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		StorageDriver:      "sqlite",
		SnapshotFirstTick:  "1s",
		SnapshotInterval:   "5s",
		Feeds:              map[string]string{},
		WeatherInterval:    "10m",
		KafkaTopic:         "ridelog-telemetry",
		InvalidTransitions: "ignore",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load merges every layer: defaults, global file, project file, env.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	project, err := LoadProject()
	if err != nil {
		return Config{}, err
	}
	cfg := Merge(global, project)
	ApplyEnv(&cfg)
	return cfg, nil
}

// LoadGlobal reads ~/.config/ridelog/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".config", "ridelog", "config.json")
	return loadFile(path, true)
}

// LoadProject reads .ridelogconfig in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults. Feeds merge per kind;
// Simulate is on if either layer turns it on.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, layer := range []*Config{global, project} {
		if layer == nil {
			continue
		}
		for _, f := range stringFields {
			if v := *f.get(layer); v != "" {
				*f.get(&result) = v
			}
		}
		for kind, path := range layer.Feeds {
			result.Feeds[kind] = path
		}
		result.Simulate = result.Simulate || layer.Simulate
	}
	return result
}

// stringFields binds each string setting to its env key.
var stringFields = []struct {
	key string
	get func(*Config) *string
}{
	{"data_dir", func(c *Config) *string { return &c.DataDir }},
	{"storage_driver", func(c *Config) *string { return &c.StorageDriver }},
	{"database_url", func(c *Config) *string { return &c.DatabaseURL }},
	{"snapshot_first_tick", func(c *Config) *string { return &c.SnapshotFirstTick }},
	{"snapshot_interval", func(c *Config) *string { return &c.SnapshotInterval }},
	{"weather_url", func(c *Config) *string { return &c.WeatherURL }},
	{"weather_interval", func(c *Config) *string { return &c.WeatherInterval }},
	{"kafka_brokers", func(c *Config) *string { return &c.KafkaBrokers }},
	{"kafka_topic", func(c *Config) *string { return &c.KafkaTopic }},
	{"camera_url", func(c *Config) *string { return &c.CameraURL }},
	{"invalid_transitions", func(c *Config) *string { return &c.InvalidTransitions }},
	{"log_level", func(c *Config) *string { return &c.LogLevel }},
	{"log_format", func(c *Config) *string { return &c.LogFormat }},
	{"metrics_addr", func(c *Config) *string { return &c.MetricsAddr }},
}

// ApplyEnv overrides cfg with any RIDELOG_* variable that is set, e.g.
// RIDELOG_DATABASE_URL or RIDELOG_SIMULATE=true.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	for _, f := range stringFields {
		if s := v.GetString(f.key); s != "" {
			*f.get(cfg) = s
		}
	}
	if v.GetString("simulate") != "" {
		cfg.Simulate = v.GetBool("simulate")
	}
}

// FirstTick is the delay before the first snapshot. Falls back to 1s.
func (c Config) FirstTick() time.Duration { return duration(c.SnapshotFirstTick, time.Second) }

// Interval separates snapshots. Falls back to 5s.
func (c Config) Interval() time.Duration { return duration(c.SnapshotInterval, 5*time.Second) }

// WeatherEvery is the weather poll interval. Falls back to 10m.
func (c Config) WeatherEvery() time.Duration { return duration(c.WeatherInterval, 10*time.Minute) }

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// KafkaBrokerList splits KafkaBrokers. Empty means the uplink is off.
func (c Config) KafkaBrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FeedPaths returns Feeds keyed by telemetry kind.
func (c Config) FeedPaths() (map[telemetry.Kind]string, error) {
	out := make(map[telemetry.Kind]string, len(c.Feeds))
	for name, path := range c.Feeds {
		k, err := telemetry.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("config feeds: %w", err)
		}
		out[k] = path
	}
	return out, nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
