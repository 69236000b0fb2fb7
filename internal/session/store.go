package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSession is returned when there is no active session.
var ErrNoSession = errors.New("no active session")

// MarkerStore persists the active-session Marker.
type MarkerStore interface {
	Save(m *Marker) error
	Load() (*Marker, error) // returns ErrNoSession if none exists
	Delete() error
}

// diskStore is the MarkerStore that writes session.json in the data
// directory.
type diskStore struct {
	path string
}

// NewMarkerStore returns a MarkerStore writing to dir/session.json.
// An empty dir selects DataDir().
func NewMarkerStore(dir string) (MarkerStore, error) {
	if dir == "" {
		var err error
		if dir, err = DataDir(); err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &diskStore{path: filepath.Join(dir, "session.json")}, nil
}

// DataDir returns $XDG_DATA_HOME/ridelog, or ~/.local/share/ridelog.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "ridelog"), nil
}

// Save writes m atomically via a temp file and os.Rename.
func (d *diskStore) Save(m *Marker) (err error) {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to persist session marker: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "session-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist session marker: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist session marker: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist session marker: %w", err)
	}
	if err = os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("failed to persist session marker: %w", err)
	}
	return nil
}

// Load reads the marker. It returns ErrNoSession if there is none.
func (d *diskStore) Load() (*Marker, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session marker: %w", err)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse session marker: %w", err)
	}
	return &m, nil
}

// Delete removes the marker. A missing marker is not an error.
func (d *diskStore) Delete() error {
	if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session marker: %w", err)
	}
	return nil
}
