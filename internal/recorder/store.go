package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fakeyudi/ridelog/internal/config"
	"github.com/fakeyudi/ridelog/internal/session"
	"github.com/fakeyudi/ridelog/internal/storage"
)

// DataDir resolves the configured data directory, creating it.
func DataDir(cfg config.Config) (string, error) {
	dir := cfg.DataDir
	if dir == "" {
		var err error
		if dir, err = session.DataDir(); err != nil {
			return "", fmt.Errorf("resolving data directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return dir, nil
}

// Connect opens the configured database without touching its schema.
// SQLite defaults to ridelog.db in the data directory.
func Connect(ctx context.Context, cfg config.Config) (*storage.SQLStore, error) {
	dialect, err := storage.ParseDialect(cfg.StorageDriver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DatabaseURL
	if dsn == "" {
		if dialect != storage.SQLite {
			return nil, fmt.Errorf("storage driver %s needs database_url", dialect)
		}
		dir, err := DataDir(cfg)
		if err != nil {
			return nil, err
		}
		dsn = filepath.Join(dir, "ridelog.db")
	}
	return storage.Open(ctx, dialect, dsn)
}

// OpenStore connects and applies pending migrations.
func OpenStore(ctx context.Context, cfg config.Config) (*storage.SQLStore, error) {
	store, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate("up"); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
