package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded migrations. direction must be "up" or
// "down". An up-to-date schema is not an error.
func (s *SQLStore) Migrate(direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("storage: migrate direction must be up or down, got %q", direction)
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: migrate source: %w", err)
	}

	var (
		driver database.Driver
		name   string
	)
	switch s.dialect {
	case Postgres:
		name = "pgx5"
		driver, err = pgxmigrate.WithInstance(s.db, &pgxmigrate.Config{})
	default:
		name = "sqlite"
		driver, err = sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	}
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("storage: migrate driver: %w", err)
	}

	// m.Close would also close s.db, which the store still owns.
	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("storage: migrate: %w", err)
	}
	defer func() { _ = src.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate %s: %w", direction, err)
	}
	return nil
}

// Version reports the applied schema version. ok is false before the
// first migration.
func (s *SQLStore) Version(ctx context.Context) (version uint, dirty, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`)
	var v int64
	if err := row.Scan(&v, &dirty); err != nil {
		if errors.Is(err, sql.ErrNoRows) || !s.hasTable(ctx, "schema_migrations") {
			return 0, false, false, nil
		}
		return 0, false, false, fmt.Errorf("storage: schema version: %w", err)
	}
	return uint(v), dirty, true, nil
}

func (s *SQLStore) hasTable(ctx context.Context, name string) bool {
	query := `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	if s.dialect == Postgres {
		query = `SELECT count(*) FROM information_schema.tables WHERE table_name = ?`
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), name).Scan(&n); err != nil {
		return false
	}
	return n > 0
}
