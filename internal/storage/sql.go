package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// Dialect selects the SQL flavour a SQLStore speaks.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the configured storage driver name.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("storage: unknown driver %q", s)
	}
}

// driverName is the database/sql driver registered for d.
func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// SQLStore is a Store backed by database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn and verifies the connection. For SQLite dsn is a
// file path.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("storage: empty data source name")
	}
	if dialect == SQLite && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if dialect == SQLite {
		// One writer connection; SQLite serialises writes anyway.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// NewSQLStore wraps an existing handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the SQL flavour of the store.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Close closes the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("storage: %s: %w", op, err)
	}
	return nil
}

func (s *SQLStore) InsertSession(ctx context.Context, sess telemetry.Session) error {
	return s.exec(ctx, "insert session",
		`INSERT INTO sessions (id, name, init_timestamp, end_timestamp) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.InitTimestamp, nullInt64(sess.EndTimestamp))
}

func (s *SQLStore) UpdateSession(ctx context.Context, sess telemetry.Session) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET name = ?, init_timestamp = ?, end_timestamp = ? WHERE id = ?`),
		sess.Name, sess.InitTimestamp, nullInt64(sess.EndTimestamp), sess.ID)
	if err != nil {
		return fmt.Errorf("storage: update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("storage: update session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

// DeleteSession removes the session row and its telemetry in one
// transaction.
func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: delete session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"locations", "inclinations", "environments", "bodies"} {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE session_id = ?`), id); err != nil {
			return fmt.Errorf("storage: delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("storage: delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("storage: delete session %s: %w", id, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: delete session: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertLocation(ctx context.Context, r telemetry.LocationRecord) error {
	return s.exec(ctx, "insert location",
		`INSERT INTO locations (session_id, timestamp, latitude, longitude, altitude, speed, accuracy, bearing)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.SessionID, r.ID.Timestamp, r.Latitude, r.Longitude, r.Altitude, r.Speed, r.Accuracy, r.Bearing)
}

func (s *SQLStore) InsertInclination(ctx context.Context, r telemetry.InclinationRecord) error {
	return s.exec(ctx, "insert inclination",
		`INSERT INTO inclinations (session_id, timestamp, accel_x, accel_y, accel_z,
		   gravity_x, gravity_y, gravity_z, azimuth, pitch, roll)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.SessionID, r.ID.Timestamp,
		r.Acceleration.X, r.Acceleration.Y, r.Acceleration.Z,
		r.Gravity.X, r.Gravity.Y, r.Gravity.Z,
		r.Orientation.X, r.Orientation.Y, r.Orientation.Z)
}

func (s *SQLStore) InsertEnvironment(ctx context.Context, r telemetry.EnvironmentRecord) error {
	return s.exec(ctx, "insert environment",
		`INSERT INTO environments (session_id, timestamp, temperature, wind_speed, wind_direction, humidity, pressure)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID.SessionID, r.ID.Timestamp, r.Temperature, r.WindSpeed, r.WindDirection, r.Humidity, r.Pressure)
}

func (s *SQLStore) InsertBody(ctx context.Context, r telemetry.BodyRecord) error {
	return s.exec(ctx, "insert body",
		`INSERT INTO bodies (session_id, timestamp, heart_rate) VALUES (?, ?, ?)`,
		r.ID.SessionID, r.ID.Timestamp, r.HeartRate)
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (telemetry.Session, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, name, init_timestamp, end_timestamp FROM sessions WHERE id = ?`), id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.Session{}, fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return telemetry.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return sess, nil
}

func (s *SQLStore) ListSessions(ctx context.Context) ([]telemetry.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, init_timestamp, end_timestamp FROM sessions ORDER BY init_timestamp DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list sessions: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Records(ctx context.Context, sessionID string, kind telemetry.Kind) ([]telemetry.Record, error) {
	var query string
	switch kind {
	case telemetry.Location:
		query = `SELECT session_id, timestamp, latitude, longitude, altitude, speed, accuracy, bearing
		         FROM locations WHERE session_id = ? ORDER BY timestamp`
	case telemetry.Inclination:
		query = `SELECT session_id, timestamp, accel_x, accel_y, accel_z, gravity_x, gravity_y, gravity_z,
		         azimuth, pitch, roll FROM inclinations WHERE session_id = ? ORDER BY timestamp`
	case telemetry.Environment:
		query = `SELECT session_id, timestamp, temperature, wind_speed, wind_direction, humidity, pressure
		         FROM environments WHERE session_id = ? ORDER BY timestamp`
	case telemetry.Body:
		query = `SELECT session_id, timestamp, heart_rate FROM bodies WHERE session_id = ? ORDER BY timestamp`
	default:
		return nil, fmt.Errorf("storage: unknown kind %v", kind)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: query %s: %w", kind, err)
	}
	defer rows.Close()

	var out []telemetry.Record
	for rows.Next() {
		rec, err := scanRecord(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("storage: scan %s: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: query %s: %w", kind, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (telemetry.Session, error) {
	var (
		sess telemetry.Session
		end  sql.NullInt64
	)
	if err := sc.Scan(&sess.ID, &sess.Name, &sess.InitTimestamp, &end); err != nil {
		return telemetry.Session{}, err
	}
	if end.Valid {
		v := end.Int64
		sess.EndTimestamp = &v
	}
	return sess, nil
}

func scanRecord(sc scanner, kind telemetry.Kind) (telemetry.Record, error) {
	var id telemetry.ID
	switch kind {
	case telemetry.Location:
		r := telemetry.LocationRecord{}
		err := sc.Scan(&id.SessionID, &id.Timestamp, &r.Latitude, &r.Longitude, &r.Altitude, &r.Speed, &r.Accuracy, &r.Bearing)
		r.ID = id
		return r, err
	case telemetry.Inclination:
		r := telemetry.InclinationRecord{}
		err := sc.Scan(&id.SessionID, &id.Timestamp,
			&r.Acceleration.X, &r.Acceleration.Y, &r.Acceleration.Z,
			&r.Gravity.X, &r.Gravity.Y, &r.Gravity.Z,
			&r.Orientation.X, &r.Orientation.Y, &r.Orientation.Z)
		r.ID = id
		return r, err
	case telemetry.Environment:
		r := telemetry.EnvironmentRecord{}
		err := sc.Scan(&id.SessionID, &id.Timestamp, &r.Temperature, &r.WindSpeed, &r.WindDirection, &r.Humidity, &r.Pressure)
		r.ID = id
		return r, err
	default:
		r := telemetry.BodyRecord{}
		err := sc.Scan(&id.SessionID, &id.Timestamp, &r.HeartRate)
		r.ID = id
		return r, err
	}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
