// Package store persists and queries telemetry in a SQL database. PostgreSQL
// (including TimescaleDB) and SQLite are supported.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLStore is both the historical store read by exports and the sink the
// archive recorder writes to.
type SQLStore struct {
	db        *sql.DB
	driver    string
	tableName string
}

// Open connects to dsn and verifies the connection. For SQLite the directory
// holding the database file is created first.
func Open(ctx context.Context, driver, dsn, table string) (*SQLStore, error) {
	if driver == DriverSQLite {
		if path := sqlitePath(dsn); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s, err := New(db, driver, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// sqlitePath extracts the file path from a go-sqlite3 DSN. In-memory
// databases yield "".
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return ""
	}
	return path
}

// New wraps an existing handle.
func New(db *sql.DB, driver, table string) (*SQLStore, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SQLStore{db: db, driver: driver, tableName: table}, nil
}

func (s *SQLStore) Name() string { return s.driver }

func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate creates the telemetry table when it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	var ddl string
	switch s.driver {
	case DriverPostgres:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	ts       TIMESTAMPTZ      NOT NULL PRIMARY KEY,
	kwh      DOUBLE PRECISION NOT NULL,
	arus     DOUBLE PRECISION NOT NULL,
	tegangan DOUBLE PRECISION NOT NULL,
	daya     DOUBLE PRECISION NOT NULL
)`, s.tableName)
	default:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	ts       INTEGER NOT NULL PRIMARY KEY,
	kwh      REAL    NOT NULL,
	arus     REAL    NOT NULL,
	tegangan REAL    NOT NULL,
	daya     REAL    NOT NULL
)`, s.tableName)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.tableName, err)
	}
	return nil
}

// Latest returns up to limit of the newest records, newest first.
func (s *SQLStore) Latest(ctx context.Context, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	query := fmt.Sprintf("SELECT ts, kwh, arus, tegangan, daya FROM %s ORDER BY ts DESC LIMIT %s", s.tableName, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Record, 0, min(limit, 1024))
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ports.ErrNoData
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.tableName).Scan(&n)
	return n, err
}

// rowsPerStatement keeps every INSERT well below the bind-variable limits of
// both drivers (SQLite 32766, PostgreSQL 65535).
const rowsPerStatement = 1000

// WriteBatch inserts records, ignoring timestamps that already exist. Large
// batches are split across statements inside one transaction.
func (s *SQLStore) WriteBatch(records []*domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil {
			return errors.New("nil record in batch")
		}
	}
	if len(records) <= rowsPerStatement {
		_, err := s.db.Exec(s.insertSQL(len(records)), s.insertArgs(records)...)
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for start := 0; start < len(records); start += rowsPerStatement {
		chunk := records[start:min(start+rowsPerStatement, len(records))]
		if _, err := tx.Exec(s.insertSQL(len(chunk)), s.insertArgs(chunk)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert rows %d-%d: %w", start, start+len(chunk)-1, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) insertSQL(rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.tableName)
	b.WriteString(" (ts, kwh, arus, tegangan, daya) VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		n := i * 5
		fmt.Fprintf(&b, "(%s,%s,%s,%s,%s)",
			s.placeholder(n+1), s.placeholder(n+2), s.placeholder(n+3),
			s.placeholder(n+4), s.placeholder(n+5))
	}
	b.WriteString(" ON CONFLICT (ts) DO NOTHING")
	return b.String()
}

func (s *SQLStore) insertArgs(records []*domain.Record) []any {
	args := make([]any, 0, len(records)*5)
	for _, r := range records {
		args = append(args, s.tsArg(r.Timestamp), r.Energy, r.Current, r.Voltage, r.Power)
	}
	return args
}

func (s *SQLStore) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SQLite keeps timestamps as epoch milliseconds so ORDER BY is numeric.
func (s *SQLStore) tsArg(t time.Time) any {
	if s.driver == DriverSQLite {
		return t.UnixMilli()
	}
	return t.UTC()
}

func (s *SQLStore) scan(rows *sql.Rows) (domain.Record, error) {
	var rec domain.Record
	if s.driver == DriverSQLite {
		var ms int64
		if err := rows.Scan(&ms, &rec.Energy, &rec.Current, &rec.Voltage, &rec.Power); err != nil {
			return rec, err
		}
		rec.Timestamp = time.UnixMilli(ms).UTC()
		return rec, nil
	}
	err := rows.Scan(&rec.Timestamp, &rec.Energy, &rec.Current, &rec.Voltage, &rec.Power)
	return rec, err
}

var (
	_ ports.HistoricalStore = (*SQLStore)(nil)
	_ ports.Sink            = (*SQLStore)(nil)
)
