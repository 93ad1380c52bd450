package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

var ts = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestSQLStoreWriteBatchPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s, err := New(db, DriverPostgres, "readings")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	expected := regexp.QuoteMeta("INSERT INTO readings (ts, kwh, arus, tegangan, daya) VALUES ($1,$2,$3,$4,$5),($6,$7,$8,$9,$10) ON CONFLICT (ts) DO NOTHING")
	mock.ExpectExec(expected).
		WithArgs(ts, 1.5, 2.0, 220.0, 440.0, ts.Add(time.Second), 1.6, 2.0, 221.0, 442.0).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err = s.WriteBatch([]*domain.Record{
		{Timestamp: ts, Energy: 1.5, Current: 2, Voltage: 220, Power: 440},
		{Timestamp: ts.Add(time.Second), Energy: 1.6, Current: 2, Voltage: 221, Power: 442},
	})
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreWriteBatchSQLitePlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s, _ := New(db, DriverSQLite, "readings")
	mock.ExpectExec(regexp.QuoteMeta("VALUES (?,?,?,?,?) ON CONFLICT (ts) DO NOTHING")).
		WithArgs(ts.UnixMilli(), 1.0, 1.0, 1.0, 1.0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.WriteBatch([]*domain.Record{{Timestamp: ts, Energy: 1, Current: 1, Voltage: 1, Power: 1}}); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreWriteBatchSplitsLargeBatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s, _ := New(db, DriverSQLite, "readings")
	records := make([]*domain.Record, 2*rowsPerStatement+500)
	for i := range records {
		records[i] = &domain.Record{Timestamp: ts.Add(time.Duration(i) * time.Second), Energy: float64(i)}
	}

	mock.ExpectBegin()
	for _, rows := range []int{rowsPerStatement, rowsPerStatement, 500} {
		mock.ExpectExec("INSERT INTO readings").
			WithArgs(anyArgs(rows * 5)...).
			WillReturnResult(sqlmock.NewResult(0, int64(rows)))
	}
	mock.ExpectCommit()

	if err := s.WriteBatch(records); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreWriteBatchRollsBackFailedChunk(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s, _ := New(db, DriverPostgres, "readings")
	records := make([]*domain.Record, rowsPerStatement+1)
	for i := range records {
		records[i] = &domain.Record{Timestamp: ts.Add(time.Duration(i) * time.Second)}
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO readings").WillReturnResult(sqlmock.NewResult(0, rowsPerStatement))
	mock.ExpectExec("INSERT INTO readings").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := s.WriteBatch(records); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected chunk failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}

func TestSQLStoreWriteBatchEmpty(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	s, _ := New(db, DriverPostgres, "readings")
	if err := s.WriteBatch(nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if s.Name() != "postgres" {
		t.Fatalf("unexpected name %s", s.Name())
	}
}

func TestSQLStoreLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s, _ := New(db, DriverPostgres, "readings")
	rows := sqlmock.NewRows([]string{"ts", "kwh", "arus", "tegangan", "daya"}).
		AddRow(ts.Add(time.Second), 1.6, 2.0, 221.0, 442.0).
		AddRow(ts, 1.5, 2.0, 220.0, 440.0)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT ts, kwh, arus, tegangan, daya FROM readings ORDER BY ts DESC LIMIT $1")).
		WithArgs(1000).
		WillReturnRows(rows)

	got, err := s.Latest(context.Background(), 1000)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 || got[0].Energy != 1.6 || !got[1].Timestamp.Equal(ts) {
		t.Fatalf("unexpected records %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreLatestEmptyIsNoData(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	s, _ := New(db, DriverPostgres, "readings")
	mock.ExpectQuery("SELECT ts").WillReturnRows(sqlmock.NewRows([]string{"ts", "kwh", "arus", "tegangan", "daya"}))

	if _, err := s.Latest(context.Background(), 10); !errors.Is(err, ports.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestSQLStoreLatestQueryError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	s, _ := New(db, DriverPostgres, "readings")
	mock.ExpectQuery("SELECT ts").WillReturnError(errors.New("connection refused"))

	if _, err := s.Latest(context.Background(), 10); err == nil || errors.Is(err, ports.ErrNoData) {
		t.Fatalf("expected query error, got %v", err)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	if _, err := New(db, "mysql", "readings"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := New(db, DriverPostgres, "readings; DROP TABLE x"); err == nil {
		t.Fatalf("expected invalid table error")
	}
	if _, err := New(db, DriverPostgres, "public.readings"); err != nil {
		t.Fatalf("schema-qualified table should be accepted: %v", err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "meter.db"), "readings")
	if err != nil {
		if strings.Contains(err.Error(), "cgo") {
			t.Skipf("sqlite3 unavailable: %v", err)
		}
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := s.Latest(ctx, 5); !errors.Is(err, ports.ErrNoData) {
		t.Fatalf("expected ErrNoData on empty table, got %v", err)
	}

	batch := []*domain.Record{
		{Timestamp: ts.Add(2 * time.Second), Energy: 3},
		{Timestamp: ts, Energy: 1},
		{Timestamp: ts.Add(time.Second), Energy: 2},
	}
	if err := s.WriteBatch(batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteBatch(batch[:1]); err != nil {
		t.Fatalf("duplicate write should be ignored: %v", err)
	}

	got, err := s.Latest(ctx, 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 || got[0].Energy != 3 || got[1].Energy != 2 {
		t.Fatalf("unexpected latest %+v", got)
	}
	if n, err := s.Count(ctx); err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}

	large := make([]*domain.Record, 3*rowsPerStatement+1)
	for i := range large {
		large[i] = &domain.Record{Timestamp: ts.Add(time.Hour + time.Duration(i)*time.Second), Energy: 1}
	}
	if err := s.WriteBatch(large); err != nil {
		t.Fatalf("large write: %v", err)
	}
	if n, err := s.Count(ctx); err != nil || n != int64(3+len(large)) {
		t.Fatalf("count after large write = %d, %v", n, err)
	}
}

func TestSQLitePath(t *testing.T) {
	cases := map[string]string{
		"file:./data/meterflow.db?_busy_timeout=5000": "./data/meterflow.db",
		"/var/lib/meterflow/meter.db":                 "/var/lib/meterflow/meter.db",
		":memory:":                                    "",
		"file::memory:?cache=shared":                  "",
		"":                                            "",
	}
	for dsn, want := range cases {
		if got := sqlitePath(dsn); got != want {
			t.Errorf("sqlitePath(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpenSQLiteCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "meter.db")
	s, err := Open(context.Background(), DriverSQLite, "file:"+path+"?_busy_timeout=5000", "readings")
	if err != nil {
		if strings.Contains(err.Error(), "cgo") {
			t.Skipf("sqlite3 unavailable: %v", err)
		}
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
}
