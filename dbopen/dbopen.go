// Package dbopen opens SQLite databases with the pragmas the rule store
// expects: WAL journal, foreign keys, a busy timeout and NORMAL sync.
//
// The caller blank-imports the driver:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("rules.db", dbopen.WithSchema(config.Schema))
package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type options struct {
	driver      string
	busyTimeout time.Duration
	mkdir       bool
	schemas     []string
}

// Option customises Open.
type Option func(*options)

// WithDriver overrides the database/sql driver name ("sqlite").
func WithDriver(name string) Option { return func(o *options) { o.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout. Default 10s.
func WithBusyTimeout(d time.Duration) Option { return func(o *options) { o.busyTimeout = d } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdir = true } }

// WithSchema runs s once the pragmas are applied. May be repeated.
func WithSchema(s string) Option { return func(o *options) { o.schemas = append(o.schemas, s) } }

// Open opens path and applies pragmas and schemas.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{driver: "sqlite", busyTimeout: 10 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}

	if o.mkdir && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}
	pragmas := []string{
		"foreign_keys(1)",
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", o.busyTimeout.Milliseconds()),
		"synchronous(NORMAL)",
	}
	dsn := path
	if o.driver == "sqlite" && path != ":memory:" {
		// modernc applies _pragma parameters to every new pool connection.
		q := make(url.Values)
		q["_pragma"] = pragmas
		dsn = path + "?" + q.Encode()
	}
	db, err := sql.Open(o.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}

	var stmts []string
	for _, p := range pragmas {
		name, arg, _ := strings.Cut(strings.TrimSuffix(p, ")"), "(")
		stmts = append(stmts, fmt.Sprintf("PRAGMA %s = %s", name, arg))
	}
	stmts = append(stmts, o.schemas...)
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec %q: %w", firstLine(s), err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens a private in-memory database closed with the test. A
// single connection keeps every query on the same database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// IsBusy reports whether err is an SQLite lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RunTx runs fn in a transaction, retrying up to three times while the
// database is busy.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = runTx(ctx, db, fn); err == nil || !IsBusy(err) {
			return err
		}
		select {
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("dbopen: retry: %w", ctx.Err())
		}
	}
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
