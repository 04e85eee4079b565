package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/vitrine/dbopen"
)

func TestOpen_Pragmas(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(5*time.Second))

	var fk, sync, busy int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if fk != 1 || sync != 1 || busy != 5000 {
		t.Errorf("pragmas: foreign_keys=%d synchronous=%d busy_timeout=%d", fk, sync, busy)
	}
}

func TestOpen_SchemaAndMkdir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rules.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(`CREATE TABLE r (name TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`INSERT INTO r (name) VALUES ('a')`); err != nil {
		t.Fatal(err)
	}
}

func TestOpen_BadSchema(t *testing.T) {
	if _, err := dbopen.Open(":memory:", dbopen.WithSchema("CREATE NONSENSE")); err == nil {
		t.Fatal("Open: want error for invalid schema")
	}
}

func TestRunTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE r (n INTEGER)`))
	ctx := context.Background()

	if err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO r (n) VALUES (1)`)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO r (n) VALUES (2)`)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTx: got %v, want boom", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM r`).Scan(&count)
	if count != 1 {
		t.Errorf("rows: got %d, want 1 after rollback", count)
	}
}

func TestIsBusy(t *testing.T) {
	cases := map[string]bool{
		"database is locked (5) (SQLITE_BUSY)": true,
		"database is locked":                   true,
		"no such table: r":                     false,
	}
	for msg, want := range cases {
		if got := dbopen.IsBusy(errors.New(msg)); got != want {
			t.Errorf("IsBusy(%q): got %v", msg, got)
		}
	}
	if dbopen.IsBusy(nil) {
		t.Error("IsBusy(nil): want false")
	}
}
