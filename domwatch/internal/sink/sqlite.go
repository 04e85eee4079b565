package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/vitrine/dbopen"
	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

// Schema is the table layout used by the SQLite sink.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_batches (
	id           TEXT PRIMARY KEY,
	page_id      TEXT NOT NULL,
	page_url     TEXT NOT NULL DEFAULT '',
	seq          INTEGER NOT NULL,
	snapshot_ref TEXT NOT NULL DEFAULT '',
	ts           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watch_batches_page ON watch_batches(page_id, seq);

CREATE TABLE IF NOT EXISTS watch_events (
	id        TEXT PRIMARY KEY,
	batch_id  TEXT NOT NULL REFERENCES watch_batches(id) ON DELETE CASCADE,
	kind      TEXT NOT NULL,
	rule      TEXT NOT NULL,
	xpath     TEXT NOT NULL,
	tag       TEXT NOT NULL DEFAULT '',
	snippet   TEXT NOT NULL DEFAULT '',
	attr      TEXT NOT NULL DEFAULT '',
	old_value TEXT NOT NULL DEFAULT '',
	count     INTEGER NOT NULL DEFAULT 0,
	at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watch_events_batch ON watch_events(batch_id);

CREATE TABLE IF NOT EXISTS watch_snapshots (
	id        TEXT PRIMARY KEY,
	page_id   TEXT NOT NULL,
	page_url  TEXT NOT NULL DEFAULT '',
	html      BLOB NOT NULL,
	html_hash TEXT NOT NULL,
	ts        INTEGER NOT NULL
);`

// SQLite stores batches, their events and snapshots. The database must
// have been opened with Schema applied.
type SQLite struct {
	db  *sql.DB
	own bool
}

func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

// OpenSQLite opens the database file at path, creating the tables. The
// returned sink closes the database on Close.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("sink: sqlite: %w", err)
	}
	return &SQLite{db: db, own: true}, nil
}

func (s *SQLite) Send(ctx context.Context, b mutation.Batch) error {
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO watch_batches (id, page_id, page_url, seq, snapshot_ref, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			b.ID, b.PageID, b.PageURL, b.Seq, b.SnapshotRef, b.Timestamp); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO watch_events (id, batch_id, kind, rule, xpath, tag, snippet, attr, old_value, count, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ev := range b.Events {
			if _, err := stmt.ExecContext(ctx, ev.ID, b.ID, string(ev.Kind), ev.Rule, ev.XPath,
				ev.Tag, ev.Snippet, ev.Attr, ev.OldValue, ev.Count, ev.At); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sink: sqlite: batch %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLite) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_snapshots (id, page_id, page_url, html, html_hash, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.PageID, snap.PageURL, snap.HTML, snap.HTMLHash, snap.Timestamp)
	if err != nil {
		return fmt.Errorf("sink: sqlite: snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Close closes the database if the sink opened it.
func (s *SQLite) Close() error {
	if !s.own {
		return nil
	}
	return s.db.Close()
}

// Recent returns up to limit of the latest batches of a page, newest first,
// with their events.
func (s *SQLite) Recent(ctx context.Context, pageID string, limit int) ([]mutation.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page_url, seq, snapshot_ref, ts FROM watch_batches
		 WHERE page_id = ? ORDER BY seq DESC LIMIT ?`, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("sink: sqlite: recent: %w", err)
	}
	var out []mutation.Batch
	for rows.Next() {
		b := mutation.Batch{PageID: pageID}
		if err := rows.Scan(&b.ID, &b.PageURL, &b.Seq, &b.SnapshotRef, &b.Timestamp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sink: sqlite: recent: %w", err)
		}
		out = append(out, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sink: sqlite: recent: %w", err)
	}

	for i := range out {
		evs, err := s.events(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Events = evs
	}
	return out, nil
}

func (s *SQLite) events(ctx context.Context, batchID string) ([]mutation.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, rule, xpath, tag, snippet, attr, old_value, count, at
		 FROM watch_events WHERE batch_id = ? ORDER BY rowid`, batchID)
	if err != nil {
		return nil, fmt.Errorf("sink: sqlite: events: %w", err)
	}
	defer rows.Close()

	var evs []mutation.Event
	for rows.Next() {
		var ev mutation.Event
		var kind string
		if err := rows.Scan(&ev.ID, &kind, &ev.Rule, &ev.XPath, &ev.Tag, &ev.Snippet,
			&ev.Attr, &ev.OldValue, &ev.Count, &ev.At); err != nil {
			return nil, fmt.Errorf("sink: sqlite: events: %w", err)
		}
		ev.Kind = mutation.Kind(kind)
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}
