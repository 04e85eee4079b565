package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/vitrine/domwatch/internal/pagewatch"
)

// Schema is the rule store layout.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_rules (
	page_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	selector   TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (page_id, name)
);`

// LoadRules returns the stored rules per page, in insertion order.
func LoadRules(ctx context.Context, db *sql.DB) (map[string][]pagewatch.Rule, error) {
	rows, err := db.QueryContext(ctx, `SELECT page_id, name, kind, selector FROM watch_rules ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("config: load rules: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]pagewatch.Rule)
	for rows.Next() {
		var page string
		var r pagewatch.Rule
		if err := rows.Scan(&page, &r.Name, &r.Kind, &r.Selector); err != nil {
			return nil, fmt.Errorf("config: load rules: %w", err)
		}
		out[page] = append(out[page], r)
	}
	return out, rows.Err()
}

// SaveRule inserts or replaces a rule of pageID.
func SaveRule(ctx context.Context, db *sql.DB, pageID string, r pagewatch.Rule) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO watch_rules (page_id, name, kind, selector, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (page_id, name) DO UPDATE SET kind = excluded.kind, selector = excluded.selector,
			updated_at = excluded.updated_at`,
		pageID, r.Name, r.Kind, r.Selector, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: save rule %s/%s: %w", pageID, r.Name, err)
	}
	return nil
}

// DeleteRule removes a rule and reports whether it existed.
func DeleteRule(ctx context.Context, db *sql.DB, pageID, name string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM watch_rules WHERE page_id = ? AND name = ?`, pageID, name)
	if err != nil {
		return false, fmt.Errorf("config: delete rule %s/%s: %w", pageID, name, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// WatchRules calls fn every time another connection commits to the
// database, checking PRAGMA data_version every interval. It blocks until
// ctx is done.
func WatchRules(ctx context.Context, db *sql.DB, interval time.Duration, fn func()) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("config: watch rules: %w", err)
	}
	defer conn.Close()

	version := func() (int64, error) {
		var v int64
		err := conn.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v)
		return v, err
	}
	last, err := version()
	if err != nil {
		return fmt.Errorf("config: watch rules: %w", err)
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		v, err := version()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("config: watch rules: %w", err)
		}
		if v != last {
			last = v
			fn()
		}
	}
}
