//go:build sqlite
// +build sqlite

package tracker

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"eventwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, ErrNoPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Only one run writes at a time; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	b := &sqliteBackend{db: db, log: log}
	if err := b.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *sqliteBackend) migrate(ctx context.Context) error {
	schema, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, string(schema))
	return err
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *sqliteBackend) Load(ctx context.Context) (map[int64]time.Time, bool, error) {
	entries := map[int64]time.Time{}

	rows, err := b.db.QueryContext(ctx, `SELECT id, sent_at FROM sent_events`)
	if err != nil {
		b.log.Warn("tracking table unreadable, starting with empty history", logx.Err(err))
		return entries, false, nil
	}
	defer rows.Close()

	invalid := 0
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			b.log.Warn("dropping unreadable tracking row", logx.Err(err))
			invalid++
			continue
		}
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			b.log.Warn("dropping tracking entry with invalid timestamp",
				logx.Int64("id", id), logx.String("sent_at", raw))
			invalid++
			continue
		}
		entries[id] = at
	}
	if err := rows.Err(); err != nil {
		b.log.Warn("tracking table scan incomplete", logx.Err(err))
	}
	// Dropped rows must not survive in the table; ask for a rewrite.
	return entries, invalid > 0, nil
}

func (b *sqliteBackend) Save(ctx context.Context, entries map[int64]time.Time, now time.Time) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sent_events`); err != nil {
		return err
	}
	for id, at := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sent_events(id, sent_at) VALUES(?, ?)`,
			id, at.Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('last_updated', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		now.Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}
