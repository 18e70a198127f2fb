// Package history persists completed transcriptions in SQLite with
// full-text search and retry-on-busy semantics.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/murmurlabs/murmur-core/internal/config"
)

const maxRetries = 5

// retryBackoff is indexed by attempt number.
var retryBackoff = [maxRetries]time.Duration{
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
}

// Entry is one saved transcription.
type Entry struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	CreatedAt  string `json:"created_at"`
	DurationMS int64  `json:"duration_ms"`
	Model      string `json:"model"`
}

// Store wraps the history database. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open creates the database file if needed, applies the schema, and returns
// a ready Store.
func Open(cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		cfg.Path, cfg.BusyTimeoutMS,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS transcriptions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    text        TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    duration_ms INTEGER,
    model       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_created_at
  ON transcriptions(created_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS transcriptions_fts
  USING fts5(text, content=transcriptions, content_rowid=id);

CREATE TRIGGER IF NOT EXISTS transcriptions_ai AFTER INSERT ON transcriptions BEGIN
  INSERT INTO transcriptions_fts(rowid, text) VALUES (new.id, new.text);
END;

CREATE TRIGGER IF NOT EXISTS transcriptions_ad AFTER DELETE ON transcriptions BEGIN
  INSERT INTO transcriptions_fts(transcriptions_fts, rowid, text)
  VALUES ('delete', old.id, old.text);
END;

CREATE TRIGGER IF NOT EXISTS transcriptions_au AFTER UPDATE ON transcriptions BEGIN
  INSERT INTO transcriptions_fts(transcriptions_fts, rowid, text)
  VALUES ('delete', old.id, old.text);
  INSERT INTO transcriptions_fts(rowid, text) VALUES (new.id, new.text);
END;
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply history schema: %w", err)
	}
	return nil
}

// Insert saves a transcription and returns its row id.
func (s *Store) Insert(ctx context.Context, text string, durationMS int64, model string) (int64, error) {
	var id int64
	err := s.withRetry(ctx, "insert", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO transcriptions (text, duration_ms, model) VALUES (?, ?, ?)`,
			text, durationMS, model,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert transcription: %w", err)
	}
	return id, nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := s.withRetry(ctx, "list", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, text, created_at, COALESCE(duration_ms, 0), model
			 FROM transcriptions
			 ORDER BY id DESC
			 LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			var e Entry
			if err := rows.Scan(&e.ID, &e.Text, &e.CreatedAt, &e.DurationMS, &e.Model); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}
	return entries, nil
}

// Search runs a full-text query over saved transcriptions, newest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := s.withRetry(ctx, "search", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT t.id, t.text, t.created_at, COALESCE(t.duration_ms, 0), t.model
			 FROM transcriptions_fts f
			 JOIN transcriptions t ON t.id = f.rowid
			 WHERE transcriptions_fts MATCH ?
			 ORDER BY t.id DESC
			 LIMIT ?`, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			var e Entry
			if err := rows.Scan(&e.ID, &e.Text, &e.CreatedAt, &e.DurationMS, &e.Model); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("search transcriptions: %w", err)
	}
	return entries, nil
}

// Delete removes one entry by id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	err := s.withRetry(ctx, "delete", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete transcription %d: %w", id, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry runs op up to maxRetries+1 times, backing off on busy/locked
// errors. Anything else propagates immediately.
func (s *Store) withRetry(ctx context.Context, name string, op func() error) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || !isRetryable(err) {
			return err
		}
		s.log.Warn("history db busy, retrying",
			slog.String("op", name),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", retryBackoff[attempt]))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff[attempt]):
		}
	}
}

func isRetryable(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	code := sqlErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
