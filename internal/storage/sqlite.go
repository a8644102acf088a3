package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLite persists slots to a local database file. It is the default store
// for a single tracker process.
type SQLite struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLite opens (or creates) the database at path. Use ":memory:" in tests.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	// WAL + busy timeout to avoid "database is locked"
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS osb_kv(
	  key        TEXT PRIMARY KEY,
	  kind       TEXT NOT NULL CHECK (kind IN ('string','list')),
	  value      TEXT NOT NULL,
	  updated_at TEXT NOT NULL
	);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) get(ctx context.Context, key, kind string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM osb_kv WHERE key = ? AND kind = ?`, key, kind).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) set(ctx context.Context, key, kind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO osb_kv (key, kind, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, kind, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) GetString(ctx context.Context, key string) (string, error) {
	return s.get(ctx, key, kindString)
}

func (s *SQLite) GetList(ctx context.Context, key string) ([]string, error) {
	raw, err := s.get(ctx, key, kindList)
	if err != nil {
		return nil, err
	}
	return decodeList(raw)
}

func (s *SQLite) SetString(ctx context.Context, key, value string) error {
	return s.set(ctx, key, kindString, value)
}

func (s *SQLite) SetList(ctx context.Context, key string, values []string) error {
	raw, err := encodeList(values)
	if err != nil {
		return err
	}
	return s.set(ctx, key, kindList, raw)
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM osb_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Close is idempotent.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
