package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite keeps values in a single-table SQLite database
type SQLite struct {
	db   *sql.DB
	path string
}

var _ interfaces.KeyValueStore = (*SQLite)(nil)

// NewSQLite opens (and creates if needed) the database at path
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, goerr.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create sqlite directory", goerr.V("path", path))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, path: path}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range pragmas {
		if err := s.exec(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to initialize sqlite database", goerr.V("path", path))
		}
	}

	return s, nil
}

// Close releases the database handle
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close sqlite database", goerr.V("path", s.path))
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *SQLite) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "key not found", goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read sqlite value", goerr.V("key", key))
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	err := s.exec(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return goerr.Wrap(errors.Join(model.ErrStorage, err), "failed to write sqlite value", goerr.V("key", key))
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := s.exec(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return goerr.Wrap(err, "failed to delete sqlite value", goerr.V("key", key))
	}
	return nil
}
