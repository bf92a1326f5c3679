// Package store is the sqlite persistence layer: hosts, users and
// grants, reports, abuse incidents, reputation and throttle counters.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExpired  = errors.New("expired")
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS hosts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fqdn TEXT NOT NULL UNIQUE,
	addr TEXT NOT NULL,
	port INTEGER NOT NULL DEFAULT 22,
	user TEXT NOT NULL,
	panel TEXT NOT NULL DEFAULT 'none',
	public_key TEXT NOT NULL DEFAULT '',
	key_created_at TIMESTAMP DEFAULT NULL,
	host_key TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	admin BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS grants (
	user_id TEXT NOT NULL,
	host_id INTEGER NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (user_id, host_id)
);
CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	host_id INTEGER NOT NULL,
	ip TEXT NOT NULL,
	services TEXT NOT NULL DEFAULT '{}',
	summary TEXT NOT NULL DEFAULT '',
	blocked BOOLEAN NOT NULL DEFAULT FALSE,
	unblocked BOOLEAN NOT NULL DEFAULT FALSE,
	success BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS abuse_incidents (
	id TEXT PRIMARY KEY,
	vector TEXT NOT NULL,
	identifier TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP DEFAULT NULL
);
CREATE TABLE IF NOT EXISTS reputation (
	identifier TEXT PRIMARY KEY,
	requested INTEGER NOT NULL DEFAULT 0,
	verified INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS counters (
	vector TEXT NOT NULL,
	identifier TEXT NOT NULL,
	window_start TIMESTAMP NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (vector, identifier, window_start)
);
`

// Open initializes the sqlite database at path, creating the schema
// when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type TxCallback = func(ctx context.Context, tx *sql.Tx) error

// Tx runs fn inside a transaction, committing on success.
func (s *Store) Tx(ctx context.Context, fn TxCallback) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("Calling `tx.Rollback()` failed.", slog.String("err", err.Error()))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}

	return nil
}
