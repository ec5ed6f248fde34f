// Package store provides SQLite-backed persistence for transparency check
// state: the opt-in flag, self-check outcome, last distinguished tree head,
// schedule bookkeeping, and the per-account verification blobs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the check-state store.
const schema = `
CREATE TABLE IF NOT EXISTS kv (
    collection  TEXT NOT NULL,
    key         TEXT NOT NULL,
    value       BLOB NOT NULL,
    PRIMARY KEY (collection, key)
);

CREATE TABLE IF NOT EXISTS account_data (
    account_id  BLOB PRIMARY KEY,
    blob        BLOB NOT NULL
);
`

// Store is the durable check-state store. All access goes through Read and
// Write transactions; Write transactions may register hooks that run only
// after the commit is durable.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at the given path and applies the
// schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ReadTx is a read-only view of the store.
type ReadTx struct {
	tx *sql.Tx
}

// WriteTx is a read-write transaction. Hooks registered with AfterCommit
// run in registration order once the transaction has durably committed;
// they never run on rollback.
type WriteTx struct {
	ReadTx
	hooks []func()
}

// AfterCommit registers fn to run after the transaction commits.
func (tx *WriteTx) AfterCommit(fn func()) {
	tx.hooks = append(tx.hooks, fn)
}

// Read runs fn inside a read-only transaction.
func (s *Store) Read(ctx context.Context, fn func(tx *ReadTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&ReadTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit read transaction: %w", err)
	}
	return nil
}

// Write runs fn inside a read-write transaction, then runs any post-commit
// hooks fn registered.
func (s *Store) Write(ctx context.Context, fn func(tx *WriteTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write transaction: %w", err)
	}
	defer tx.Rollback()

	wtx := &WriteTx{ReadTx: ReadTx{tx: tx}}
	if err := fn(wtx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write transaction: %w", err)
	}
	for _, hook := range wtx.hooks {
		hook()
	}
	return nil
}

// getValue reads a raw kv value. Returns nil, nil when absent.
func (tx *ReadTx) getValue(collection, key string) ([]byte, error) {
	var value []byte
	err := tx.tx.QueryRow(
		`SELECT value FROM kv WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return value, nil
}

// setValue writes a raw kv value.
func (tx *WriteTx) setValue(collection, key string, value []byte) error {
	_, err := tx.tx.Exec(
		`INSERT OR REPLACE INTO kv (collection, key, value) VALUES (?, ?, ?)`,
		collection, key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, key, err)
	}
	return nil
}

// deleteValue removes a kv entry; deleting an absent key is not an error.
func (tx *WriteTx) deleteValue(collection, key string) error {
	if _, err := tx.tx.Exec(
		`DELETE FROM kv WHERE collection = ? AND key = ?`, collection, key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}
