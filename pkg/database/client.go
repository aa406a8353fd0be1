// Package database provides the embedded SQLite client and migration
// utilities. One database file per concern, one workspace each.
package database

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"io/fs"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver
)

// ErrStorageCorrupt indicates the store failed an integrity check.
// Fatal: the process aborts with a non-zero exit.
var ErrStorageCorrupt = errors.New("storage corrupt")

// Client wraps one SQLite file with a pooled read handle and a dedicated
// single-connection write handle. The embedded engine tolerates many
// readers under WAL but only one writer; serializing all writes through
// one connection removes SQLITE_BUSY races between loops.
type Client struct {
	read  *stdsql.DB
	write *stdsql.DB
}

// Open opens (creating if needed) the database file at path, applies the
// embedded migrations from migrationsFS/dir, and returns the client.
func Open(ctx context.Context, path string, migrationsFS fs.FS, dir string) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)

	write, err := stdsql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := stdsql.Open("sqlite", dsn)
	if err != nil {
		_ = write.Close()
		return nil, fmt.Errorf("failed to open read handle: %w", err)
	}
	read.SetMaxOpenConns(4)

	if err := write.PingContext(ctx); err != nil {
		_ = write.Close()
		_ = read.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(write, migrationsFS, dir); err != nil {
		_ = write.Close()
		_ = read.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := integrityCheck(ctx, read); err != nil {
		_ = write.Close()
		_ = read.Close()
		return nil, err
	}

	return &Client{read: read, write: write}, nil
}

// Read returns the pooled handle for queries.
func (c *Client) Read() *stdsql.DB { return c.read }

// Write returns the single-connection handle. All mutations go through it.
func (c *Client) Write() *stdsql.DB { return c.write }

// WithTx runs fn inside a write transaction, committing on nil and rolling
// back on error. The transaction inherits the single-writer serialization.
func (c *Client) WithTx(ctx context.Context, fn func(tx *stdsql.Tx) error) error {
	tx, err := c.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close closes both handles.
func (c *Client) Close() error {
	errRead := c.read.Close()
	errWrite := c.write.Close()
	if errWrite != nil {
		return errWrite
	}
	return errRead
}

// integrityCheck runs PRAGMA quick_check and maps failures to
// ErrStorageCorrupt.
func integrityCheck(ctx context.Context, db *stdsql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: quick_check failed: %v", ErrStorageCorrupt, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", ErrStorageCorrupt, result)
	}
	return nil
}
