// Package postgres archives dispatch and solution events for offline
// analysis and payout reconciliation. The archive is append-mostly; the live
// lifecycle state lives in the work store, never here.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// NewClient opens a connection pool for the given postgres URL.
func NewClient(url string) (*Client, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

// EnsureSchema creates the archive tables when they do not exist yet.
func (c *Client) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			block_num BIGINT NOT NULL,
			header TEXT NOT NULL,
			fee DOUBLE PRECISION NOT NULL,
			state TEXT NOT NULL,
			dispatch_count INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dispatch_records (
			id TEXT PRIMARY KEY,
			work_id TEXT NOT NULL,
			miner_id TEXT NOT NULL,
			dispatch_count INT NOT NULL,
			fee DOUBLE PRECISION NOT NULL,
			dispatched_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_records_work ON dispatch_records (work_id)`,
		`CREATE TABLE IF NOT EXISTS solutions (
			id BIGSERIAL PRIMARY KEY,
			work_id TEXT NOT NULL,
			miner_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT,
			fee DOUBLE PRECISION NOT NULL,
			nonce TEXT,
			submitted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_solutions_miner ON solutions (miner_id, submitted_at)`,
	}

	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure archive schema: %w", err)
		}
	}
	return nil
}
