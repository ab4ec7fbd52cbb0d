// Package db provides PostgreSQL storage for jobs, ingested documents, claims and tailored artifacts.
package db

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// DefaultMaxConns is used when Options.MaxConns is zero.
const DefaultMaxConns = 10

// terminalStatuses is the SQL list of job statuses that freeze a row.
const terminalStatuses = `('completed', 'failed', 'duplicate')`

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Options tunes the connection pool.
type Options struct {
	MaxConns int32
	MinConns int32
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	return ConnectWithOptions(ctx, databaseURL, Options{})
}

// ConnectWithOptions establishes a connection pool with explicit pool sizing.
func ConnectWithOptions(ctx context.Context, databaseURL string, opts Options) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = DefaultMaxConns
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Migrate applies the embedded schema files in name order. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire migration connection: %w", err)
	}
	defer conn.Release()

	var applied []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := schemaFS.ReadFile("schema/" + entry.Name())
		if err != nil {
			return applied, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		if _, err := conn.Exec(ctx, string(data)); err != nil {
			return applied, fmt.Errorf("failed to apply %s: %w", entry.Name(), err)
		}
		applied = append(applied, entry.Name())
	}
	return applied, nil
}
