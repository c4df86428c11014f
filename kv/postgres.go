package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL Backend. Each store owns one table
// (key TEXT PRIMARY KEY, value BYTEA), created by Init if missing.
//
// The store either borrows a pool (NewPostgresStore) or opens its own from a
// connection string during Init (NewPostgresStoreFromURL). A borrowed pool
// is never closed by the store.
type PostgresStore struct {
	pool      *pgxpool.Pool
	connStr   string
	ownsPool  bool
	tableName string
	schema    string
	unlogged  bool
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTableName sets the table name for the store.
// Default: "memory"
func WithTableName(name string) PostgresOption {
	return func(s *PostgresStore) {
		s.tableName = name
	}
}

// WithSchema sets the PostgreSQL schema for the table.
// Default: "public"
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) {
		s.schema = schema
	}
}

// WithUnlogged creates an UNLOGGED table. Faster, but data is lost on crash.
// Default: false
func WithUnlogged(unlogged bool) PostgresOption {
	return func(s *PostgresStore) {
		s.unlogged = unlogged
	}
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		pool:      pool,
		tableName: "memory",
		schema:    "public",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewPostgresStoreFromURL creates a store that opens its own pool from
// connStr during Init and closes it on Close.
func NewPostgresStoreFromURL(connStr string, opts ...PostgresOption) *PostgresStore {
	s := NewPostgresStore(nil, opts...)
	s.connStr = connStr
	s.ownsPool = true
	return s
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, s.tableName}.Sanitize()
}

// Init connects (if the store owns its pool), checks the connection and
// creates the table if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) (err error) {
	if s.pool == nil {
		if s.connStr == "" {
			return errors.New("postgres: no pool or connection string")
		}
		pool, perr := pgxpool.New(ctx, s.connStr)
		if perr != nil {
			return fmt.Errorf("postgres: create pool: %w", perr)
		}
		s.pool = pool

		// A failed Init leaves the engine Failed and Close skips the
		// backend, so release the pool here.
		defer func() {
			if err != nil {
				s.pool.Close()
				s.pool = nil
			}
		}()
	}

	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}

	return s.CreateTable(ctx)
}

// CreateTable creates the key-value table. It is safe to call repeatedly.
func (s *PostgresStore) CreateTable(ctx context.Context) error {
	unloggedClause := ""
	if s.unlogged {
		unloggedClause = "UNLOGGED"
	}

	query := fmt.Sprintf(`
		CREATE %s TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, unloggedClause, s.table())

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", s.table(), err)
	}

	return nil
}

// Get retrieves a value by key. Returns ErrNotFound if the key doesn't exist.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table())

	var data []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return data, nil
}

// Set upserts a value. Concurrent writers to the same key resolve by commit
// order.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, s.table())

	_, err := s.pool.Exec(ctx, query, key, value)
	return err
}

// Delete removes a value by key. Returns nil if the key doesn't exist.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table())

	_, err := s.pool.Exec(ctx, query, key)
	return err
}

// Keys returns all keys matching the given prefix, sorted.
// starts_with is used instead of LIKE so '%' and '_' in keys stay literal.
func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var query string
	var args []any

	if prefix == "" {
		query = fmt.Sprintf(`SELECT key FROM %s ORDER BY key COLLATE "C"`, s.table())
	} else {
		query = fmt.Sprintf(`SELECT key FROM %s WHERE starts_with(key, $1) ORDER BY key COLLATE "C"`, s.table())
		args = append(args, prefix)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// Close closes the pool if the store opened it.
func (s *PostgresStore) Close() error {
	if s.ownsPool && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
