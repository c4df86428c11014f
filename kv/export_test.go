package kv

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
)

// PoolOf exposes the pool a PostgresStore holds.
func PoolOf(s *PostgresStore) *pgxpool.Pool { return s.pool }

// ConnOf exposes the connection a NATSStore holds.
func ConnOf(s *NATSStore) *nats.Conn { return s.conn }
