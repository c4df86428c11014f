// Package kv provides the storage engine behind memvault: a single handle to
// a persistent key-value substrate with an explicit open step.
//
// The engine works with raw []byte values and never looks inside them.
// Encryption and serialization are the caller's job (see package memory).
//
// Backends:
//   - MemoryStore: process memory, for tests and ephemeral use
//   - BadgerStore: embedded Badger database (the default)
//   - PostgresStore: a PostgreSQL table via pgx
//   - NATSStore: a NATS JetStream key-value bucket
package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key is not found in the store.
	ErrNotFound = errors.New("kv: key not found")

	// ErrNotOpen is returned when an operation is attempted on an engine
	// that has never been opened.
	ErrNotOpen = errors.New("kv: engine not open")

	// ErrClosed is returned when an operation is attempted on a closed engine.
	ErrClosed = errors.New("kv: engine closed")
)

// Store is a key-value store interface that works with raw bytes.
type Store interface {
	// Get retrieves a value by key. Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value under key in one atomic write, replacing any
	// previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a value by key. Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys matching the given prefix, sorted.
	// If prefix is empty, returns all keys.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close closes the store and releases any resources.
	Close() error
}

// Backend is a Store with an initialization step. Init opens the substrate
// and creates the named table (or bucket, or prefix) on first use.
// Store methods are only called after Init returned nil.
type Backend interface {
	Store
	Init(ctx context.Context) error
}

// State is the lifecycle state of an Engine.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StorageError reports a failed engine operation.
type StorageError struct {
	Op  string // "open", "get", "set", "delete", "keys", "close"
	Key string // empty for operations without a key
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("kv: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kv: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
