package kv

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Engine owns one Backend and gates every operation on it behind an
// explicit Open. Construction performs no I/O.
//
// State machine:
//
//	Uninitialized --Open--> Initializing --ok--> Ready --Close--> Closed
//	                                     \--err-> Failed (terminal)
//
// A Failed engine stays failed; construct a new one to retry.
// Engine is safe for concurrent use.
type Engine struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics

	mu      sync.Mutex
	state   State
	openErr error
	opened  chan struct{} // closed when Initializing ends

	// ops is held for reading by every backend call and for writing by
	// Close, so the backend is never closed under a running operation.
	ops sync.RWMutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger for lifecycle events.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine for backend. Call Open before use.
func NewEngine(backend Backend, opts ...EngineOption) *Engine {
	e := &Engine{
		backend: backend,
		logger:  slog.Default(),
		state:   StateUninitialized,
		opened:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.metrics.setState(StateUninitialized)
	return e
}

// State returns the current lifecycle state without side effects.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the open error of a Failed engine, or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openErr
}

// Open initializes the backend. The first call performs the work; every
// other call, concurrent or later, waits for and returns the same outcome.
// ctx bounds the initialization for the first caller and the wait for the
// others.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateUninitialized:
		e.state = StateInitializing
		e.mu.Unlock()
		e.metrics.setState(StateInitializing)
		return e.initialize(ctx)
	case StateClosed:
		e.mu.Unlock()
		return &StorageError{Op: "open", Err: ErrClosed}
	default:
		e.mu.Unlock()
		return e.Ready(ctx)
	}
}

func (e *Engine) initialize(ctx context.Context) error {
	start := time.Now()
	err := e.backend.Init(ctx)

	e.mu.Lock()
	if err != nil {
		e.state = StateFailed
		e.openErr = &StorageError{Op: "open", Err: err}
	} else {
		e.state = StateReady
	}
	state, openErr := e.state, e.openErr
	close(e.opened)
	e.mu.Unlock()

	e.metrics.setState(state)
	e.metrics.observe("open", start, err)

	if err != nil {
		e.logger.Error("kv engine failed to open", "error", err)
		return openErr
	}

	e.logger.Debug("kv engine ready", "elapsed", time.Since(start))
	return nil
}

// Ready waits until the engine is usable. It returns nil once Ready,
// ErrNotOpen if Open was never called, the open error if Failed, and
// ErrClosed after Close.
func (e *Engine) Ready(ctx context.Context) error {
	for {
		e.mu.Lock()
		state, openErr, opened := e.state, e.openErr, e.opened
		e.mu.Unlock()

		switch state {
		case StateReady:
			return nil
		case StateFailed:
			return openErr
		case StateUninitialized:
			return ErrNotOpen
		case StateClosed:
			return ErrClosed
		}

		select {
		case <-opened:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// begin waits for the engine to be ready and registers an in-flight
// operation. The returned func must be called when the backend call ends.
func (e *Engine) begin(ctx context.Context) (func(), error) {
	if err := e.Ready(ctx); err != nil {
		return nil, err
	}

	e.ops.RLock()
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != StateReady {
		e.ops.RUnlock()
		return nil, ErrClosed
	}

	return e.ops.RUnlock, nil
}

// Get returns the raw blob stored under key, or ErrNotFound.
func (e *Engine) Get(ctx context.Context, key string) ([]byte, error) {
	release, err := e.begin(ctx)
	if err != nil {
		return nil, e.wrap("get", key, err)
	}
	defer release()

	start := time.Now()
	value, err := e.backend.Get(ctx, key)
	e.metrics.observe("get", start, err)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, e.wrap("get", key, err)
	}

	return value, nil
}

// Set writes blob under key in one atomic write.
func (e *Engine) Set(ctx context.Context, key string, blob []byte) error {
	release, err := e.begin(ctx)
	if err != nil {
		return e.wrap("set", key, err)
	}
	defer release()

	start := time.Now()
	err = e.backend.Set(ctx, key, blob)
	e.metrics.observe("set", start, err)

	return e.wrap("set", key, err)
}

// Delete removes key. Deleting an absent key is not an error.
func (e *Engine) Delete(ctx context.Context, key string) error {
	release, err := e.begin(ctx)
	if err != nil {
		return e.wrap("delete", key, err)
	}
	defer release()

	start := time.Now()
	err = e.backend.Delete(ctx, key)
	e.metrics.observe("delete", start, err)

	return e.wrap("delete", key, err)
}

// ListKeys returns a snapshot of every key in the store, sorted.
func (e *Engine) ListKeys(ctx context.Context) ([]string, error) {
	return e.Keys(ctx, "")
}

// Keys returns a snapshot of the keys starting with prefix, sorted.
func (e *Engine) Keys(ctx context.Context, prefix string) ([]string, error) {
	release, err := e.begin(ctx)
	if err != nil {
		return nil, e.wrap("keys", "", err)
	}
	defer release()

	start := time.Now()
	keys, err := e.backend.Keys(ctx, prefix)
	e.metrics.observe("keys", start, err)
	if err != nil {
		return nil, e.wrap("keys", "", err)
	}

	if !sort.StringsAreSorted(keys) {
		sort.Strings(keys)
	}
	return keys, nil
}

// Close releases the backend. Closing an engine that never became Ready
// only marks it Closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	prev := e.state
	if prev == StateClosed {
		e.mu.Unlock()
		return nil
	}
	if prev == StateInitializing {
		e.mu.Unlock()
		// Let the pending open settle so the backend is not closed under it.
		<-e.opened
		e.mu.Lock()
		prev = e.state
		if prev == StateClosed {
			e.mu.Unlock()
			return nil
		}
	}
	e.state = StateClosed
	e.mu.Unlock()

	e.metrics.setState(StateClosed)

	if prev != StateReady {
		return nil
	}

	// New operations now fail with ErrClosed; wait for running ones.
	e.ops.Lock()
	defer e.ops.Unlock()

	if err := e.backend.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}

	e.logger.Debug("kv engine closed")
	return nil
}

// wrap turns an error into a *StorageError unless it already is one.
func (e *Engine) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
