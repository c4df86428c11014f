// Package memory is an encrypted, namespaced key-value store for application
// state such as settings and tokens.
//
// Values are encoded as JSON, encrypted with a passphrase held by the Store,
// and persisted through a kv.Engine under the composite key
// "namespace:id". The engine never sees plaintext.
//
// Load tells absence, undecryptable entries and corrupt JSON apart.
// LoadMemory collapses the first two into a nil value for callers that only
// want "have it or not".
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/erlorenz/memvault/crypt"
	"github.com/erlorenz/memvault/kv"
	"github.com/erlorenz/memvault/watch"
)

// Store holds the encryption key and the engine it persists through.
// It is safe for concurrent use.
//
// With the default codec each Save runs Argon2id (64 MiB, see
// crypt.DefaultKDF) and each Load of a blob the codec has not seen before
// does too. Pass WithCodec with cheaper crypt.KDFParams where that matters.
type Store struct {
	engine    *kv.Engine
	codec     *crypt.Codec
	logger    *slog.Logger
	publisher watch.Publisher

	mu  sync.RWMutex
	key string
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec used to encrypt values.
// Default: crypt.New()
func WithCodec(codec *crypt.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// WithLogger sets the logger.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithPublisher publishes a watch.Event after every committed save or delete.
// Publish failures are logged and do not fail the operation.
func WithPublisher(p watch.Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// New returns a Store persisting through engine. The engine is opened by
// the caller; operations wait for it to become ready.
func New(engine *kv.Engine, opts ...Option) *Store {
	s := &Store{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.codec == nil {
		s.codec = crypt.New()
	}
	return s
}

// SetEncryptionKey replaces the key used for subsequent saves and loads.
// Entries already persisted keep the key they were written with.
func (s *Store) SetEncryptionKey(key string) {
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
}

func (s *Store) encryptionKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Save encodes value as JSON, encrypts it with the current key and stores
// it under (namespace, id), replacing any previous value.
func (s *Store) Save(ctx context.Context, namespace, id string, value any) error {
	if err := validateKey(namespace, id); err != nil {
		return err
	}
	key := CompositeKey(namespace, id)

	if err := s.engine.Ready(ctx); err != nil {
		return fmt.Errorf("memory: save %s: %w", key, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return &SerializationError{Op: "encode", Namespace: namespace, ID: id, Err: err}
	}

	blob, err := s.codec.Encrypt(string(data), s.encryptionKey())
	if err != nil {
		return fmt.Errorf("memory: save %s: %w", key, err)
	}

	if err := s.engine.Set(ctx, key, []byte(blob)); err != nil {
		return err
	}

	s.publish(ctx, watch.OpSave, namespace, id)
	return nil
}

// SaveMemory is Save.
func (s *Store) SaveMemory(ctx context.Context, namespace, id string, value any) error {
	return s.Save(ctx, namespace, id, value)
}

// Load decrypts the entry under (namespace, id) and decodes it into dst,
// which must be a non-nil pointer.
//
// Errors:
//   - ErrNotFound: nothing stored under the key
//   - crypt.ErrNoKey: no encryption key is set
//   - crypt.ErrDecrypt: wrong key or corrupted entry
//   - *SerializationError: decrypted cleanly but is not valid JSON for dst
//   - *kv.StorageError: the engine failed
func (s *Store) Load(ctx context.Context, namespace, id string, dst any) error {
	if rv := reflect.ValueOf(dst); rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w, got %T", ErrInvalidDestination, dst)
	}
	if err := validateKey(namespace, id); err != nil {
		return err
	}
	key := CompositeKey(namespace, id)

	if err := s.engine.Ready(ctx); err != nil {
		return fmt.Errorf("memory: load %s: %w", key, err)
	}

	blob, err := s.engine.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	passphrase := s.encryptionKey()
	if passphrase == "" {
		return fmt.Errorf("memory: load %s: %w", key, crypt.ErrNoKey)
	}

	plaintext, err := s.codec.Decrypt(string(blob), passphrase)
	if err != nil {
		return fmt.Errorf("memory: load %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(plaintext), dst); err != nil {
		return &SerializationError{Op: "decode", Namespace: namespace, ID: id, Err: err}
	}
	return nil
}

// LoadMemory returns the value stored under (namespace, id) decoded into
// an any (objects as map[string]any, numbers as float64).
//
// A missing entry and one that cannot be decrypted with the current key both
// return (nil, nil). An entry that decrypts but is not valid JSON returns a
// *SerializationError.
func (s *Store) LoadMemory(ctx context.Context, namespace, id string) (any, error) {
	var value any
	err := s.Load(ctx, namespace, id, &value)
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case errors.Is(err, crypt.ErrDecrypt):
		s.logger.Warn("memory: entry cannot be decrypted with the current key",
			"namespace", namespace, "id", id)
		return nil, nil
	default:
		return nil, err
	}
}

// Delete removes the entry under (namespace, id). Deleting an absent entry
// is not an error.
func (s *Store) Delete(ctx context.Context, namespace, id string) error {
	if err := validateKey(namespace, id); err != nil {
		return err
	}

	if err := s.engine.Delete(ctx, CompositeKey(namespace, id)); err != nil {
		return err
	}

	s.publish(ctx, watch.OpDelete, namespace, id)
	return nil
}

// IDs returns the ids stored in namespace, sorted.
func (s *Store) IDs(ctx context.Context, namespace string) ([]string, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	prefix := namespace + Separator
	keys, err := s.engine.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, prefix))
	}
	return ids, nil
}

// Keys returns every composite key in the store, sorted.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.engine.ListKeys(ctx)
}

func (s *Store) publish(ctx context.Context, op watch.Op, namespace, id string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, watch.NewEvent(op, namespace, id)); err != nil {
		s.logger.Error("memory: publish change event",
			"op", op, "namespace", namespace, "id", id, "error", err)
	}
}
