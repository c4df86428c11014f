package kv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore is a Backend on a NATS JetStream key-value bucket.
//
// JetStream restricts key characters, so keys are stored base64url-encoded.
// Deleted keys leave tombstones that Keys does not report.
type NATSStore struct {
	url      string
	bucket   string
	history  uint8
	conn     *nats.Conn
	ownsConn bool
	kv       jetstream.KeyValue
}

// NATSOption configures a NATSStore.
type NATSOption func(*NATSStore)

// WithBucket sets the bucket name.
// Default: "memory"
func WithBucket(name string) NATSOption {
	return func(s *NATSStore) {
		s.bucket = name
	}
}

// WithHistory sets how many revisions per key the bucket keeps.
// Default: 1
func WithHistory(n uint8) NATSOption {
	return func(s *NATSStore) {
		s.history = n
	}
}

// NewNATSStore creates a store that connects to url during Init.
func NewNATSStore(url string, opts ...NATSOption) *NATSStore {
	s := &NATSStore{
		url:      url,
		bucket:   "memory",
		history:  1,
		ownsConn: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewNATSStoreFromConn creates a store on an existing connection.
// The connection is not closed by the store.
func NewNATSStoreFromConn(conn *nats.Conn, opts ...NATSOption) *NATSStore {
	s := NewNATSStore("", opts...)
	s.conn = conn
	s.ownsConn = false
	return s
}

// Init connects and gets the bucket, creating it if it does not exist.
func (s *NATSStore) Init(ctx context.Context) (err error) {
	if s.conn == nil {
		conn, cerr := nats.Connect(s.url, nats.Name("memvault"))
		if cerr != nil {
			return fmt.Errorf("nats: connect: %w", cerr)
		}
		s.conn = conn

		defer func() {
			if err != nil {
				s.conn.Close()
				s.conn = nil
			}
		}()
	}

	js, err := jetstream.New(s.conn)
	if err != nil {
		return fmt.Errorf("nats: jetstream: %w", err)
	}

	// Try the existing bucket first; create only if missing.
	bucket, err := js.KeyValue(ctx, s.bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		bucket, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  s.bucket,
			History: s.history,
		})
		if errors.Is(err, jetstream.ErrBucketExists) {
			bucket, err = js.KeyValue(ctx, s.bucket)
		}
	}
	if err != nil {
		return fmt.Errorf("nats: bucket %s: %w", s.bucket, err)
	}

	s.kv = bucket
	return nil
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(encoded string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	return string(b), err
}

// Get retrieves a value by key. Returns ErrNotFound if the key doesn't exist.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry.Value(), nil
}

// Set stores a value with the given key.
func (s *NATSStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.kv.Put(ctx, encodeKey(key), value)
	return err
}

// Delete removes a value by key. Returns nil if the key doesn't exist.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Keys returns all keys matching the given prefix, sorted.
// Encoded keys do not preserve prefixes, so filtering happens after decoding.
func (s *NATSStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer lister.Stop()

	keys := make([]string, 0)
	for encoded := range lister.Keys() {
		key, err := decodeKey(encoded)
		if err != nil {
			// Not written by this store.
			continue
		}
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

// Close drains the connection if the store opened it.
func (s *NATSStore) Close() error {
	if s.ownsConn && s.conn != nil {
		return s.conn.Drain()
	}
	return nil
}
