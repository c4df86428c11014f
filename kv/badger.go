package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore is a Backend on an embedded Badger database.
//
// Several named tables may share one database directory: every key of a
// table is stored as "<table>\x00<key>", and Init records the table under a
// reserved marker key the first time it is created.
type BadgerStore struct {
	dir        string
	table      string
	inMemory   bool
	syncWrites bool
	gcInterval time.Duration
	logger     *slog.Logger

	db     *badger.DB
	prefix []byte

	gcStop    chan struct{}
	gcDone    sync.WaitGroup
	closeOnce sync.Once
}

// BadgerOption configures a BadgerStore.
type BadgerOption func(*BadgerStore)

// WithBadgerTable sets the table name.
// Default: "memory"
func WithBadgerTable(name string) BadgerOption {
	return func(s *BadgerStore) {
		s.table = name
	}
}

// WithBadgerInMemory keeps the database in memory. The directory is ignored.
// Default: false
func WithBadgerInMemory(inMemory bool) BadgerOption {
	return func(s *BadgerStore) {
		s.inMemory = inMemory
	}
}

// WithBadgerSyncWrites fsyncs after every write.
// Default: false
func WithBadgerSyncWrites(sync bool) BadgerOption {
	return func(s *BadgerStore) {
		s.syncWrites = sync
	}
}

// WithBadgerGC runs value log garbage collection at the given interval.
// Default: no automatic GC
func WithBadgerGC(interval time.Duration) BadgerOption {
	return func(s *BadgerStore) {
		s.gcInterval = interval
	}
}

// WithBadgerLogger routes Badger's internal logging to logger.
// Default: slog.Default()
func WithBadgerLogger(logger *slog.Logger) BadgerOption {
	return func(s *BadgerStore) {
		s.logger = logger
	}
}

// NewBadgerStore creates a store in dir. The database is opened by Init.
func NewBadgerStore(dir string, opts ...BadgerOption) *BadgerStore {
	s := &BadgerStore{
		dir:    dir,
		table:  "memory",
		logger: slog.Default(),
		gcStop: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.prefix = []byte(s.table + "\x00")
	return s
}

// Init opens (or creates) the database and registers the table.
func (s *BadgerStore) Init(ctx context.Context) error {
	if s.table == "" || strings.ContainsRune(s.table, 0) {
		return fmt.Errorf("badger: invalid table name %q", s.table)
	}
	if !s.inMemory && s.dir == "" {
		return errors.New("badger: dir is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := badger.DefaultOptions(s.dir).
		WithLogger(&badgerLogger{logger: s.logger}).
		WithSyncWrites(s.syncWrites)
	if s.inMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("badger: open db: %w", err)
	}

	created := false
	marker := []byte("\x00table\x00" + s.table)
	err = db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(marker)
		if errors.Is(err, badger.ErrKeyNotFound) {
			created = true
			return txn.Set(marker, []byte("1"))
		}
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("badger: create table %s: %w", s.table, err)
	}

	s.db = db
	if created {
		s.logger.Info("badger table created", "dir", s.dir, "table", s.table)
	}

	if s.gcInterval > 0 && !s.inMemory {
		s.gcDone.Add(1)
		go s.gcLoop()
	}

	return nil
}

func (s *BadgerStore) key(key string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(key))
	k = append(k, s.prefix...)
	return append(k, key...)
}

// Get retrieves a value by key. Returns ErrNotFound if the key doesn't exist.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Set stores a value with the given key.
func (s *BadgerStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), value)
	})
}

// Delete removes a value by key. Returns nil if the key doesn't exist.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
}

// Keys returns all keys of the table matching the given prefix.
// Badger iterates in key order, so the result is sorted.
func (s *BadgerStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.key(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			keys = append(keys, string(k[len(s.prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

// Close stops garbage collection and closes the database.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.gcStop)
		s.gcDone.Wait()

		if s.db == nil {
			return
		}
		if cerr := s.db.Close(); cerr != nil {
			err = fmt.Errorf("badger: close db: %w", cerr)
		}
	})
	return err
}

func (s *BadgerStore) gcLoop() {
	defer s.gcDone.Done()

	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					s.logger.Warn("badger value log gc failed", "error", err)
				}
				break
			}
		case <-s.gcStop:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
