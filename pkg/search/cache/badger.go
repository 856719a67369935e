// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config of a BadgerStore.
type Config struct {
	// Path is the directory of the database files, created if it doesn't exist.
	// Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in memory only: contents are lost on Close.
	InMemory bool

	// SyncWrites makes every write durable before returning.
	SyncWrites bool
}

// DefaultConfig returns the configuration of a persistent store in path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// BadgerStore implements Store on an embedded BadgerDB.
type BadgerStore struct {
	db       *badger.DB
	path     string
	inMemory bool
}

// Compile-time check.
var _ Store = (*BadgerStore)(nil)

// klogAdapter adapts klog to badger.Logger.
type klogAdapter struct{}

func (klogAdapter) Errorf(format string, args ...any) {
	klog.ErrorDepth(1, fmt.Sprintf("badger: "+format, args...))
}

func (klogAdapter) Warningf(format string, args ...any) {
	klog.WarningDepth(1, fmt.Sprintf("badger: "+format, args...))
}

func (klogAdapter) Infof(format string, args ...any) {
	klog.V(2).InfoDepth(1, fmt.Sprintf("badger: "+format, args...))
}

func (klogAdapter) Debugf(format string, args ...any) {
	klog.V(3).InfoDepth(1, fmt.Sprintf("badger: "+format, args...))
}

// Open creates or opens a BadgerStore. Failures are reported wrapping ErrCacheUnavailable.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.Wrap(ErrCacheUnavailable, "a path is required for a persistent cache")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.Wrapf(ErrCacheUnavailable, "failed to create cache directory %q: %v", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(klogAdapter{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(ErrCacheUnavailable, "failed to open cache in %q: %v", cfg.Path, err)
	}
	klog.V(2).Infof("opened autotune cache (path=%q, in-memory=%v)", cfg.Path, cfg.InMemory)
	return &BadgerStore{db: db, path: cfg.Path, inMemory: cfg.InMemory}, nil
}

// OpenInMemory opens a BadgerStore that is never persisted, used for tests.
func OpenInMemory() (*BadgerStore, error) {
	return Open(Config{InMemory: true})
}

// Path of the database, empty for in-memory stores.
func (s *BadgerStore) Path() string { return s.path }

// Get implements Store.
func (s *BadgerStore) Get(table string, key any) ([]byte, bool) {
	k, err := Key(table, key)
	if err != nil {
		klog.Warningf("cache: %+v", err)
		return nil, false
	}
	var value []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			klog.Warningf("cache: failed to read table %q: %v", table, err)
		}
		return nil, false
	}
	return value, true
}

// Put implements Store.
func (s *BadgerStore) Put(table string, key any, value []byte) {
	k, err := Key(table, key)
	if err != nil {
		klog.Warningf("cache: %+v", err)
		return
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, value)
	})
	if err != nil {
		klog.Warningf("cache: failed to write table %q: %v", table, err)
	}
}

// Stats returns the number of keys stored in each of the given tables.
func (s *BadgerStore) Stats(tables ...string) (map[string]int, error) {
	counts := make(map[string]int, len(tables))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, table := range tables {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(table + "/")
			it := txn.NewIterator(opts)
			count := 0
			for it.Rewind(); it.Valid(); it.Next() {
				count++
			}
			it.Close()
			counts[table] = count
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cache statistics")
	}
	return counts, nil
}

// Clear removes all entries of the given tables.
func (s *BadgerStore) Clear(tables ...string) error {
	prefixes := make([][]byte, len(tables))
	for ii, table := range tables {
		prefixes[ii] = []byte(table + "/")
	}
	if err := s.db.DropPrefix(prefixes...); err != nil {
		return errors.Wrapf(err, "failed to clear cache tables %v", tables)
	}
	if !s.inMemory {
		if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			klog.Warningf("cache: value log garbage collection failed: %v", err)
		}
	}
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close cache")
	}
	return nil
}
