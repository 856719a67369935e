// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cache implements the durable key-value stores of the autotuner.
//
// Values are stored in tables (namespaces), under keys that are structured values (typically a struct
// of strings and flags), hashed into stable byte keys with Key. A store that can't be opened is replaced
// by Disabled, which never hits: caching is an optimization, never a requirement.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// Tables used by the autotuner.
const (
	// TimingTable stores the measured durations of a plan: one JSON list of seconds per key.
	TimingTable = "time_linearizer"

	// BeamTable stores the best sequence of moves found for a kernel: one JSON list of moves per key.
	BeamTable = "beam_search"
)

// ErrCacheUnavailable is returned when a persistent store can't be opened or is corrupt.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Store is a durable key-value store organized in tables.
//
// Implementations are safe for concurrent use. Concurrent writers of the same key are resolved
// with last-writer-wins.
type Store interface {
	// Get returns the value stored for key in table. Read errors are reported as misses.
	Get(table string, key any) (value []byte, found bool)

	// Put stores the value for key in table. Write errors are logged and otherwise ignored.
	Put(table string, key any, value []byte)

	// Close releases the store.
	Close() error
}

// Key returns the stable byte key of key in table: the table name followed by the hex encoded SHA-256
// of the JSON encoding of key.
//
// Struct fields are encoded in declaration order, so equal keys always map to the same bytes, across
// processes and restarts.
func Key(table string, key any) ([]byte, error) {
	encoded, err := json.Marshal(key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode cache key for table %q", table)
	}
	sum := sha256.Sum256(encoded)
	return []byte(table + "/" + hex.EncodeToString(sum[:])), nil
}

// disabledStore never hits and drops all writes.
type disabledStore struct{}

// Disabled returns a Store that always misses and discards writes.
func Disabled() Store { return disabledStore{} }

func (disabledStore) Get(string, any) ([]byte, bool) { return nil, false }
func (disabledStore) Put(string, any, []byte)        {}
func (disabledStore) Close() error                   { return nil }

// IsDisabled returns whether store is nil or the Disabled store.
func IsDisabled(store Store) bool {
	if store == nil {
		return true
	}
	_, disabled := store.(disabledStore)
	return disabled
}
