// Package kvstore wraps a pebble-backed local key-value store: the
// DHT manager's durable store of blocks this node has agreed to
// host, keyed by the 64-byte ECRS query hash. See spec.md §6 ("the
// source uses an embedded LSM; any durable ordered map suffices") and
// SPEC_FULL.md's "Local KV store" section.
package kvstore

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
)

// Store is a thin wrapper around a pebble.DB.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if necessary) the pebble instance rooted at
// dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pebble handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("kvstore: close: %w", err)
	}
	return nil
}

// Get fetches the value stored under key (a query hash). It returns
// dhterr.ErrNotFound, not a bare pebble miss, so callers can branch on
// the shared sentinel the way the rest of this module does.
func (s *Store) Get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("kvstore: %w", dhterr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores value under key, overwriting any existing entry.
func (s *Store) Put(key, value []byte) error {
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("kvstore: put: %w", err)
	}
	return nil
}

// Delete removes key, if present. Deleting an absent key is not an
// error.
func (s *Store) Delete(key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("kvstore: delete: %w", err)
	}
	return nil
}

// Has reports whether key is present, without copying its value.
func (s *Store) Has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kvstore: has: %w", err)
	}
	closer.Close()
	return true, nil
}

// Stat reports coarse store statistics — entry count and on-disk
// size — for admin-socket introspection (internal/adminsock's
// KVStoreStat command).
func (s *Store) Stat() (entries, diskBytes uint64) {
	m := s.db.Metrics()
	total := m.Total()
	return uint64(total.NumEntries), m.DiskSpaceUsage()
}
