// Package store is the badger-backed persistence layer: block bodies, trie
// nodes, and the tx/height/metadata indices, all living in one badger.DB
// under disjoint key prefixes (spec §4.E). Badger has no column-family
// concept, so keyspaces are emulated with a leading prefix byte, the same
// pattern DeSo's core/db uses for its own single-DB keyspace layout.
package store

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes, one per keyspace (spec §4.E table).
const (
	prefixBlock        byte = 0x01 // block hash -> encoded StoredBlock
	prefixTrieNode     byte = 0x02 // node hash -> node bytes
	prefixTxIndex      byte = 0x03 // tx hash -> block hash
	prefixHashByHeight byte = 0x04 // big-endian u64 height -> block hash
	prefixMetadata     byte = 0x05 // fixed metadata keys
)

// MetaLatestBlockHash is the metadata key holding the canonical chain tip's
// block hash.
var MetaLatestBlockHash = []byte("LATEST_BLOCK_HASH")

// Store wraps a single badger.DB and exposes the five keyspaces of spec
// §4.E as typed accessors, plus an atomic WriteBatch spanning all of them.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func prefixedKey(prefix byte, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = prefix
	copy(out[1:], key)
	return out
}

func (s *Store) get(prefix byte, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixedKey(prefix, key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *Store) set(prefix byte, key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefixedKey(prefix, key), value)
	})
}

// ErrNotFound is returned by any get-by-key accessor when the key is absent.
var ErrNotFound = fmt.Errorf("store: key not found")

// Update runs fn inside a single atomic badger transaction, exposing a
// Batch that every keyspace accessor below also knows how to write into
// (spec §4.E: "LATEST_BLOCK_HASH and hash_by_height updates happen inside
// the same atomic batch as world-state trie writes").
func (s *Store) Update(fn func(b *Batch) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&Batch{txn: txn})
	})
}
