package trie

import (
	"fmt"
	"sync"
	"time"

	"github.com/veylan-chain/veylan/internal/types"
)

// Storage is the node-keyspace backing a trie: content-addressed node bytes,
// written in a buffered batch and committed atomically alongside the rest
// of a block's write-set (spec §4.A). Concrete implementations live in
// internal/store, backed by badger; a map-backed implementation here
// supports tests and ephemeral (mining-only) tries.
type Storage interface {
	Get(hash types.Hash) ([]byte, error)
	Put(hash types.Hash, data []byte)
	CommitToBatch(batch Batch) error
	Rollback()
}

// Batch is the minimal write surface a Storage needs from the caller's
// outer atomic transaction (spec §4.A "commit_to_batch (to join an outer
// atomic write)"). internal/store's badger.Txn satisfies this.
type Batch interface {
	Set(key, value []byte) error
}

// ErrNotFound is returned by Storage.Get when no node exists under hash.
var ErrNotFound = fmt.Errorf("trie: node not found")

// MemStorage is an in-memory Storage, used by tests and by mining-mode
// world states that are discarded without ever persisting.
type MemStorage struct {
	mu      sync.RWMutex
	nodes   map[types.Hash][]byte
	pending map[types.Hash][]byte
}

func NewMemStorage() *MemStorage {
	return &MemStorage{nodes: make(map[types.Hash][]byte), pending: make(map[types.Hash][]byte)}
}

func (s *MemStorage) Get(hash types.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.pending[hash]; ok {
		return b, nil
	}
	if b, ok := s.nodes[hash]; ok {
		return b, nil
	}
	return nil, ErrNotFound
}

func (s *MemStorage) Put(hash types.Hash, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[hash] = data
}

func (s *MemStorage) CommitToBatch(batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, b := range s.pending {
		if err := batch.Set(h[:], b); err != nil {
			return err
		}
		s.nodes[h] = b
	}
	s.pending = make(map[types.Hash][]byte)
	return nil
}

func (s *MemStorage) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[types.Hash][]byte)
}

// loadNodeWithRetry guards against transient storage contention with a
// bounded linear backoff (spec §5: "5 attempts with linear backoff, max
// ~250ms").
func loadNodeWithRetry(s Storage, hash types.Hash) (*node, error) {
	if hash == EmptyTrieNodeHash {
		return &node{Kind: kindEmpty}, nil
	}
	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		b, err := s.Get(hash)
		if err == nil {
			return decodeNode(b), nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
		}
	}
	return nil, fmt.Errorf("trie: load node %s after %d attempts: %w", hash, attempts, lastErr)
}
