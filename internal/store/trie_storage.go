package store

import (
	"sync"

	"github.com/veylan-chain/veylan/internal/trie"
	"github.com/veylan-chain/veylan/internal/types"
)

// TrieStorage adapts Store's state_trie keyspace to trie.Storage. Writes
// buffer in memory until CommitToBatch folds them into the caller's outer
// badger.Txn, mirroring trie.MemStorage's pending-then-flush shape but
// reading through to badger on a miss.
type TrieStorage struct {
	store *Store

	mu      sync.RWMutex
	pending map[types.Hash][]byte
}

func NewTrieStorage(s *Store) *TrieStorage {
	return &TrieStorage{store: s, pending: make(map[types.Hash][]byte)}
}

func (t *TrieStorage) Get(hash types.Hash) ([]byte, error) {
	t.mu.RLock()
	if b, ok := t.pending[hash]; ok {
		t.mu.RUnlock()
		return b, nil
	}
	t.mu.RUnlock()

	b, err := t.store.get(prefixTrieNode, hash[:])
	if err == ErrNotFound {
		return nil, trie.ErrNotFound
	}
	return b, err
}

func (t *TrieStorage) Put(hash types.Hash, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[hash] = data
}

// CommitToBatch flushes every pending node into batch, keyed by node hash,
// and clears the pending set. batch must be a *store.Batch participating in
// the outer block-connect transaction.
func (t *TrieStorage) CommitToBatch(batch trie.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h, b := range t.pending {
		if err := batch.Set(h[:], b); err != nil {
			return err
		}
	}
	t.pending = make(map[types.Hash][]byte)
	return nil
}

func (t *TrieStorage) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = make(map[types.Hash][]byte)
}
