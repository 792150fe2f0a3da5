package store

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
	"github.com/veylan-chain/veylan/internal/types"
)

// Batch is the outer atomic write-set for one block connect: trie nodes,
// the block body, and every index update land in the same badger.Txn (spec
// §4.E). It satisfies trie.Batch so a Storage can join it directly.
type Batch struct {
	txn *badger.Txn
}

// Set implements trie.Batch: every trie node commit goes through here,
// keyed by node hash under the trie-node prefix.
func (b *Batch) Set(key, value []byte) error {
	return b.txn.Set(prefixedKey(prefixTrieNode, key), value)
}

// PutBlock writes a StoredBlock under its hash, non-canonical forks
// included -- the blocks keyspace is not itself the canonical index (spec
// §4.E: "blocks may hold non-canonical forks").
func (b *Batch) PutBlock(hash types.Hash, sb *types.StoredBlock) error {
	enc, err := sb.MarshalBinary()
	if err != nil {
		return err
	}
	return b.txn.Set(prefixedKey(prefixBlock, hash[:]), enc)
}

// IndexTx records hash -> containing block hash. May go stale after a
// reorg evicts the block from the canonical chain (spec §4.E).
func (b *Batch) IndexTx(txHash, blockHash types.Hash) error {
	return b.txn.Set(prefixedKey(prefixTxIndex, txHash[:]), blockHash[:])
}

// SetCanonicalHash records the canonical block hash at height, the
// authoritative height-indexed chain (spec §4.E).
func (b *Batch) SetCanonicalHash(height uint64, hash types.Hash) error {
	return b.txn.Set(prefixedKey(prefixHashByHeight, heightKey(height)), hash[:])
}

// DeleteCanonicalHash removes the height -> hash entry, used when a reorg
// shortens the canonical chain's known height range.
func (b *Batch) DeleteCanonicalHash(height uint64) error {
	return b.txn.Delete(prefixedKey(prefixHashByHeight, heightKey(height)))
}

// SetLatestBlockHash updates the LATEST_BLOCK_HASH metadata entry, folded
// into the same atomic write as the trie/index updates above.
func (b *Batch) SetLatestBlockHash(hash types.Hash) error {
	return b.txn.Set(prefixedKey(prefixMetadata, MetaLatestBlockHash), hash[:])
}

func heightKey(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}
