package store

import (
	"testing"
	"time"

	"github.com/veylan-chain/veylan/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStoredBlock(height uint64) *types.StoredBlock {
	header := &types.BlockHeader{Version: 1, Height: height}
	block := &types.Block{Header: header}
	return types.NewStoredBlock(block, types.NewWei(100), 0, types.SourceGenesis, "", time.Unix(0, 0), nil)
}

func TestGetLatestBlockReturnsErrNotFoundBeforeAnyWrite(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetLatestBlock(); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutBlockAndGetBlockRoundTrip(t *testing.T) {
	s := openTestStore(t)
	sb := newTestStoredBlock(0)

	if err := s.Update(func(b *Batch) error {
		return b.PutBlock(sb.Hash(), sb)
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetBlock(sb.Hash())
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if got.Height() != sb.Height() || got.Hash() != sb.Hash() {
		t.Fatalf("round-tripped block mismatch: got height=%d hash=%s", got.Height(), got.Hash())
	}
}

func TestCanonicalChainIndexAndLatestBlock(t *testing.T) {
	s := openTestStore(t)
	sb := newTestStoredBlock(0)

	if err := s.Update(func(b *Batch) error {
		if err := b.PutBlock(sb.Hash(), sb); err != nil {
			return err
		}
		if err := b.SetCanonicalHash(0, sb.Hash()); err != nil {
			return err
		}
		return b.SetLatestBlockHash(sb.Hash())
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetCanonicalBlock(0)
	if err != nil {
		t.Fatalf("get canonical block: %v", err)
	}
	if got.Hash() != sb.Hash() {
		t.Fatalf("canonical block hash mismatch")
	}

	latest, err := s.GetLatestBlock()
	if err != nil {
		t.Fatalf("get latest block: %v", err)
	}
	if latest.Hash() != sb.Hash() {
		t.Fatal("expected latest block to match the one just written")
	}
}

func TestGetCanonicalHashErrNotFoundPastTip(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetCanonicalHash(5); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCanonicalHashRemovesEntry(t *testing.T) {
	s := openTestStore(t)
	sb := newTestStoredBlock(3)

	if err := s.Update(func(b *Batch) error {
		if err := b.PutBlock(sb.Hash(), sb); err != nil {
			return err
		}
		return b.SetCanonicalHash(3, sb.Hash())
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.GetCanonicalHash(3); err != nil {
		t.Fatalf("expected canonical hash present: %v", err)
	}

	if err := s.Update(func(b *Batch) error {
		return b.DeleteCanonicalHash(3)
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.GetCanonicalHash(3); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIndexTxAndLookup(t *testing.T) {
	s := openTestStore(t)
	txHash := types.Keccak256([]byte("tx-1"))
	blockHash := types.Keccak256([]byte("block-1"))

	if err := s.Update(func(b *Batch) error {
		return b.IndexTx(txHash, blockHash)
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetBlockHashForTx(txHash)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != blockHash {
		t.Fatalf("tx index mismatch: got %s want %s", got, blockHash)
	}
}

func TestTrieNodeBatchSetIsIsolatedByPrefix(t *testing.T) {
	s := openTestStore(t)
	nodeKey := []byte{0xAA, 0xBB}

	if err := s.Update(func(b *Batch) error {
		return b.Set(nodeKey, []byte("node-bytes"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	val, err := s.get(prefixTrieNode, nodeKey)
	if err != nil || string(val) != "node-bytes" {
		t.Fatalf("trie node get = %q, %v", val, err)
	}
	if _, err := s.get(prefixBlock, nodeKey); err != ErrNotFound {
		t.Fatalf("expected the same raw key under a different prefix to be absent, got %v", err)
	}
}
