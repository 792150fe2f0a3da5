package trie

import (
	"testing"

	"github.com/veylan-chain/veylan/internal/types"
)

type fakeBatch struct{ writes map[string][]byte }

func newFakeBatch() *fakeBatch { return &fakeBatch{writes: make(map[string][]byte)} }

func (b *fakeBatch) Set(key, value []byte) error {
	b.writes[string(key)] = value
	return nil
}

func TestTriePutGetRemove(t *testing.T) {
	storage := NewMemStorage()
	tr, err := New(storage, EmptyTrieNodeHash)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}

	if err := tr.Put([]byte("alice"), []byte("100")); err != nil {
		t.Fatalf("put alice: %v", err)
	}
	if err := tr.Put([]byte("alicia"), []byte("200")); err != nil {
		t.Fatalf("put alicia: %v", err)
	}
	if err := tr.Put([]byte("bob"), []byte("300")); err != nil {
		t.Fatalf("put bob: %v", err)
	}

	got, err := tr.Get([]byte("alice"))
	if err != nil || string(got) != "100" {
		t.Fatalf("get alice = %q, %v", got, err)
	}
	got, err = tr.Get([]byte("alicia"))
	if err != nil || string(got) != "200" {
		t.Fatalf("get alicia = %q, %v", got, err)
	}

	if err := tr.Remove([]byte("alicia")); err != nil {
		t.Fatalf("remove alicia: %v", err)
	}
	got, err = tr.Get([]byte("alicia"))
	if err != nil || got != nil {
		t.Fatalf("expected alicia removed, got %q", got)
	}
	got, err = tr.Get([]byte("alice"))
	if err != nil || string(got) != "100" {
		t.Fatalf("alice should survive alicia's removal, got %q, %v", got, err)
	}
}

func TestTrieCommitPersistsAndIsIdempotent(t *testing.T) {
	storage := NewMemStorage()
	tr, err := New(storage, EmptyTrieNodeHash)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	if err := tr.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	root := tr.Commit()
	batch := newFakeBatch()
	if err := storage.CommitToBatch(batch); err != nil {
		t.Fatalf("commit to batch: %v", err)
	}
	if len(batch.writes) == 0 {
		t.Fatal("expected at least one node written to batch")
	}

	reopened, err := New(storage, root)
	if err != nil {
		t.Fatalf("reopen trie at committed root: %v", err)
	}
	got, err := reopened.Get([]byte("k1"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("reopened trie get k1 = %q, %v", got, err)
	}

	// Re-committing with no mutation should not add any new pending nodes.
	root2 := reopened.Commit()
	if root2 != root {
		t.Fatalf("idempotent commit changed root: got %s want %s", root2, root)
	}
	emptyBatch := newFakeBatch()
	if err := storage.CommitToBatch(emptyBatch); err != nil {
		t.Fatalf("commit to batch: %v", err)
	}
	if len(emptyBatch.writes) != 0 {
		t.Fatalf("expected no new writes on idempotent re-commit, got %d", len(emptyBatch.writes))
	}
}

func TestTrieRootHashDeterministicAcrossInsertOrder(t *testing.T) {
	s1, s2 := NewMemStorage(), NewMemStorage()
	t1, _ := New(s1, EmptyTrieNodeHash)
	t2, _ := New(s2, EmptyTrieNodeHash)

	_ = t1.Put([]byte("a"), []byte("1"))
	_ = t1.Put([]byte("b"), []byte("2"))
	_ = t2.Put([]byte("b"), []byte("2"))
	_ = t2.Put([]byte("a"), []byte("1"))

	if t1.RootHash() != t2.RootHash() {
		t.Fatal("root hash should not depend on insertion order")
	}
}

func TestTrieMissingKeyReturnsNil(t *testing.T) {
	storage := NewMemStorage()
	tr, _ := New(storage, EmptyTrieNodeHash)
	got, err := tr.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %q", got)
	}
}

func TestLoadNodeNotFoundAfterRetries(t *testing.T) {
	storage := NewMemStorage()
	_, err := New(storage, types.Keccak256([]byte("not-a-real-root")))
	if err == nil {
		t.Fatal("expected error loading an unknown root")
	}
}
