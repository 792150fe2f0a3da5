package mining

import (
	"testing"

	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/trie"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/types"
)

type emptyMempool struct{}

func (emptyMempool) TxIterator() []*types.Tx { return nil }

// newGenesisHeader builds a minimal height-0 parent with network params
// already persisted, the same precondition the chain's own genesis
// bootstrap establishes before mining is ever allowed to run.
func newGenesisHeader(t *testing.T, storage trie.Storage) *types.BlockHeader {
	t.Helper()
	ws, err := state.New(storage, trie.EmptyTrieNodeHash, false)
	if err != nil {
		t.Fatalf("new world state: %v", err)
	}
	params := types.NetworkParams{
		BlockReward:            types.NewWei(10),
		BlockRewardPoolAddress: types.ZeroAddress,
		TargetMiningTimeMs:     10000,
		AsertHalfLifeBlocks:    144,
		MinDifficulty:          types.NewWei(1),
		MinTxBaseFee:           types.NewWei(1),
		MinTxByteFee:           types.NewWei(1),
	}
	if err := ws.SetParams(params); err != nil {
		t.Fatalf("set params: %v", err)
	}
	root, err := ws.CalculateRootHash()
	if err != nil {
		t.Fatalf("calc root: %v", err)
	}
	batch := newFakeMiningBatch()
	if _, err := ws.PersistToBatch(batch); err != nil {
		t.Fatalf("persist: %v", err)
	}
	return &types.BlockHeader{Version: 1, Height: 0, StateRootHash: root}
}

func TestAssembleTemplateMintsRewardAndSetsRoots(t *testing.T) {
	storage := trie.NewMemStorage()
	parent := newGenesisHeader(t, storage)
	coinbase := types.BytesToAddress([]byte{0x09})
	settings := &types.NetworkSettings{MaxBlockSizeBytes: 1 << 20, BlockSizeSafetyMargin: 0}
	anchor := AnchorInfo{AnchorDifficulty: baseParams().MinDifficulty.ToBig(), AnchorTimestamp: 0, AnchorHeight: 0}

	tmpl, err := AssembleTemplate(storage, parent, anchor, emptyMempool{}, coinbase, 1, 0, 10000, settings, txhandlers.NewRegistry())
	if err != nil {
		t.Fatalf("assemble template: %v", err)
	}
	if tmpl.Header.Height != 1 {
		t.Fatalf("expected height 1, got %d", tmpl.Header.Height)
	}
	if tmpl.Header.Coinbase != coinbase {
		t.Fatal("expected coinbase preserved on header")
	}
	if tmpl.Header.PreviousHash != parent.Hash() {
		t.Fatal("expected previous hash to reference parent")
	}
	if len(tmpl.PowInput) == 0 {
		t.Fatal("expected non-empty PoW input")
	}
	if tmpl.Target == nil || tmpl.Target.Sign() <= 0 {
		t.Fatal("expected a positive PoW target")
	}

	reopened, err := state.New(storage, tmpl.Header.StateRootHash, false)
	if err != nil {
		t.Fatalf("reopen at template's state root: %v", err)
	}
	bal, err := reopened.GetBalance(coinbase, types.NativeToken)
	if err != nil || bal.Cmp(types.NewWei(10)) != 0 {
		t.Fatalf("expected coinbase minted block reward of 10, got %v, %v", bal, err)
	}
}

type fakeMiningBatch struct{ writes map[string][]byte }

func newFakeMiningBatch() *fakeMiningBatch { return &fakeMiningBatch{writes: make(map[string][]byte)} }

func (b *fakeMiningBatch) Set(key, value []byte) error {
	b.writes[string(key)] = value
	return nil
}
