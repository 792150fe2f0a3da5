package chain

import (
	"testing"
	"time"

	"github.com/veylan-chain/veylan/internal/eventbus"
	"github.com/veylan-chain/veylan/internal/identity"
	"github.com/veylan-chain/veylan/internal/mining"
	"github.com/veylan-chain/veylan/internal/store"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/types"
)

type emptyMempool struct{}

func (emptyMempool) TxIterator() []*types.Tx { return nil }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSettings(signerAddr types.Address) *types.NetworkSettings {
	return &types.NetworkSettings{
		NetworkID:             1,
		GenesisTimestamp:      1000,
		GenesisAuthorities:    []types.Address{signerAddr},
		ApprovalThresholdBps:  6600,
		BipExpirationPeriodMs: 86400000,
		MaxBlockSizeBytes:     1 << 20,
		BlockSizeSafetyMargin: 0,
		TargetBlockTimeMs:     10000,
		InitialParams: types.NetworkParams{
			BlockReward:            types.NewWei(10),
			BlockRewardPoolAddress: types.ZeroAddress,
			TargetMiningTimeMs:     10000,
			AsertHalfLifeBlocks:    144,
			AsertAnchorHeight:      0,
			MinDifficulty:          types.NewWei(1),
			MinTxBaseFee:           types.NewWei(1),
			MinTxByteFee:           types.NewWei(1),
		},
	}
}

func newTestChain(t *testing.T) (*Chain, *types.NetworkSettings, *identity.Identity) {
	t.Helper()
	signer, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	s := openTestStore(t)
	settings := testSettings(signer.Address())
	c := New(s, settings, txhandlers.NewRegistry(), eventbus.New())
	return c, settings, signer
}

// mineNextBlock builds a valid successor to the chain's current head by
// running the same template-assembly and nonce-search path the mining
// controller uses, entirely outside of Chain's lock.
func mineNextBlock(t *testing.T, c *Chain, signer *identity.Identity, settings *types.NetworkSettings, timestampMs int64) *types.Block {
	t.Helper()
	parentHeader, anchor, err := c.HeadHeader()
	if err != nil {
		t.Fatalf("head header: %v", err)
	}
	tmpl, err := mining.AssembleTemplate(c.Storage(), parentHeader, *anchor, emptyMempool{}, signer.Address(), 1, 0, timestampMs, settings, txhandlers.NewRegistry())
	if err != nil {
		t.Fatalf("assemble template: %v", err)
	}
	result := mining.Search(tmpl.PowInput, tmpl.Target, 1, mining.DefaultHashFunc, nil)
	if !result.Found {
		t.Fatal("expected a satisfying nonce at minimum difficulty")
	}
	tmpl.Header.Nonce = result.Nonce
	sig, err := signer.Sign(tmpl.Header.SigningHash())
	if err != nil {
		t.Fatalf("sign header: %v", err)
	}
	tmpl.Header.Signature = sig
	return &types.Block{Header: tmpl.Header, Txs: tmpl.Txs}
}

func TestBootstrapCreatesGenesisAndRejectsSecondCall(t *testing.T) {
	c, settings, _ := newTestChain(t)

	genesis, err := c.Bootstrap(settings)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if genesis.Height() != 0 {
		t.Fatalf("genesis height = %d, want 0", genesis.Height())
	}

	if _, err := c.Bootstrap(settings); err != ErrAlreadyBootstrapped {
		t.Fatalf("expected ErrAlreadyBootstrapped, got %v", err)
	}
}

func TestIngestConnectsValidSuccessorBlock(t *testing.T) {
	c, settings, signer := newTestChain(t)
	if _, err := c.Bootstrap(settings); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	block := mineNextBlock(t, c, signer, settings, settings.GenesisTimestamp+10000)
	status, err := c.IngestWithStatus(block, types.SourceMined, "", settings.GenesisTimestamp+10000)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if status != Success {
		t.Fatalf("status = %s, want SUCCESS", status)
	}

	head, _, err := c.HeadHeader()
	if err != nil {
		t.Fatalf("head header: %v", err)
	}
	if head.Height != 1 {
		t.Fatalf("head height = %d, want 1", head.Height)
	}
}

func TestIngestReportsAlreadyExistsForDuplicateBlock(t *testing.T) {
	c, settings, signer := newTestChain(t)
	if _, err := c.Bootstrap(settings); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	block := mineNextBlock(t, c, signer, settings, settings.GenesisTimestamp+10000)
	if _, err := c.IngestWithStatus(block, types.SourceMined, "", settings.GenesisTimestamp+10000); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	status, err := c.IngestWithStatus(block, types.SourceMined, "", settings.GenesisTimestamp+10000)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if status != AlreadyExists {
		t.Fatalf("status = %s, want ALREADY_EXISTS", status)
	}
}

func TestIngestBuffersOrphanWhenParentUnknown(t *testing.T) {
	c, settings, signer := newTestChain(t)
	if _, err := c.Bootstrap(settings); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// A height-1 block whose PreviousHash doesn't resolve to any known
	// block, but whose height is still only head+1, must be buffered as an
	// orphan rather than rejected as a gap.
	block := mineNextBlock(t, c, signer, settings, settings.GenesisTimestamp+10000)
	block.Header.PreviousHash = types.Keccak256([]byte("unknown-parent"))

	status, err := c.IngestWithStatus(block, types.SourcePropagated, "peer-1", settings.GenesisTimestamp+10000)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if status != OrphanBuffered {
		t.Fatalf("status = %s, want ORPHAN_BUFFERED", status)
	}
}

func TestIngestDetectsGapAheadOfHead(t *testing.T) {
	c, settings, signer := newTestChain(t)
	if _, err := c.Bootstrap(settings); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	first := mineNextBlock(t, c, signer, settings, settings.GenesisTimestamp+10000)
	if _, err := c.IngestWithStatus(first, types.SourceMined, "", settings.GenesisTimestamp+10000); err != nil {
		t.Fatalf("ingest first: %v", err)
	}

	// A block claiming to be far beyond head+1, with a PreviousHash that
	// also doesn't resolve, must be reported as a gap rather than buffered
	// forever as an orphan.
	second := mineNextBlock(t, c, signer, settings, settings.GenesisTimestamp+20000)
	unknownParentHash := types.Keccak256([]byte("nonexistent-parent"))
	second.Header.PreviousHash = unknownParentHash
	second.Header.Height = 100

	status, err := c.IngestWithStatus(second, types.SourcePropagated, "peer-1", settings.GenesisTimestamp+20000)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if status != GapDetected {
		t.Fatalf("status = %s, want GAP_DETECTED", status)
	}
}

func TestIngestConnectsSuccessiveBlocksAndAdvancesHead(t *testing.T) {
	c, settings, signer := newTestChain(t)
	if _, err := c.Bootstrap(settings); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	parent := mineNextBlock(t, c, signer, settings, settings.GenesisTimestamp+10000)
	status, err := c.IngestWithStatus(parent, types.SourcePropagated, "peer-1", settings.GenesisTimestamp+10000)
	if err != nil {
		t.Fatalf("ingest parent: %v", err)
	}
	if status != Success {
		t.Fatalf("parent status = %s, want SUCCESS", status)
	}

	child := mineNextBlock(t, c, signer, settings, settings.GenesisTimestamp+20000)
	if status, err := c.IngestWithStatus(child, types.SourceMined, "", settings.GenesisTimestamp+20000); err != nil || status != Success {
		t.Fatalf("ingest child: status=%v err=%v", status, err)
	}

	head, _, err := c.HeadHeader()
	if err != nil {
		t.Fatalf("head header: %v", err)
	}
	if head.Height != 2 {
		t.Fatalf("head height = %d, want 2", head.Height)
	}
}

func TestHeadHeaderErrorsBeforeBootstrap(t *testing.T) {
	c, _, _ := newTestChain(t)
	if _, _, err := c.HeadHeader(); err != store.ErrNotFound {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestPublishesBlockConnectedOnSuccessfulIngest(t *testing.T) {
	s := openTestStore(t)
	signer, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	settings := testSettings(signer.Address())
	bus := eventbus.New()
	c := New(s, settings, txhandlers.NewRegistry(), bus)
	sub := bus.SubscribeBlockConnected(4)

	if _, err := c.Bootstrap(settings); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	select {
	case ev := <-sub:
		if ev.Height != 0 {
			t.Fatalf("genesis event height = %d, want 0", ev.Height)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for genesis BlockConnected event")
	}

	block := mineNextBlock(t, c, signer, settings, settings.GenesisTimestamp+10000)
	if _, err := c.IngestWithStatus(block, types.SourceMined, "", settings.GenesisTimestamp+10000); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	select {
	case ev := <-sub:
		if ev.Height != 1 {
			t.Fatalf("event height = %d, want 1", ev.Height)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for BlockConnected event")
	}
}
