// Package chain is the master chain state machine: block ingestion, orphan
// buffering, and atomic reorg swaps (spec §4.F). A single mutex serializes
// every chain-modifying operation, the same "one lock, one owner at a
// time" shape the teacher uses for its fork manager (core/chain_fork_manager.go's
// ChainForkManager.mu) and finalization manager (core/finalization_management.go).
package chain

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/veylan-chain/veylan/internal/eventbus"
	"github.com/veylan-chain/veylan/internal/mining"
	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/store"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/txprocessor"
	"github.com/veylan-chain/veylan/internal/types"
)

// IngestStatus is the outcome of Ingest (spec §4.F).
type IngestStatus uint8

const (
	Success IngestStatus = iota
	AlreadyExists
	OrphanBuffered
	GapDetected
	Failed
)

func (s IngestStatus) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case OrphanBuffered:
		return "ORPHAN_BUFFERED"
	case GapDetected:
		return "GAP_DETECTED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// maxOrphans bounds the orphan buffer's memory (spec §4.F "caps total
// memory; evict oldest").
const maxOrphans = 1024

// Chain owns the canonical chain: the block store, the trie storage behind
// every WorldState it opens, and the orphan buffer. Exactly one goroutine
// mutates it at a time (mu).
type Chain struct {
	mu sync.Mutex

	store    *store.Store
	storage  *store.TrieStorage
	settings *types.NetworkSettings
	registry *txhandlers.Registry
	bus      *eventbus.Bus
	log      *logrus.Logger

	orphansByParent map[types.Hash][]*types.Block
	orphanOrder     []types.Hash // FIFO eviction order of parent-hash buckets
}

func New(s *store.Store, settings *types.NetworkSettings, registry *txhandlers.Registry, bus *eventbus.Bus) *Chain {
	return &Chain{
		store:           s,
		storage:         store.NewTrieStorage(s),
		settings:        settings,
		registry:        registry,
		bus:             bus,
		log:             logrus.New(),
		orphansByParent: make(map[types.Hash][]*types.Block),
	}
}

// Storage exposes the shared trie storage, e.g. for the mining package's
// template assembly (spec §4.G reads world state at head).
func (c *Chain) Storage() *store.TrieStorage { return c.storage }

// HeadHeader satisfies mining.Head: the current tip's header plus the
// ASERT anchor to retarget from.
func (c *Chain) HeadHeader() (*types.BlockHeader, *mining.AnchorInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	head, err := c.store.GetLatestBlock()
	if err != nil {
		return nil, nil, err
	}
	anchor, err := c.anchorInfoLocked(head)
	if err != nil {
		return nil, nil, err
	}
	return head.Block.Header, anchor, nil
}

func (c *Chain) anchorInfoLocked(head *types.StoredBlock) (*mining.AnchorInfo, error) {
	ws, err := state.New(c.storage, head.Block.Header.StateRootHash, false)
	if err != nil {
		return nil, err
	}
	params, err := ws.GetParams()
	if err != nil {
		return nil, err
	}
	anchorBlock, err := c.store.GetCanonicalBlock(params.AsertAnchorHeight)
	if err != nil {
		return nil, err
	}
	return &mining.AnchorInfo{
		AnchorDifficulty: anchorBlock.Block.Header.Difficulty,
		AnchorTimestamp:  anchorBlock.Block.Header.Timestamp,
		AnchorHeight:     anchorBlock.Height(),
	}, nil
}

// IngestWithStatus runs the full ingestion state machine for one candidate
// block (spec §4.F "ingest(...)") and reports which branch it took.
func (c *Chain) IngestWithStatus(block *types.Block, source types.ConnectedSource, receivedFrom string, receivedAtMs int64) (IngestStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ingestLocked(block, source, receivedFrom, receivedAtMs)
}

// Ingest satisfies mining.Ingester: the mining controller only cares
// whether its own freshly-mined block made it onto the chain, not which
// branch of the state machine it took.
func (c *Chain) Ingest(block *types.Block, source types.ConnectedSource, receivedFrom string, receivedAtMs int64) error {
	status, err := c.IngestWithStatus(block, source, receivedFrom, receivedAtMs)
	if err != nil {
		return err
	}
	if status == Failed {
		return fmt.Errorf("chain: ingest failed")
	}
	return nil
}

func (c *Chain) ingestLocked(block *types.Block, source types.ConnectedSource, receivedFrom string, receivedAtMs int64) (IngestStatus, error) {
	hash := block.Header.Hash()
	if _, err := c.store.GetBlock(hash); err == nil {
		return AlreadyExists, nil
	} else if err != store.ErrNotFound {
		return Failed, err
	}

	parent, err := c.store.GetBlock(block.Header.PreviousHash)
	if err == store.ErrNotFound {
		head, headErr := c.store.GetLatestBlock()
		if headErr != nil && headErr != store.ErrNotFound {
			return Failed, headErr
		}
		var headHeight uint64
		if headErr == nil {
			headHeight = head.Height()
		}
		if headErr == nil && block.Header.Height > headHeight+1 {
			return GapDetected, nil
		}
		c.bufferOrphan(block)
		return OrphanBuffered, nil
	} else if err != nil {
		return Failed, err
	}

	if _, err := c.connectAndFollow(block, parent, source, receivedFrom, receivedAtMs); err != nil {
		return Failed, err
	}
	return Success, nil
}

func (c *Chain) bufferOrphan(block *types.Block) {
	parentHash := block.Header.PreviousHash
	if _, exists := c.orphansByParent[parentHash]; !exists {
		c.orphanOrder = append(c.orphanOrder, parentHash)
	}
	c.orphansByParent[parentHash] = append(c.orphansByParent[parentHash], block)

	for len(c.orphanOrder) > maxOrphans {
		oldest := c.orphanOrder[0]
		c.orphanOrder = c.orphanOrder[1:]
		delete(c.orphansByParent, oldest)
	}
}

// connectAndFollow connects block, then recursively connects any buffered
// orphans whose parent is now satisfied (spec §4.F step 10).
func (c *Chain) connectAndFollow(block *types.Block, parent *types.StoredBlock, source types.ConnectedSource, receivedFrom string, receivedAtMs int64) (*types.StoredBlock, error) {
	sb, err := c.connect(block, parent, source, receivedFrom, receivedAtMs)
	if err != nil {
		return nil, err
	}

	hash := sb.Hash()
	children := c.orphansByParent[hash]
	delete(c.orphansByParent, hash)
	for i, h := range c.orphanOrder {
		if h == hash {
			c.orphanOrder = append(c.orphanOrder[:i], c.orphanOrder[i+1:]...)
			break
		}
	}
	for _, child := range children {
		if _, err := c.connectAndFollow(child, sb, types.SourceSync, receivedFrom, receivedAtMs); err != nil {
			c.log.WithError(err).Warn("chain: orphan child failed to connect")
		}
	}
	return sb, nil
}

// maxClockDriftMs bounds how far in the future a block timestamp may sit
// relative to wall-clock receipt, a conservative clamp since the spec
// leaves the exact bound unspecified beyond "bounded".
const maxClockDriftMs = 2 * 60 * 1000

func validateHeaderContext(header, parentHeader *types.BlockHeader, expectedDifficulty *types.Wei, txRoot types.Hash, nowMs int64) error {
	if header.Height != parentHeader.Height+1 {
		return fmt.Errorf("bad height: parent %d, block %d", parentHeader.Height, header.Height)
	}
	if header.PreviousHash != parentHeader.Hash() {
		return fmt.Errorf("bad previous hash")
	}
	if header.Timestamp <= parentHeader.Timestamp {
		return fmt.Errorf("timestamp not monotonic: parent %d, block %d", parentHeader.Timestamp, header.Timestamp)
	}
	if header.Timestamp > nowMs+maxClockDriftMs {
		return fmt.Errorf("timestamp too far in future")
	}
	if types.BigIntToWei(header.Difficulty).Cmp(expectedDifficulty) != 0 {
		return fmt.Errorf("difficulty mismatch: expected %s, got %s", expectedDifficulty, header.Difficulty)
	}
	if header.TxRootHash != txRoot {
		return fmt.Errorf("tx root mismatch")
	}
	if err := header.VerifyCoinbaseSignature(); err != nil {
		return err
	}
	target := mining.TargetForDifficulty(header.Difficulty)
	powHash := mining.DefaultHashFunc(header.PoWInput(), header.Nonce)
	if !mining.HashMeetsTarget(powHash, target) {
		return fmt.Errorf("PoW hash above target")
	}
	return nil
}

// validateTxsStateless runs signature recovery/structural checks over txs
// in parallel (spec §4.F connect step 3).
func validateTxsStateless(txs []*types.Tx) error {
	errs := make([]error, len(txs))
	var wg sync.WaitGroup
	for i, tx := range txs {
		wg.Add(1)
		go func(i int, tx *types.Tx) {
			defer wg.Done()
			errs[i] = tx.Verify()
		}(i, tx)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}
	return nil
}
