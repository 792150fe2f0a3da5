package chain

import (
	"fmt"

	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/store"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/txprocessor"
	"github.com/veylan-chain/veylan/internal/types"
)

// executeAtomicReorgSwap walks back from newTip and the current head to
// their common ancestor, re-executes every block on the winning fork to
// rebuild durable state along the way, then swaps the canonical height
// index and LATEST_BLOCK_HASH in one atomic batch (spec §4.F "reorg
// detected -> walk back to common ancestor, reverse fork chain,
// execute_atomic_reorg_swap"). newTip's own trie writes were already
// computed by connect's WorldState but not yet persisted (the caller
// rolled that WorldState back), so this function re-derives every block's
// state from scratch along the fork rather than reusing it, keeping the
// commit path single-shaped whether replaying one block or many.
func (c *Chain) executeAtomicReorgSwap(newTip *types.StoredBlock, oldHead *types.StoredBlock) error {
	forkChain, commonAncestor, err := c.collectForkChain(newTip)
	if err != nil {
		return fmt.Errorf("reorg: collect fork chain: %w", err)
	}

	return c.store.Update(func(b *store.Batch) error {
		for h := oldHead.Height(); h > commonAncestor.Height(); h-- {
			if err := b.DeleteCanonicalHash(h); err != nil {
				return err
			}
		}

		parent := commonAncestor
		var tip *types.StoredBlock
		for _, fb := range forkChain {
			sb, err := c.replayAndPersist(b, fb, parent)
			if err != nil {
				return err
			}
			if err := b.SetCanonicalHash(sb.Height(), sb.Hash()); err != nil {
				return err
			}
			parent = sb
			tip = sb
		}
		if tip == nil {
			return fmt.Errorf("reorg: empty fork chain")
		}
		return b.SetLatestBlockHash(tip.Hash())
	})
}

// collectForkChain walks back from tip via PreviousHash until it finds a
// block already indexed as canonical at its own height (the common
// ancestor), then returns the fork blocks oldest-first.
func (c *Chain) collectForkChain(tip *types.StoredBlock) (forkChain []*types.StoredBlock, commonAncestor *types.StoredBlock, err error) {
	cursor := tip
	for {
		canonical, cErr := c.store.GetCanonicalBlock(cursor.Height())
		if cErr == nil && canonical.Hash() == cursor.Hash() {
			commonAncestor = canonical
			break
		}
		forkChain = append(forkChain, cursor)
		parent, pErr := c.store.GetBlock(cursor.Block.Header.PreviousHash)
		if pErr != nil {
			return nil, nil, fmt.Errorf("walk back to common ancestor: %w", pErr)
		}
		cursor = parent
	}
	for i, j := 0, len(forkChain)-1; i < j; i, j = i+1, j-1 {
		forkChain[i], forkChain[j] = forkChain[j], forkChain[i]
	}
	return forkChain, commonAncestor, nil
}

// replayAndPersist re-executes fb's transactions against state rooted at
// parent, persists the resulting trie nodes and block body into b, and
// re-indexes its transactions. It trusts fb's header (already validated
// once, in the connect() call that first brought this block in) and
// re-derives state purely to get fresh trie writes into this batch.
func (c *Chain) replayAndPersist(b *store.Batch, fb *types.StoredBlock, parent *types.StoredBlock) (*types.StoredBlock, error) {
	ws, err := state.New(c.storage, parent.Block.Header.StateRootHash, false)
	if err != nil {
		return nil, err
	}
	defer ws.Rollback()

	params, err := ws.GetParams()
	if err != nil {
		return nil, err
	}
	header := fb.Block.Header
	simpleBlock := txhandlers.SimpleBlock{Height: header.Height, Timestamp: header.Timestamp, Coinbase: header.Coinbase}
	result, err := txprocessor.ExecuteBatch(ws, simpleBlock, fb.Block.Txs, params, c.settings, txprocessor.Strict, c.registry)
	if err != nil {
		return nil, fmt.Errorf("replay block %s: %w", fb.Hash(), err)
	}
	stateRoot, err := ws.PersistToBatch(b)
	if err != nil {
		return nil, err
	}
	if stateRoot != header.StateRootHash {
		return nil, fmt.Errorf("replay block %s: state root mismatch", fb.Hash())
	}

	cumulative := new(types.Wei).Add(parent.CumulativeDifficulty, types.BigIntToWei(header.Difficulty))
	sb := types.NewStoredBlock(fb.Block, cumulative, fb.SizeBytes, types.SourceReorg, fb.ReceivedFrom, fb.ReceivedAt, result.Events)

	if err := b.PutBlock(sb.Hash(), sb); err != nil {
		return nil, err
	}
	for _, txHash := range sb.Index.Hash {
		if err := b.IndexTx(txHash, sb.Hash()); err != nil {
			return nil, err
		}
	}
	return sb, nil
}

// publishReorgTip is called by connect after a successful reorg swap,
// outside the storage transaction, to notify mempool/propagation of only
// the final tip (spec §4.F "publish BlockConnected(source=REORG) only for
// the final tip").
func (c *Chain) publishReorgTip(sb *types.StoredBlock) {
	c.bus.PublishBlockConnected(blockConnectedEventFor(sb, types.SourceReorg))
}
