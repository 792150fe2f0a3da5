package chain

import (
	"fmt"
	"time"

	"github.com/veylan-chain/veylan/internal/eventbus"
	"github.com/veylan-chain/veylan/internal/mining"
	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/store"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/txprocessor"
	"github.com/veylan-chain/veylan/internal/types"
)

// connect validates block against parent, re-executes its transactions in
// Strict mode, and if the resulting state root matches the header, writes
// it durably and updates the canonical chain if it becomes (or extends)
// the new head, including reorg handling (spec §4.F "connect(...)"). Called
// with c.mu already held.
func (c *Chain) connect(block *types.Block, parent *types.StoredBlock, source types.ConnectedSource, receivedFrom string, receivedAtMs int64) (*types.StoredBlock, error) {
	header := block.Header
	parentHeader := parent.Block.Header

	ws, err := state.New(c.storage, parentHeader.StateRootHash, false)
	if err != nil {
		return nil, fmt.Errorf("connect: open state: %w", err)
	}
	defer ws.Rollback()

	params, err := ws.GetParams()
	if err != nil {
		return nil, fmt.Errorf("connect: read params: %w", err)
	}

	anchor, err := c.anchorInfoLocked(parent)
	if err != nil {
		return nil, fmt.Errorf("connect: anchor info: %w", err)
	}
	expectedDifficulty := types.BigIntToWei(mining.ASERT(*anchor, header.Height, header.Timestamp, params))
	txRoot := types.TxRoot(block.Txs)

	if err := validateHeaderContext(header, parentHeader, expectedDifficulty, txRoot, receivedAtMs); err != nil {
		return nil, fmt.Errorf("connect: header context: %w", err)
	}
	if err := validateTxsStateless(block.Txs); err != nil {
		return nil, fmt.Errorf("connect: stateless tx validation: %w", err)
	}

	simpleBlock := txhandlers.SimpleBlock{Height: header.Height, Timestamp: header.Timestamp, Coinbase: header.Coinbase}
	result, err := txprocessor.ExecuteBatch(ws, simpleBlock, block.Txs, params, c.settings, txprocessor.Strict, c.registry)
	if err != nil {
		return nil, fmt.Errorf("connect: execute batch: %w", err)
	}

	stateRoot, err := ws.CalculateRootHash()
	if err != nil {
		return nil, fmt.Errorf("connect: calculate root: %w", err)
	}
	if stateRoot != header.StateRootHash {
		return nil, fmt.Errorf("connect: state root mismatch: computed %s, header %s", stateRoot, header.StateRootHash)
	}

	cumulativeDifficulty := new(types.Wei).Add(parent.CumulativeDifficulty, expectedDifficulty)

	size := estimateSize(block)
	sb := types.NewStoredBlock(block, cumulativeDifficulty, size, source, receivedFrom, time.UnixMilli(receivedAtMs), result.Events)

	currentHead, err := c.store.GetLatestBlock()
	headExists := err == nil
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("connect: read current head: %w", err)
	}

	isNewHead := source == types.SourceGenesis || !headExists || cumulativeDifficulty.Cmp(currentHead.CumulativeDifficulty) > 0
	isReorg := isNewHead && headExists && header.PreviousHash != currentHead.Hash()

	if isReorg {
		if err := c.executeAtomicReorgSwap(sb, currentHead); err != nil {
			return nil, fmt.Errorf("connect: reorg swap: %w", err)
		}
		ws.PrepareForNextBlock()
		c.publishReorgTip(sb)
		return sb, nil
	}

	if err := c.store.Update(func(b *store.Batch) error {
		if _, err := ws.PersistToBatch(b); err != nil {
			return err
		}
		if err := b.PutBlock(sb.Hash(), sb); err != nil {
			return err
		}
		for _, txHash := range sb.Index.Hash {
			if err := b.IndexTx(txHash, sb.Hash()); err != nil {
				return err
			}
		}
		if isNewHead {
			if err := b.SetCanonicalHash(sb.Height(), sb.Hash()); err != nil {
				return err
			}
			if err := b.SetLatestBlockHash(sb.Hash()); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("connect: commit: %w", err)
	}

	if isNewHead {
		c.bus.PublishBlockConnected(blockConnectedEventFor(sb, source))
	}
	return sb, nil
}

func blockConnectedEventFor(sb *types.StoredBlock, source types.ConnectedSource) eventbus.BlockConnectedEvent {
	txHashes := make([][32]byte, len(sb.Index.Hash))
	for i, h := range sb.Index.Hash {
		txHashes[i] = [32]byte(h)
	}
	return eventbus.BlockConnectedEvent{
		Source:   source.String(),
		Height:   sb.Height(),
		Hash:     [32]byte(sb.Hash()),
		TxHashes: txHashes,
	}
}

func estimateSize(block *types.Block) int {
	enc, err := block.MarshalBinary()
	if err != nil {
		return 0
	}
	return len(enc)
}
