package chain

import (
	"fmt"
	"time"

	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/store"
	"github.com/veylan-chain/veylan/internal/types"
)

// Bootstrap seeds a brand-new chain from settings: a height-0 block with no
// transactions, initial balances and authorities written directly into a
// fresh WorldState, and networkParams initialised from
// settings.InitialParams. Unlike ingest()/connect(), there is no parent to
// validate against. Returns ErrAlreadyBootstrapped if the chain already has
// a tip.
func (c *Chain) Bootstrap(settings *types.NetworkSettings) (*types.StoredBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.GetLatestBlock(); err == nil {
		return nil, ErrAlreadyBootstrapped
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("genesis: check existing head: %w", err)
	}

	ws, err := state.New(c.storage, types.Hash{}, false)
	if err != nil {
		return nil, fmt.Errorf("genesis: open state: %w", err)
	}
	defer ws.Rollback()

	if err := ws.SetParams(settings.InitialParams); err != nil {
		return nil, fmt.Errorf("genesis: set params: %w", err)
	}
	for _, authority := range settings.GenesisAuthorities {
		if err := ws.AddAuthority(authority, types.Hash{}, 0, settings.GenesisTimestamp); err != nil {
			return nil, fmt.Errorf("genesis: add authority %s: %w", authority, err)
		}
	}
	if settings.InitialMint != nil && settings.InitialMint.Sign() > 0 {
		if err := ws.SetBalance(settings.InitialMintRecipient, types.NativeToken, settings.InitialMint, 0, settings.GenesisTimestamp); err != nil {
			return nil, fmt.Errorf("genesis: mint initial supply: %w", err)
		}
	}

	stateRoot, err := ws.CalculateRootHash()
	if err != nil {
		return nil, fmt.Errorf("genesis: calculate root: %w", err)
	}

	header := &types.BlockHeader{
		Version:       1,
		Height:        0,
		Timestamp:     settings.GenesisTimestamp,
		PreviousHash:  types.Hash{},
		Difficulty:    types.WeiToBigInt(settings.InitialParams.MinDifficulty),
		TxRootHash:    types.TxRoot(nil),
		StateRootHash: stateRoot,
		Coinbase:      types.ZeroAddress,
	}
	block := &types.Block{Header: header, Txs: nil}
	cumulativeDifficulty := types.BigIntToWei(header.Difficulty)
	sb := types.NewStoredBlock(block, cumulativeDifficulty, estimateSize(block), types.SourceGenesis, "", time.UnixMilli(settings.GenesisTimestamp), nil)

	if err := c.store.Update(func(b *store.Batch) error {
		if _, err := ws.PersistToBatch(b); err != nil {
			return err
		}
		if err := b.PutBlock(sb.Hash(), sb); err != nil {
			return err
		}
		if err := b.SetCanonicalHash(0, sb.Hash()); err != nil {
			return err
		}
		return b.SetLatestBlockHash(sb.Hash())
	}); err != nil {
		return nil, fmt.Errorf("genesis: commit: %w", err)
	}

	c.bus.PublishBlockConnected(blockConnectedEventFor(sb, types.SourceGenesis))
	return sb, nil
}

// ErrAlreadyBootstrapped is returned by Bootstrap when the chain already
// has a genesis block.
var ErrAlreadyBootstrapped = bootstrapError{}

type bootstrapError struct{}

func (bootstrapError) Error() string { return "chain: already bootstrapped" }
