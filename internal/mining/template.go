package mining

import (
	"math/big"

	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/trie"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/txprocessor"
	"github.com/veylan-chain/veylan/internal/types"
)

// Mempool is the minimal surface the template assembler needs, mirroring
// the teacher's small-consumer-interface style for consensus dependencies
// (core/consensus.go wires pool/network/security/authority as separate
// narrow interfaces rather than one fat one).
type Mempool interface {
	// TxIterator returns a fee-per-byte descending snapshot, already
	// respecting per-sender nonce order (spec §4.I).
	TxIterator() []*types.Tx
}

// Template is an unmined block plus the bookkeeping the controller needs
// to finish it (sign + set nonce) and to know which txs to drop from the
// mempool on success or on staleness.
type Template struct {
	Header     *types.BlockHeader
	Txs        []*types.Tx
	InvalidTxs []*types.Tx
	PowInput   []byte
	Target     *big.Int
}

// AssembleTemplate builds a mining-ready block template on top of parent
// (spec §4.G "Template assembly"). storage must be the same backing
// Storage parent.StateRootHash resolves against; the mining-mode
// WorldState built here is rolled back before returning; it exists only to
// pick a valid tx set and compute the resulting roots; connect() redoes
// the same execution in validation mode once the block is actually
// published, which is where state is durably persisted.
func AssembleTemplate(
	storage trie.Storage,
	parentHeader *types.BlockHeader,
	anchor AnchorInfo,
	mp Mempool,
	coinbase types.Address,
	version uint32,
	networkID uint32,
	timestampMs int64,
	settings *types.NetworkSettings,
	registry *txhandlers.Registry,
) (*Template, error) {
	ws, err := state.New(storage, parentHeader.StateRootHash, true)
	if err != nil {
		return nil, err
	}
	defer ws.Rollback()

	params, err := ws.GetParams()
	if err != nil {
		return nil, err
	}

	height := parentHeader.Height + 1
	block := txhandlers.SimpleBlock{Height: height, Timestamp: timestampMs, Coinbase: coinbase}

	maxSize := settings.MaxBlockSizeBytes - settings.BlockSizeSafetyMargin
	if maxSize < 0 {
		maxSize = 0
	}

	candidates := mp.TxIterator()
	selected := make([]*types.Tx, 0, len(candidates))
	seen := make(map[types.Hash]bool, len(candidates))
	running := 0
	for _, tx := range candidates {
		h := tx.Hash()
		if seen[h] {
			continue
		}
		seen[h] = true
		size := tx.Size()
		if running+size > maxSize {
			continue
		}
		running += size
		selected = append(selected, tx)
	}

	result, err := txprocessor.ExecuteBatch(ws, block, selected, params, settings, txprocessor.Mining, registry)
	if err != nil {
		return nil, err
	}

	stateRoot, err := ws.CalculateRootHash()
	if err != nil {
		return nil, err
	}
	txRoot := types.TxRoot(result.ValidTxs)

	difficulty := ASERT(anchor, height, timestampMs, params)

	header := &types.BlockHeader{
		Version:       version,
		Height:        height,
		Timestamp:     timestampMs,
		PreviousHash:  parentHeader.Hash(),
		Difficulty:    difficulty,
		TxRootHash:    txRoot,
		StateRootHash: stateRoot,
		Coinbase:      coinbase,
		Nonce:         0,
	}

	return &Template{
		Header:     header,
		Txs:        result.ValidTxs,
		InvalidTxs: result.InvalidTxs,
		PowInput:   header.PoWInput(),
		Target:     TargetForDifficulty(difficulty),
	}, nil
}
