package p2p

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/veylan-chain/veylan/internal/types"
)

// StatusPayload is exchanged on connect: protocol version, network ID, and
// the sender's current head, used to decide compatibility and whether a
// sync is needed (spec §4.H code 0).
type StatusPayload struct {
	Version             uint32
	NetworkID           uint32
	HeadHeight          uint64
	HeadHash            types.Hash
	GenesisHash         types.Hash
	CumulativeDifficulty []byte
}

func EncodeStatus(p StatusPayload) ([]byte, error) { return rlp.EncodeToBytes(p) }
func DecodeStatus(b []byte) (StatusPayload, error) {
	var p StatusPayload
	err := rlp.DecodeBytes(b, &p)
	return p, err
}

// DisconnectPayload carries a human-readable reason (spec §4.H code 1).
type DisconnectPayload struct{ Reason string }

func EncodeDisconnect(p DisconnectPayload) ([]byte, error) { return rlp.EncodeToBytes(p) }
func DecodeDisconnect(b []byte) (DisconnectPayload, error) {
	var p DisconnectPayload
	err := rlp.DecodeBytes(b, &p)
	return p, err
}

// GetBlockHeadersPayload requests up to MaxCount canonical headers following
// the block named by Locator[0] (spec §4.H code 40). Service reads only the
// first locator entry and does not act on Reverse.
type GetBlockHeadersPayload struct {
	Locator  []types.Hash
	MaxCount uint32
	Reverse  bool
}

func EncodeGetBlockHeaders(p GetBlockHeadersPayload) ([]byte, error) { return rlp.EncodeToBytes(p) }
func DecodeGetBlockHeaders(b []byte) (GetBlockHeadersPayload, error) {
	var p GetBlockHeadersPayload
	err := rlp.DecodeBytes(b, &p)
	return p, err
}

// BlockHeadersPayload answers a GetBlockHeaders request with the already
// wire-encoded headers (reusing BlockHeader.MarshalBinary, spec §4.H code 41).
type BlockHeadersPayload struct{ Headers [][]byte }

func EncodeBlockHeaders(headers []*types.BlockHeader) ([]byte, error) {
	enc := make([][]byte, len(headers))
	for i, h := range headers {
		b, err := h.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode header %d: %w", i, err)
		}
		enc[i] = b
	}
	return rlp.EncodeToBytes(BlockHeadersPayload{Headers: enc})
}
func DecodeBlockHeaders(b []byte) ([]*types.BlockHeader, error) {
	var p BlockHeadersPayload
	if err := rlp.DecodeBytes(b, &p); err != nil {
		return nil, err
	}
	out := make([]*types.BlockHeader, len(p.Headers))
	for i, enc := range p.Headers {
		h, err := types.UnmarshalHeader(enc)
		if err != nil {
			return nil, fmt.Errorf("decode header %d: %w", i, err)
		}
		out[i] = h
	}
	return out, nil
}

// GetBlockBodiesPayload requests full blocks by hash (spec §4.H code 42).
type GetBlockBodiesPayload struct{ Hashes []types.Hash }

func EncodeGetBlockBodies(hashes []types.Hash) ([]byte, error) {
	return rlp.EncodeToBytes(GetBlockBodiesPayload{Hashes: hashes})
}
func DecodeGetBlockBodies(b []byte) ([]types.Hash, error) {
	var p GetBlockBodiesPayload
	err := rlp.DecodeBytes(b, &p)
	return p.Hashes, err
}

// BlockBodiesPayload / NewBlockPayload carry whole wire-encoded blocks
// (spec §4.H codes 43 and 20).
type BlockBodiesPayload struct{ Blocks [][]byte }

func EncodeBlocks(blocks []*types.Block) ([]byte, error) {
	enc := make([][]byte, len(blocks))
	for i, blk := range blocks {
		b, err := blk.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode block %d: %w", i, err)
		}
		enc[i] = b
	}
	return rlp.EncodeToBytes(BlockBodiesPayload{Blocks: enc})
}
func DecodeBlocks(b []byte) ([]*types.Block, error) {
	var p BlockBodiesPayload
	if err := rlp.DecodeBytes(b, &p); err != nil {
		return nil, err
	}
	out := make([]*types.Block, len(p.Blocks))
	for i, enc := range p.Blocks {
		blk, err := types.UnmarshalBlock(enc)
		if err != nil {
			return nil, fmt.Errorf("decode block %d: %w", i, err)
		}
		out[i] = blk
	}
	return out, nil
}

func EncodeNewBlock(block *types.Block) ([]byte, error) { return block.MarshalBinary() }
func DecodeNewBlock(b []byte) (*types.Block, error)     { return types.UnmarshalBlock(b) }

// GetMempoolHashesPayload / MempoolHashesPayload announce/request pooled tx
// hashes (spec §4.H codes 61/62).
type MempoolHashesPayload struct{ Hashes []types.Hash }

func EncodeMempoolHashes(hashes []types.Hash) ([]byte, error) {
	return rlp.EncodeToBytes(MempoolHashesPayload{Hashes: hashes})
}
func DecodeMempoolHashes(b []byte) ([]types.Hash, error) {
	var p MempoolHashesPayload
	err := rlp.DecodeBytes(b, &p)
	return p.Hashes, err
}

// GetMempoolTransactionsPayload / MempoolTransactionsPayload fetch/answer
// with full transactions (spec §4.H codes 63/64, and code 60 reuses the
// transactions payload for single-tx broadcast).
type MempoolTransactionsPayload struct{ Txs [][]byte }

func EncodeMempoolTxs(txs []*types.Tx) ([]byte, error) {
	enc := make([][]byte, len(txs))
	for i, tx := range txs {
		b, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode tx %d: %w", i, err)
		}
		enc[i] = b
	}
	return rlp.EncodeToBytes(MempoolTransactionsPayload{Txs: enc})
}
func DecodeMempoolTxs(b []byte) ([]*types.Tx, error) {
	var p MempoolTransactionsPayload
	if err := rlp.DecodeBytes(b, &p); err != nil {
		return nil, err
	}
	out := make([]*types.Tx, len(p.Txs))
	for i, enc := range p.Txs {
		tx, err := types.UnmarshalTx(enc)
		if err != nil {
			return nil, fmt.Errorf("decode tx %d: %w", i, err)
		}
		out[i] = tx
	}
	return out, nil
}
