package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// ConnectedSource records how a block was obtained, surfaced on the
// BlockConnected event for downstream listeners (spec §3, §6).
type ConnectedSource uint8

const (
	SourceGenesis ConnectedSource = iota
	SourceMined
	SourcePropagated
	SourceSync
	SourceReorg
)

func (s ConnectedSource) String() string {
	switch s {
	case SourceGenesis:
		return "GENESIS"
	case SourceMined:
		return "MINED"
	case SourcePropagated:
		return "PROPAGATED"
	case SourceSync:
		return "SYNC"
	case SourceReorg:
		return "REORG"
	default:
		return "UNKNOWN"
	}
}

// TxIndex is the precomputed per-tx index of a StoredBlock, filled in once
// at construction (spec §9 Open Question: "this spec mandates index fields
// be filled at construction", resolving the teacher's two incompatible
// builder flavors in favor of a single eager shape).
type TxIndex struct {
	Hash      []Hash
	Size      []int
	Sender    []Address
	HashIndex map[Hash]int
}

func buildTxIndex(txs []*Tx) TxIndex {
	idx := TxIndex{
		Hash:      make([]Hash, len(txs)),
		Size:      make([]int, len(txs)),
		Sender:    make([]Address, len(txs)),
		HashIndex: make(map[Hash]int, len(txs)),
	}
	for i, tx := range txs {
		h := tx.Hash()
		idx.Hash[i] = h
		idx.Size[i] = tx.Size()
		idx.Sender[i] = tx.Sender
		idx.HashIndex[h] = i
	}
	return idx
}

// StoredBlock wraps a Block with the metadata the chain store and reorg
// logic need, computed once and never recomputed (spec §3 invariant: "hash
// is set once at creation and never recomputed from the header
// afterwards").
type StoredBlock struct {
	Block                *Block
	CumulativeDifficulty *Wei
	ReceivedAt           time.Time
	ReceivedFrom         string // peer identity, empty for locally-produced blocks
	ConnectedSource      ConnectedSource
	SizeBytes            int
	Index                TxIndex
	Events               []BlockEvent

	hash Hash
}

// NewStoredBlock constructs a StoredBlock, computing the hash and tx index
// once. cumulativeDifficulty must already account for this block's own
// difficulty (parent cumulative + header.Difficulty).
func NewStoredBlock(b *Block, cumulativeDifficulty *Wei, sizeBytes int, source ConnectedSource, receivedFrom string, receivedAt time.Time, events []BlockEvent) *StoredBlock {
	return &StoredBlock{
		Block:                b,
		CumulativeDifficulty: cumulativeDifficulty,
		ReceivedAt:           receivedAt,
		ReceivedFrom:         receivedFrom,
		ConnectedSource:      source,
		SizeBytes:            sizeBytes,
		Index:                buildTxIndex(b.Txs),
		Events:               events,
		hash:                 b.Header.Hash(),
	}
}

// Hash returns the block hash computed at construction time.
func (sb *StoredBlock) Hash() Hash { return sb.hash }

// Height is a convenience accessor for sb.Block.Header.Height.
func (sb *StoredBlock) Height() uint64 { return sb.Block.Header.Height }

// rlpStoredBlock is the persisted form of a StoredBlock. Hash and Index are
// intentionally absent: both are cheap to recompute from Block and are
// reconstructed by NewStoredBlock on load, keeping the "computed once at
// construction" invariant for the decoded copy too.
type rlpStoredBlock struct {
	Block                []byte
	CumulativeDifficulty []byte
	ReceivedAtUnixMs      int64
	ReceivedFrom          string
	ConnectedSource       uint8
	SizeBytes             int
	Events                [][]byte
}

// MarshalBinary encodes the StoredBlock for the block store.
func (sb *StoredBlock) MarshalBinary() ([]byte, error) {
	blockBytes, err := sb.Block.MarshalBinary()
	if err != nil {
		return nil, err
	}
	events := make([][]byte, len(sb.Events))
	for i, e := range sb.Events {
		enc, err := EncodeEvent(e)
		if err != nil {
			return nil, fmt.Errorf("encode event %d: %w", i, err)
		}
		events[i] = enc
	}
	return rlp.EncodeToBytes(rlpStoredBlock{
		Block:                blockBytes,
		CumulativeDifficulty: weiToBytes(sb.CumulativeDifficulty),
		ReceivedAtUnixMs:     sb.ReceivedAt.UnixMilli(),
		ReceivedFrom:         sb.ReceivedFrom,
		ConnectedSource:      uint8(sb.ConnectedSource),
		SizeBytes:            sb.SizeBytes,
		Events:               events,
	})
}

// UnmarshalStoredBlock decodes a StoredBlock previously written by
// MarshalBinary, recomputing its hash and tx index.
func UnmarshalStoredBlock(b []byte) (*StoredBlock, error) {
	var w rlpStoredBlock
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return nil, fmt.Errorf("unmarshal stored block: %w", err)
	}
	block, err := UnmarshalBlock(w.Block)
	if err != nil {
		return nil, err
	}
	events := make([]BlockEvent, len(w.Events))
	for i, enc := range w.Events {
		ev, err := DecodeEvent(enc)
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", i, err)
		}
		events[i] = ev
	}
	return NewStoredBlock(
		block,
		weiFromBytesPayload(w.CumulativeDifficulty),
		w.SizeBytes,
		ConnectedSource(w.ConnectedSource),
		w.ReceivedFrom,
		time.UnixMilli(w.ReceivedAtUnixMs),
		events,
	), nil
}
