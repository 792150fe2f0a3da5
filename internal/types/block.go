package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// BlockHeader carries everything needed to validate and chain a block
// (spec §3). The "PoW input" is the header without Nonce and Signature; the
// signing hash is the header without Signature only.
type BlockHeader struct {
	Version       uint32
	Height        uint64
	Timestamp     int64 // milliseconds since epoch
	PreviousHash  Hash
	Difficulty    *big.Int
	TxRootHash    Hash
	StateRootHash Hash
	Coinbase      Address
	Nonce         uint64
	Signature     Signature
}

type rlpHeaderBase struct {
	Version       uint32
	Height        uint64
	Timestamp     int64
	PreviousHash  Hash
	Difficulty    []byte
	TxRootHash    Hash
	StateRootHash Hash
	Coinbase      Address
}

type rlpHeaderPoWInput struct {
	rlpHeaderBase
}

type rlpHeaderSigningInput struct {
	rlpHeaderBase
	Nonce uint64
}

func (h *BlockHeader) base() rlpHeaderBase {
	diff := []byte{}
	if h.Difficulty != nil {
		diff = h.Difficulty.Bytes()
	}
	return rlpHeaderBase{
		Version:       h.Version,
		Height:        h.Height,
		Timestamp:     h.Timestamp,
		PreviousHash:  h.PreviousHash,
		Difficulty:    diff,
		TxRootHash:    h.TxRootHash,
		StateRootHash: h.StateRootHash,
		Coinbase:      h.Coinbase,
	}
}

// PoWInput returns the bytes hashed by the proof-of-work function: the
// header excluding both Nonce and Signature.
func (h *BlockHeader) PoWInput() []byte {
	buf, err := rlp.EncodeToBytes(rlpHeaderPoWInput{h.base()})
	if err != nil {
		panic(fmt.Sprintf("header rlp encode: %v", err))
	}
	return buf
}

// SigningBytes returns the bytes signed by the miner: the header excluding
// only Signature (Nonce is included, unlike PoWInput).
func (h *BlockHeader) SigningBytes() []byte {
	buf, err := rlp.EncodeToBytes(rlpHeaderSigningInput{h.base(), h.Nonce})
	if err != nil {
		panic(fmt.Sprintf("header rlp encode: %v", err))
	}
	return buf
}

// SigningHash is the hash the coinbase key signs.
func (h *BlockHeader) SigningHash() Hash {
	return Keccak256(h.SigningBytes())
}

// Hash is the consensus block hash: keccak256(header without signature).
// This is distinct from SigningHash only in name -- both exclude exactly
// the signature -- kept as a separate method because callers reason about
// "the block hash" and "what the miner signs" as different concepts even
// though they compute the same bytes (spec §6).
func (h *BlockHeader) Hash() Hash { return h.SigningHash() }

// rlpStorageHeader is the full wire/storage form of a BlockHeader: PoW
// input plus Nonce and Signature, the complete set of fields needed to
// round-trip a header without recomputation.
type rlpStorageHeader struct {
	rlpHeaderBase
	Nonce     uint64
	Signature Signature
}

// MarshalBinary encodes the complete header, including Nonce and
// Signature, for storage or wire transmission.
func (h *BlockHeader) MarshalBinary() ([]byte, error) {
	return rlp.EncodeToBytes(rlpStorageHeader{rlpHeaderBase: h.base(), Nonce: h.Nonce, Signature: h.Signature})
}

// UnmarshalHeader decodes a header previously written by MarshalBinary.
func UnmarshalHeader(b []byte) (*BlockHeader, error) {
	var w rlpStorageHeader
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	diff := new(big.Int)
	if len(w.Difficulty) > 0 {
		diff.SetBytes(w.Difficulty)
	}
	return &BlockHeader{
		Version:       w.Version,
		Height:        w.Height,
		Timestamp:     w.Timestamp,
		PreviousHash:  w.PreviousHash,
		Difficulty:    diff,
		TxRootHash:    w.TxRootHash,
		StateRootHash: w.StateRootHash,
		Coinbase:      w.Coinbase,
		Nonce:         w.Nonce,
		Signature:     w.Signature,
	}, nil
}

// rlpStorageBlock carries a header and its transactions, each independently
// encoded via Tx.MarshalBinary so block storage and P2P bodies share one
// wire format.
type rlpStorageBlock struct {
	Header []byte
	Txs    [][]byte
}

// MarshalBinary encodes the full block (header and every transaction).
func (b *Block) MarshalBinary() ([]byte, error) {
	hdr, err := b.Header.MarshalBinary()
	if err != nil {
		return nil, err
	}
	txs := make([][]byte, len(b.Txs))
	for i, tx := range b.Txs {
		enc, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal tx %d: %w", i, err)
		}
		txs[i] = enc
	}
	return rlp.EncodeToBytes(rlpStorageBlock{Header: hdr, Txs: txs})
}

// UnmarshalBlock decodes a block previously written by MarshalBinary.
func UnmarshalBlock(b []byte) (*Block, error) {
	var w rlpStorageBlock
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	hdr, err := UnmarshalHeader(w.Header)
	if err != nil {
		return nil, err
	}
	txs := make([]*Tx, len(w.Txs))
	for i, enc := range w.Txs {
		tx, err := UnmarshalTx(enc)
		if err != nil {
			return nil, fmt.Errorf("unmarshal tx %d: %w", i, err)
		}
		txs[i] = tx
	}
	return &Block{Header: hdr, Txs: txs}, nil
}

// SignHeader signs the header's signing hash with priv (the coinbase's
// private key) and sets Signature.
func (h *BlockHeader) SignHeader(priv []byte) error {
	sh := h.SigningHash()
	sig, err := crypto.Sign(sh[:], mustToECDSA(priv))
	if err != nil {
		return fmt.Errorf("sign header: %w", err)
	}
	copy(h.Signature[:], sig)
	return nil
}

// VerifyCoinbaseSignature recovers the signer from Signature and checks it
// matches Coinbase (spec §4.F connect step 2 "coinbase signature valid").
func (h *BlockHeader) VerifyCoinbaseSignature() error {
	if h.Signature.IsZero() {
		return fmt.Errorf("header %s: missing signature", h.Hash())
	}
	sh := h.SigningHash()
	pub, err := crypto.SigToPub(sh[:], h.Signature[:])
	if err != nil {
		return fmt.Errorf("header %s: bad signature: %w", h.Hash(), err)
	}
	recovered := BytesToAddress(crypto.PubkeyToAddress(*pub).Bytes())
	if recovered != h.Coinbase {
		return fmt.Errorf("header %s: coinbase mismatch: recovered %s, claimed %s", h.Hash(), recovered, h.Coinbase)
	}
	return nil
}

// Block is a header plus its ordered transaction list.
type Block struct {
	Header *BlockHeader
	Txs    []*Tx
}

// TxRoot computes the Merkle root over the hashes of txs, in order.
func TxRoot(txs []*Tx) Hash {
	if len(txs) == 0 {
		return Hash{}
	}
	leaves := make([]Hash, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.Hash()
	}
	return merkleRoot(leaves)
}

// merkleRoot folds leaves pairwise, duplicating the last element of an odd
// level, until a single root remains.
func merkleRoot(level []Hash) Hash {
	if len(level) == 1 {
		return level[0]
	}
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	next := make([]Hash, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next[i/2] = Keccak256(level[i][:], level[i+1][:])
	}
	return merkleRoot(next)
}
