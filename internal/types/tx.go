package types

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType identifies the payload shape and handler a transaction dispatches
// to (spec §3, §4.C).
type TxType uint8

const (
	TxTransfer TxType = iota
	TxBipCreate
	TxBipVote
)

func (t TxType) String() string {
	switch t {
	case TxTransfer:
		return "TRANSFER"
	case TxBipCreate:
		return "BIP_CREATE"
	case TxBipVote:
		return "BIP_VOTE"
	default:
		return fmt.Sprintf("TxType(%d)", t)
	}
}

// rlpTx is the exact field order hashed/signed. sender is absent here: it
// is recovered from the signature. The wire/storage form (rlpStorageTx)
// carries it next to the signature, and Verify checks the two agree.
type rlpTx struct {
	Version       uint32
	Type          uint8
	Network       uint32
	Timestamp     int64
	Nonce         int64
	Recipient     Address
	TokenAddress  Address
	Amount        []byte // big-endian uint256
	Fee           []byte // big-endian uint256
	Message       string
	Payload       []byte
	ReferenceHash Hash
}

// Tx is a signed, account-model transaction (spec §3).
type Tx struct {
	Version       uint32
	Type          TxType
	Network       uint32
	Timestamp     int64
	Nonce         int64 // first valid nonce is 0; pre-genesis "unset" is -1
	Sender        Address
	Recipient     Address
	TokenAddress  Address
	Amount        *Wei
	Fee           *Wei
	Message       string
	Payload       []byte // BipPayload-kind-tagged blob for BIP_CREATE/BIP_VOTE
	ReferenceHash Hash
	Signature     Signature

	hash *Hash
	size int
}

func (tx *Tx) toRLP() rlpTx {
	amount := [32]byte{}
	fee := [32]byte{}
	if tx.Amount != nil {
		amount = tx.Amount.Bytes32()
	}
	if tx.Fee != nil {
		fee = tx.Fee.Bytes32()
	}
	return rlpTx{
		Version:       tx.Version,
		Type:          uint8(tx.Type),
		Network:       tx.Network,
		Timestamp:     tx.Timestamp,
		Nonce:         tx.Nonce,
		Recipient:     tx.Recipient,
		TokenAddress:  tx.TokenAddress,
		Amount:        amount[:],
		Fee:           fee[:],
		Message:       tx.Message,
		Payload:       tx.Payload,
		ReferenceHash: tx.ReferenceHash,
	}
}

// signingBytes returns the RLP encoding of every field except the
// signature -- the bytes that get signed; Hash covers these bytes followed
// by the signature (spec §3: "signing hash excludes signature only").
func (tx *Tx) signingBytes() []byte {
	buf, err := rlp.EncodeToBytes(tx.toRLP())
	if err != nil {
		// Encoding a concrete, bounded struct cannot fail.
		panic(fmt.Sprintf("tx rlp encode: %v", err))
	}
	return buf
}

// SigningHash is the hash signed by the sender's private key.
func (tx *Tx) SigningHash() Hash {
	return Keccak256(tx.signingBytes())
}

// Sign signs the transaction with priv and recovers/sets Sender from the
// resulting signature, matching how every downstream reader (handlers,
// mempool, p2p) treats sender as derived rather than asserted.
func (tx *Tx) Sign(priv []byte) error {
	h := tx.SigningHash()
	sig, err := crypto.Sign(h[:], mustToECDSA(priv))
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	copy(tx.Signature[:], sig)
	return tx.recoverSender()
}

func (tx *Tx) recoverSender() error {
	h := tx.SigningHash()
	pub, err := crypto.SigToPub(h[:], tx.Signature[:])
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}
	tx.Sender = BytesToAddress(crypto.PubkeyToAddress(*pub).Bytes())
	return nil
}

// Verify recovers the sender from the signature and checks it matches
// tx.Sender (set by Sign, or by the wire decoder). Returns an error if the signature is malformed or doesn't
// recover to the claimed sender.
func (tx *Tx) Verify() error {
	if tx.Signature.IsZero() {
		return fmt.Errorf("tx %s: missing signature", tx.Hash())
	}
	h := tx.SigningHash()
	pub, err := crypto.SigToPub(h[:], tx.Signature[:])
	if err != nil {
		return fmt.Errorf("tx %s: bad signature: %w", tx.Hash(), err)
	}
	recovered := BytesToAddress(crypto.PubkeyToAddress(*pub).Bytes())
	if recovered != tx.Sender {
		return fmt.Errorf("tx %s: sender mismatch: recovered %s, claimed %s", tx.Hash(), recovered, tx.Sender)
	}
	return nil
}

// Hash is the deterministic hash of every field except Sender (spec §3
// invariant): signingBytes plus the signature bytes.
func (tx *Tx) Hash() Hash {
	if tx.hash != nil {
		return *tx.hash
	}
	var buf bytes.Buffer
	buf.Write(tx.signingBytes())
	buf.Write(tx.Signature[:])
	h := Keccak256(buf.Bytes())
	tx.hash = &h
	return h
}

// Size returns the encoded byte length of the transaction, used for fee and
// block-size accounting.
func (tx *Tx) Size() int {
	if tx.size != 0 {
		return tx.size
	}
	buf := tx.signingBytes()
	tx.size = len(buf) + len(tx.Signature)
	return tx.size
}

// IsUserPaid reports whether the fee for this tx type is charged to, and
// collected from, the sender (spec §4.D step 2: "currently only TRANSFER").
// Governance transactions are sponsored by the protocol: their fee is
// minted rather than debited.
func (t TxType) IsUserPaid() bool { return t == TxTransfer }

// rlpStorageTx is the full wire/storage form of a Tx: every signing field
// plus Sender and Signature, used wherever a Tx crosses a process boundary
// intact (block storage, P2P bodies, mempool gossip).
type rlpStorageTx struct {
	rlpTx
	Sender    Address
	Signature Signature
}

// MarshalBinary encodes the full transaction, including Sender and
// Signature, for storage or wire transmission.
func (tx *Tx) MarshalBinary() ([]byte, error) {
	return rlp.EncodeToBytes(rlpStorageTx{rlpTx: tx.toRLP(), Sender: tx.Sender, Signature: tx.Signature})
}

// UnmarshalTx decodes a transaction previously written by MarshalBinary.
func UnmarshalTx(b []byte) (*Tx, error) {
	var w rlpStorageTx
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	tx := &Tx{
		Version:       w.Version,
		Type:          TxType(w.Type),
		Network:       w.Network,
		Timestamp:     w.Timestamp,
		Nonce:         w.Nonce,
		Sender:        w.Sender,
		Recipient:     w.Recipient,
		TokenAddress:  w.TokenAddress,
		Message:       w.Message,
		Payload:       w.Payload,
		ReferenceHash: w.ReferenceHash,
		Signature:     w.Signature,
	}
	tx.Amount = weiFromBytesPayload(w.Amount)
	tx.Fee = weiFromBytesPayload(w.Fee)
	if tx.Amount == nil {
		tx.Amount = NewWei(0)
	}
	if tx.Fee == nil {
		tx.Fee = NewWei(0)
	}
	return tx, nil
}

func mustToECDSA(priv []byte) *ecdsa.PrivateKey {
	k, err := crypto.ToECDSA(priv)
	if err != nil {
		panic(fmt.Sprintf("invalid private key: %v", err))
	}
	return k
}
