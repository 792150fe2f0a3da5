// Package types defines the wire- and consensus-level primitives shared by
// every other package: hashes, addresses, the native amount type, the
// transaction and block shapes, and the stored-block/event envelopes that
// wrap them (spec §3 Data Model).
package types

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// HashSize is the length in bytes of a Hash.
const HashSize = 32

// AddressSize is the length in bytes of an Address.
const AddressSize = 20

// Hash is a 32-byte content hash, used for block, tx and trie-node identity.
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// BytesToHash left-pads or truncates b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashSize {
		b = b[len(b)-HashSize:]
	}
	copy(h[HashSize-len(b):], b)
	return h
}

// Keccak256 hashes the concatenation of data using Keccak-256, the hash
// function used throughout the consensus surface (block hash, tx hash, trie
// node hash) to stay bit-compatible with the account-model chains this node
// interoperates with in spirit.
func Keccak256(data ...[]byte) Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d)
	}
	var h Hash
	hasher.Sum(h[:0])
	return h
}

// Address is a 20-byte account identifier.
type Address [AddressSize]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool { return a == Address{} }

// ZeroAddress is the sentinel burn/unset address.
var ZeroAddress = Address{}

// NativeToken is the sentinel tokenAddress identifying the chain's native
// coin rather than an issued token.
var NativeToken = Address{0xFF}

// BytesToAddress left-pads or truncates b into an Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressSize {
		b = b[len(b)-AddressSize:]
	}
	copy(a[AddressSize-len(b):], b)
	return a
}

// ParseAddress decodes a hex-encoded 20-byte address.
func ParseAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != AddressSize {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// Wei is the native-token amount type: an unsigned 256-bit integer.
type Wei = uint256.Int

// NewWei constructs a Wei from a uint64.
func NewWei(v uint64) *Wei { return uint256.NewInt(v) }

// WeiToBigInt converts a Wei amount (or nil, as zero) to a math/big.Int,
// the representation block difficulty and cumulative-difficulty
// arithmetic uses (spec §4.F "cumulativeDifficulty = parent + block
// difficulty", where block.header.Difficulty is itself a big.Int).
func WeiToBigInt(w *Wei) *big.Int {
	if w == nil {
		return big.NewInt(0)
	}
	return w.ToBig()
}

// BigIntToWei converts b into a Wei, clamping to the maximum uint256 value
// on overflow rather than panicking or wrapping.
func BigIntToWei(b *big.Int) *Wei {
	w, overflow := new(Wei).SetFromBig(b)
	if overflow {
		return new(Wei).SetAllOne()
	}
	return w
}

// Signature is a 65-byte recoverable ECDSA signature (r || s || v).
type Signature [65]byte

func (s Signature) IsZero() bool { return s == Signature{} }
