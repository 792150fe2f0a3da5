package mining

import (
	"encoding/binary"
	"math/big"

	"github.com/veylan-chain/veylan/internal/types"
)

// HashFunc computes the proof-of-work hash for a given powInput and nonce.
// The spec treats the real PoW VM as RandomX-like: expensive per-dataset
// init, pluggable behind H(input) -> 32B. DefaultHashFunc stands in for
// that VM with keccak256, satisfying the same contract without depending
// on a dataset/VM this repo doesn't implement.
type HashFunc func(powInput []byte, nonce uint64) types.Hash

// DefaultHashFunc is keccak256(powInput || big-endian nonce).
func DefaultHashFunc(powInput []byte, nonce uint64) types.Hash {
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	return types.Keccak256(powInput, nb[:])
}

// TargetForDifficulty converts a difficulty into the maximum PoW hash
// value that satisfies it: target = (2^256-1) / difficulty (spec §4.G,
// §6 "PoW hash compared as big-endian <= target").
func TargetForDifficulty(difficulty *big.Int) *big.Int {
	if difficulty == nil || difficulty.Sign() <= 0 {
		return new(big.Int).Set(maxTarget)
	}
	return new(big.Int).Div(maxTarget, difficulty)
}

// HashMeetsTarget reports whether h, read as a big-endian integer, is
// <= target.
func HashMeetsTarget(h types.Hash, target *big.Int) bool {
	v := new(big.Int).SetBytes(h[:])
	return v.Cmp(target) <= 0
}
