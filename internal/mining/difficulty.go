// Package mining implements block template assembly, the ASERT difficulty
// retarget, and the parallel nonce search (spec §4.G). Difficulty here
// stays in math/big, following the teacher's own choice for consensus
// difficulty (core/consensus_difficulty.go's ConsensusStatus.Difficulty,
// SynnergyConsensus.curDifficulty) rather than uint256, since the
// fixed-point exponent arithmetic below needs values that can temporarily
// exceed 256 bits before the final clamp.
package mining

import (
	"math/big"

	"github.com/veylan-chain/veylan/internal/types"
)

// Fixed-point scale for the ASERT exponent and its cubic 2^x approximation
// (spec §4.G: "fixed-point with 16-bit scale").
const fixedScale = 1 << 16

// Cubic approximation coefficients for 2^x, 0<=x<1, scaled by 2^16:
// 1 + 0.695x + 0.226x^2 + 0.078x^3 (spec §4.G).
var (
	maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	coefC1    = big.NewInt(45548)
	coefC2    = big.NewInt(14812)
	coefC3    = big.NewInt(5112)
)

// AnchorInfo is the point the ASERT retarget measures drift from: the
// networkParams' recorded anchor height plus the header found there.
type AnchorInfo struct {
	AnchorDifficulty *big.Int
	AnchorTimestamp  int64 // ms
	AnchorHeight     uint64
}

// ASERT computes the next block's difficulty given the anchor, the parent
// actually being extended, and the current network params (spec §4.G
// "ASERT difficulty (absolute variant, fixed-point with 16-bit scale)").
func ASERT(anchor AnchorInfo, childHeight uint64, actualTimestampMs int64, params *types.NetworkParams) *big.Int {
	anchorDifficulty := anchor.AnchorDifficulty
	if anchorDifficulty.Sign() <= 0 {
		anchorDifficulty = big.NewInt(1)
	}
	anchorTarget := new(big.Int).Div(maxTarget, anchorDifficulty)

	heightDelta := int64(childHeight - anchor.AnchorHeight)
	drift := big.NewInt(actualTimestampMs - anchor.AnchorTimestamp - heightDelta*params.TargetMiningTimeMs)

	tauMs := new(big.Int).Mul(big.NewInt(int64(params.AsertHalfLifeBlocks)), big.NewInt(params.TargetMiningTimeMs))
	if tauMs.Sign() <= 0 {
		tauMs = big.NewInt(1)
	}

	// expFixed = floor(drift * 2^16 / tauMs), a 2^16-scaled fixed-point
	// exponent (may be negative).
	expFixed := new(big.Int).Mul(drift, big.NewInt(fixedScale))
	expFixed.Div(expFixed, tauMs)

	intPart := new(big.Int).Div(expFixed, big.NewInt(fixedScale))
	fracPart := new(big.Int).Sub(expFixed, new(big.Int).Mul(intPart, big.NewInt(fixedScale)))

	const clampBound = 256
	if intPart.Cmp(big.NewInt(clampBound)) > 0 {
		intPart.SetInt64(clampBound)
	} else if intPart.Cmp(big.NewInt(-clampBound)) < 0 {
		intPart.SetInt64(-clampBound)
	}

	factor := pow2Frac(fracPart) // 2^16-scaled value of 2^(fracPart/65536), in [65536, 131072)

	newTarget := new(big.Int).Mul(anchorTarget, factor)
	n := intPart.Int64()
	if n >= 0 {
		newTarget.Lsh(newTarget, uint(n))
	} else {
		newTarget.Rsh(newTarget, uint(-n))
	}
	newTarget.Div(newTarget, big.NewInt(fixedScale))

	if newTarget.Sign() < 1 {
		newTarget.SetInt64(1)
	} else if newTarget.Cmp(maxTarget) > 0 {
		newTarget.Set(maxTarget)
	}

	newDifficulty := new(big.Int).Div(maxTarget, newTarget)
	if newDifficulty.Sign() < 1 {
		newDifficulty.SetInt64(1)
	}

	minDifficulty := types.WeiToBigInt(params.MinDifficulty)
	if newDifficulty.Cmp(minDifficulty) < 0 {
		return minDifficulty
	}
	return newDifficulty
}

// pow2Frac evaluates the cubic approximation of 2^(x/65536) for
// 0 <= x < 65536, returning a 2^16-scaled fixed-point result.
func pow2Frac(x *big.Int) *big.Int {
	x2 := new(big.Int).Mul(x, x)
	x2.Div(x2, big.NewInt(fixedScale))
	x3 := new(big.Int).Mul(x2, x)
	x3.Div(x3, big.NewInt(fixedScale))

	term1 := new(big.Int).Mul(coefC1, x)
	term1.Div(term1, big.NewInt(fixedScale))
	term2 := new(big.Int).Mul(coefC2, x2)
	term2.Div(term2, big.NewInt(fixedScale))
	term3 := new(big.Int).Mul(coefC3, x3)
	term3.Div(term3, big.NewInt(fixedScale))

	result := big.NewInt(fixedScale)
	result.Add(result, term1)
	result.Add(result, term2)
	result.Add(result, term3)
	return result
}

