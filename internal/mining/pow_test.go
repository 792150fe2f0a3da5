package mining

import (
	"math/big"
	"testing"

	"github.com/veylan-chain/veylan/internal/types"
)

func TestTargetForDifficultyMonotonicallyDecreases(t *testing.T) {
	low := TargetForDifficulty(big.NewInt(1))
	high := TargetForDifficulty(big.NewInt(1000))
	if high.Cmp(low) >= 0 {
		t.Fatalf("expected target to shrink as difficulty grows: low=%s high=%s", low, high)
	}
}

func TestTargetForDifficultyHandlesNilAndNonPositive(t *testing.T) {
	if TargetForDifficulty(nil).Cmp(maxTarget) != 0 {
		t.Fatal("expected max target for nil difficulty")
	}
	if TargetForDifficulty(big.NewInt(0)).Cmp(maxTarget) != 0 {
		t.Fatal("expected max target for zero difficulty")
	}
	if TargetForDifficulty(big.NewInt(-5)).Cmp(maxTarget) != 0 {
		t.Fatal("expected max target for negative difficulty")
	}
}

func TestHashMeetsTargetBoundary(t *testing.T) {
	target := big.NewInt(100)
	var h types.Hash
	h[31] = 100
	if !HashMeetsTarget(h, target) {
		t.Fatal("expected hash == target to meet it")
	}
	h[31] = 101
	if HashMeetsTarget(h, target) {
		t.Fatal("expected hash > target to not meet it")
	}
}

func TestDefaultHashFuncDependsOnNonce(t *testing.T) {
	input := []byte("header bytes")
	h1 := DefaultHashFunc(input, 1)
	h2 := DefaultHashFunc(input, 2)
	if h1 == h2 {
		t.Fatal("expected different nonces to produce different hashes")
	}
	h1b := DefaultHashFunc(input, 1)
	if h1 != h1b {
		t.Fatal("expected hash function to be deterministic for the same input/nonce")
	}
}
