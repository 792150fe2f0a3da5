package p2p

import (
	"reflect"
	"testing"
)

func TestBuildLocatorAlwaysEndsAtZero(t *testing.T) {
	heights := BuildLocator(5)
	if heights[len(heights)-1] != 0 {
		t.Fatalf("expected locator to end at height 0, got %v", heights)
	}
	if heights[0] != 5 {
		t.Fatalf("expected locator to start at head height 5, got %v", heights)
	}
}

func TestBuildLocatorZeroHeightIsJustGenesis(t *testing.T) {
	heights := BuildLocator(0)
	if !reflect.DeepEqual(heights, []uint64{0}) {
		t.Fatalf("expected [0], got %v", heights)
	}
}

func TestBuildLocatorStepsByOneUnderTen(t *testing.T) {
	heights := BuildLocator(3)
	if !reflect.DeepEqual(heights, []uint64{3, 2, 1, 0}) {
		t.Fatalf("expected [3 2 1 0], got %v", heights)
	}
}

func TestBuildLocatorDoublesStepPastTenEntries(t *testing.T) {
	heights := BuildLocator(100)
	// First 10 entries step by 1 (100..91), then the step doubles to 2.
	for i := 0; i < 10; i++ {
		want := uint64(100 - i)
		if heights[i] != want {
			t.Fatalf("entry %d = %d, want %d", i, heights[i], want)
		}
	}
	if heights[10] != 89 {
		t.Fatalf("entry 10 = %d, want 89 (step doubled to 2)", heights[10])
	}
	if heights[len(heights)-1] != 0 {
		t.Fatal("expected locator to still terminate at height 0")
	}
}
