package p2p

// BuildLocator returns exponentially-spaced heights below headHeight,
// always including height 0, for a GetBlockHeaders locator (spec §4.H
// "locator algorithm: exponentially-spaced heights, step doubles after 10,
// always include height 0").
func BuildLocator(headHeight uint64) []uint64 {
	var heights []uint64
	step := uint64(1)
	count := 0
	h := headHeight
	for {
		heights = append(heights, h)
		if h == 0 {
			return heights
		}
		count++
		if count >= 10 {
			step *= 2
		}
		if h < step {
			h = 0
		} else {
			h -= step
		}
	}
}
