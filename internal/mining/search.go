package mining

import (
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/veylan-chain/veylan/internal/types"
)

// checkInterval is how often (in iterations) a worker polls the cancel
// channel (spec §4.G "every 4096 tries"); the shared found flag is read on
// every iteration.
const checkInterval = 4096

// SearchResult is the outcome of a nonce search.
type SearchResult struct {
	Found bool
	Nonce uint64
	Hash  types.Hash
}

// Search launches workers nonce-searching powInput against target,
// partitioning [0, 2^63) into contiguous chunks, until a worker finds a
// satisfying nonce or cancel is closed (spec §4.G "Nonce search").
func Search(powInput []byte, target *big.Int, workers int, hashFn HashFunc, cancel <-chan struct{}) SearchResult {
	if workers < 1 {
		workers = 1
	}
	var found int32
	var result SearchResult
	var resultMu sync.Mutex

	const nonceSpace = uint64(1) << 63
	chunk := nonceSpace / uint64(workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		start := uint64(i) * chunk
		end := start + chunk
		if i == workers-1 {
			end = nonceSpace
		}
		wg.Add(1)
		go func(start, end uint64) {
			defer wg.Done()
			var iters uint64
			for n := start; n < end; n++ {
				if atomic.LoadInt32(&found) != 0 {
					return
				}
				iters++
				if iters%checkInterval == 0 {
					select {
					case <-cancel:
						return
					default:
					}
				}
				h := hashFn(powInput, n)
				if HashMeetsTarget(h, target) {
					if atomic.CompareAndSwapInt32(&found, 0, 1) {
						resultMu.Lock()
						result = SearchResult{Found: true, Nonce: n, Hash: h}
						resultMu.Unlock()
					}
					return
				}
			}
		}(start, end)
	}
	wg.Wait()

	resultMu.Lock()
	defer resultMu.Unlock()
	return result
}
