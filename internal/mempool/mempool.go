// Package mempool is the pending-transaction pool: admission control, a
// fee-priority iterator respecting per-sender nonce order, and eviction on
// block connection (spec §4.I). Modeled on the teacher's TxPool shape
// (core/txpool_addtx.go, core/txpool_snapshot.go): a mutex-guarded lookup
// map plus an ordered collection, snapshotted under a read lock.
package mempool

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/veylan-chain/veylan/internal/types"
)

// NonceSource is the narrow state surface admission control needs: the
// committed (on-chain) nonce for a sender, to compute the next expected
// tx nonce alongside however many of the sender's own txs are already
// pending (spec §4.I "nonce = state.getNonce(sender).nonce + 1 +
// pending_count(sender)").
type NonceSource interface {
	GetNonce(addr types.Address) (int64, error)
}

// Entry is one pooled transaction plus its admission bookkeeping (spec
// §4.I "hash -> MempoolEntry{tx, receivedAt, feePerByte}").
type Entry struct {
	Tx         *types.Tx
	ReceivedAt int64
	FeePerByte float64
}

// Config bounds pool growth (spec §4.I "per-sender cap eviction").
type Config struct {
	MaxGlobal    int
	MaxPerSender int
	MinFeeFloor  *types.Wei // flat floor; handlers/state enforce the real per-byte fee
}

// Pool is the mempool: a hash-keyed entry store plus a sender-ordered
// secondary index (spec §4.I).
type Pool struct {
	cfg Config

	mu       sync.RWMutex
	entries  map[types.Hash]*Entry
	bySender map[types.Address][]types.Hash // ordered by tx.Nonce ascending
}

func New(cfg Config) *Pool {
	return &Pool{
		cfg:      cfg,
		entries:  make(map[types.Hash]*Entry),
		bySender: make(map[types.Address][]types.Hash),
	}
}

// ErrDuplicate, ErrPoolFull are admission rejections (spec §4.I).
var (
	ErrDuplicate  = fmt.Errorf("mempool: duplicate tx")
	ErrPoolFull   = fmt.Errorf("mempool: pool full")
	ErrBelowFloor = fmt.Errorf("mempool: fee below floor")
	ErrBadNonce   = fmt.Errorf("mempool: unexpected nonce")
)

// Add runs admission control and inserts tx if accepted (spec §4.I "add(tx)").
func (p *Pool) Add(tx *types.Tx, ns NonceSource, receivedAt int64) error {
	if err := tx.Verify(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h := tx.Hash()
	if _, exists := p.entries[h]; exists {
		return ErrDuplicate
	}

	feePerByte := feePerByteOf(tx)
	if p.cfg.MinFeeFloor != nil && tx.Fee.Cmp(p.cfg.MinFeeFloor) < 0 {
		return ErrBelowFloor
	}

	committed, err := ns.GetNonce(tx.Sender)
	if err != nil {
		return err
	}
	expected := committed + 1 + int64(len(p.bySender[tx.Sender]))
	if tx.Nonce != expected {
		return ErrBadNonce
	}

	if len(p.bySender[tx.Sender]) >= p.cfg.MaxPerSender && p.cfg.MaxPerSender > 0 {
		return p.evictOrReject(tx.Sender, feePerByte, h, tx, receivedAt)
	}
	if len(p.entries) >= p.cfg.MaxGlobal && p.cfg.MaxGlobal > 0 {
		if !p.evictLowestFee(feePerByte) {
			return ErrPoolFull
		}
	}

	p.insert(h, tx, feePerByte, receivedAt)
	return nil
}

func (p *Pool) insert(h types.Hash, tx *types.Tx, feePerByte float64, receivedAt int64) {
	p.entries[h] = &Entry{Tx: tx, ReceivedAt: receivedAt, FeePerByte: feePerByte}
	list := p.bySender[tx.Sender]
	list = append(list, h)
	sort.Slice(list, func(i, j int) bool {
		return p.entries[list[i]].Tx.Nonce < p.entries[list[j]].Tx.Nonce
	})
	p.bySender[tx.Sender] = list
}

// evictOrReject handles a per-sender cap hit: only the sender's own
// lowest-fee pending tx is eligible for eviction in its favor.
func (p *Pool) evictOrReject(sender types.Address, feePerByte float64, h types.Hash, tx *types.Tx, receivedAt int64) error {
	list := p.bySender[sender]
	worstIdx, worstFee := -1, feePerByte
	for i, lh := range list {
		if f := p.entries[lh].FeePerByte; f < worstFee {
			worstIdx, worstFee = i, f
		}
	}
	if worstIdx < 0 {
		return ErrPoolFull
	}
	p.removeLocked(list[worstIdx])
	p.insert(h, tx, feePerByte, receivedAt)
	return nil
}

// evictLowestFee evicts the single lowest fee-per-byte entry in the whole
// pool if it is worse than candidateFee, making room for the newcomer.
func (p *Pool) evictLowestFee(candidateFee float64) bool {
	var worstHash types.Hash
	worstFee := candidateFee
	found := false
	for h, e := range p.entries {
		if e.FeePerByte < worstFee {
			worstHash, worstFee = h, e.FeePerByte
			found = true
		}
	}
	if !found {
		return false
	}
	p.removeLocked(worstHash)
	return true
}

func (p *Pool) removeLocked(h types.Hash) {
	e, ok := p.entries[h]
	if !ok {
		return
	}
	delete(p.entries, h)
	list := p.bySender[e.Tx.Sender]
	for i, lh := range list {
		if lh == h {
			p.bySender[e.Tx.Sender] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.bySender[e.Tx.Sender]) == 0 {
		delete(p.bySender, e.Tx.Sender)
	}
}

// TxIterator returns a fee-per-byte descending snapshot, with each
// sender's own txs kept in nonce order (spec §4.I "get_tx_iterator()").
func (p *Pool) TxIterator() []*types.Tx {
	p.mu.RLock()
	defer p.mu.RUnlock()

	type head struct {
		sender types.Address
		idx    int
	}
	heads := make([]head, 0, len(p.bySender))
	for s := range p.bySender {
		heads = append(heads, head{sender: s})
	}

	out := make([]*types.Tx, 0, len(p.entries))
	for {
		bestI, bestFee := -1, -1.0
		for i, hd := range heads {
			list := p.bySender[hd.sender]
			if hd.idx >= len(list) {
				continue
			}
			fee := p.entries[list[hd.idx]].FeePerByte
			if bestI < 0 || fee > bestFee {
				bestI, bestFee = i, fee
			}
		}
		if bestI < 0 {
			break
		}
		list := p.bySender[heads[bestI].sender]
		out = append(out, p.entries[list[heads[bestI].idx]].Tx)
		heads[bestI].idx++
	}
	return out
}

// RemoveAll evicts every tx whose hash is in hashes (spec §4.I
// "On BlockConnected: remove all txs in block.txs...").
func (p *Pool) RemoveAll(hashes []types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		p.removeLocked(h)
	}
}

// EvictStaleNonces drops every pooled tx from sender whose nonce is no
// longer the next expected value given committedNonce (spec §4.I "...plus
// txs whose nonce is now stale").
func (p *Pool) EvictStaleNonces(sender types.Address, committedNonce int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := append([]types.Hash(nil), p.bySender[sender]...)
	expected := committedNonce + 1
	for _, h := range list {
		tx := p.entries[h].Tx
		if tx.Nonce != expected {
			p.removeLocked(h)
			continue
		}
		expected++
	}
}

// Snapshot returns every pooled tx, unordered (spec §4.I, mirrors the
// teacher's TxPool.Snapshot copy-under-read-lock shape).
func (p *Pool) Snapshot() []*types.Tx {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.Tx, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Tx)
	}
	return out
}

func feePerByteOf(tx *types.Tx) float64 {
	size := tx.Size()
	if size == 0 {
		return 0
	}
	feeBig := types.WeiToBigInt(tx.Fee)
	feeF := new(big.Float).SetInt(feeBig)
	feeF.Quo(feeF, big.NewFloat(float64(size)))
	f, _ := feeF.Float64()
	return f
}
