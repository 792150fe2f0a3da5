package p2p

import (
	"sort"
	"sync"
	"time"

	"github.com/veylan-chain/veylan/internal/types"
)

// Peer tracks one connected peer's identity, advertised head, and
// reputation. Channel and identity are both used as lookup keys by the
// registry, mirroring the teacher's two-map peer bookkeeping
// (core/network.go's Node.peers keyed by NodeID, core/connection_pool.go's
// ConnPool keyed by address) generalized into one struct with one owner.
type Peer struct {
	Identity     string // libp2p peer ID string
	Addr         string
	Send         chan Frame
	Reputation   int
	Banned       bool
	HeadHeight   uint64
	HeadHash     types.Hash
	CumulativeDifficulty *types.Wei
	ConnectedAt  time.Time
	LastSeen     time.Time
}

// Reputation deltas (spec §4.H "reputation penalty on violation/timeout").
const (
	ReputationPenaltyTimeout   = -10
	ReputationPenaltyViolation = -25
	ReputationRewardUsefulData = 1
	banThreshold               = -100
)

// Registry is the peer table: a channel-per-peer map for outbound frames
// plus an identity-keyed map for reputation/selection lookups.
type Registry struct {
	mu          sync.RWMutex
	byChannel   map[chan Frame]*Peer
	byIdentity  map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{
		byChannel:  make(map[chan Frame]*Peer),
		byIdentity: make(map[string]*Peer),
	}
}

// Add registers a newly connected peer.
func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byChannel[p.Send] = p
	r.byIdentity[p.Identity] = p
}

// Remove drops a peer, e.g. on disconnect.
func (r *Registry) Remove(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byChannel, p.Send)
	delete(r.byIdentity, p.Identity)
}

func (r *Registry) Get(identity string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byIdentity[identity]
	return p, ok
}

// All returns every registered peer, banned or not.
func (r *Registry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.byIdentity))
	for _, p := range r.byIdentity {
		out = append(out, p)
	}
	return out
}

// Penalize lowers a peer's reputation and bans it once it crosses
// banThreshold (spec §4.H "reputation+ban").
func (r *Registry) Penalize(identity string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byIdentity[identity]
	if !ok {
		return
	}
	p.Reputation += delta
	if p.Reputation <= banThreshold {
		p.Banned = true
	}
}

func (r *Registry) Reward(identity string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byIdentity[identity]; ok {
		p.Reputation += delta
	}
}

func (r *Registry) UpdateHead(identity string, height uint64, hash types.Hash, cumulative *types.Wei) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byIdentity[identity]; ok {
		p.HeadHeight = height
		p.HeadHash = hash
		p.CumulativeDifficulty = cumulative
		p.LastSeen = time.Now()
	}
}

// bestPeers returns the n non-banned peers with the highest reputation,
// highest-first (spec §4.H "best_peers").
func (r *Registry) bestPeers(n int) []*Peer {
	r.mu.RLock()
	candidates := make([]*Peer, 0, len(r.byIdentity))
	for _, p := range r.byIdentity {
		if !p.Banned {
			candidates = append(candidates, p)
		}
	}
	r.mu.RUnlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Reputation > candidates[j].Reputation })
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// BestPeers is the exported form of bestPeers for other packages wiring a
// propagation broadcast (spec §4.H "best_peers").
func (r *Registry) BestPeers(n int) []*Peer { return r.bestPeers(n) }

// SyncCandidate returns the non-banned peer with the greatest
// CumulativeDifficulty, or nil if none is known to be ahead of
// localCumulative (spec §4.H "sync_candidate").
func (r *Registry) SyncCandidate(localCumulative *types.Wei) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Peer
	for _, p := range r.byIdentity {
		if p.Banned || p.CumulativeDifficulty == nil {
			continue
		}
		if p.CumulativeDifficulty.Cmp(localCumulative) <= 0 {
			continue
		}
		if best == nil || p.CumulativeDifficulty.Cmp(best.CumulativeDifficulty) > 0 {
			best = p
		}
	}
	return best
}

// WorstPeer returns the lowest-reputation non-banned peer, a candidate for
// eviction when the peer slot table is full (spec §4.H "worst_peer").
func (r *Registry) WorstPeer() *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var worst *Peer
	for _, p := range r.byIdentity {
		if p.Banned {
			continue
		}
		if worst == nil || p.Reputation < worst.Reputation {
			worst = p
		}
	}
	return worst
}
