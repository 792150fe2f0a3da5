package p2p

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veylan-chain/veylan/internal/chain"
	"github.com/veylan-chain/veylan/internal/types"
)

// ChainReader is the local chain surface the sync driver consults to find
// a common ancestor and to know when it no longer needs to keep pulling.
type ChainReader interface {
	GetLatestBlock() (*types.StoredBlock, error)
	GetCanonicalHash(height uint64) (types.Hash, error)
	GetCanonicalBlock(height uint64) (*types.StoredBlock, error)
}

// ChainIngester is how downloaded blocks re-enter the local chain, tagged
// as sync-sourced (spec §4.H "ingest with source=SYNC").
type ChainIngester interface {
	IngestWithStatus(block *types.Block, source types.ConnectedSource, receivedFrom string, receivedAtMs int64) (chain.IngestStatus, error)
}

// RequestFunc sends req to peer and blocks for the matching response frame
// or timeout. The concrete implementation lives in host.go, wrapping a
// libp2p stream; kept as a function value here so the sync algorithm is
// testable without a live network.
type RequestFunc func(peer *Peer, req Frame, timeout time.Duration) (Frame, error)

const (
	requestTimeout  = 10 * time.Second
	headersPerBatch = 256
	bodiesPerBatch  = 64
)

// Driver runs the header-sync algorithm against whichever peer currently
// looks furthest ahead (spec §4.H "sync driver: pick candidate -> GET_BLOCK_HEADERS
// -> common ancestor -> pipelined body fetch -> ingest with source=SYNC ->
// reputation penalty on violation/timeout").
type Driver struct {
	registry *Registry
	chainR   ChainReader
	ingester ChainIngester
	request  RequestFunc
	log      *logrus.Logger
}

func NewDriver(registry *Registry, chainR ChainReader, ingester ChainIngester, request RequestFunc) *Driver {
	return &Driver{registry: registry, chainR: chainR, ingester: ingester, request: request, log: logrus.New()}
}

// RunOnce picks a sync candidate and, if one exists ahead of the local
// chain, pulls and ingests its missing blocks. No-op if no peer is ahead.
func (d *Driver) RunOnce() error {
	head, err := d.chainR.GetLatestBlock()
	if err != nil {
		return fmt.Errorf("p2p: sync: read local head: %w", err)
	}

	candidate := d.registry.SyncCandidate(head.CumulativeDifficulty)
	if candidate == nil {
		return nil
	}

	ancestorHeight, err := d.findCommonAncestor(candidate, head.Height())
	if err != nil {
		d.registry.Penalize(candidate.Identity, ReputationPenaltyTimeout)
		return fmt.Errorf("p2p: sync: find common ancestor with %s: %w", candidate.Identity, err)
	}

	return d.pullFrom(candidate, ancestorHeight+1)
}

// findCommonAncestor requests headers via a locator and returns the
// highest height both sides agree on.
func (d *Driver) findCommonAncestor(peer *Peer, localHeight uint64) (uint64, error) {
	locator := BuildLocator(localHeight)
	locatorHashes := make([]types.Hash, 0, len(locator))
	for _, h := range locator {
		hash, err := d.chainR.GetCanonicalHash(h)
		if err != nil {
			continue
		}
		locatorHashes = append(locatorHashes, hash)
	}

	payload, err := EncodeGetBlockHeaders(GetBlockHeadersPayload{Locator: locatorHashes, MaxCount: 1})
	if err != nil {
		return 0, err
	}
	resp, err := d.request(peer, Frame{Code: CodeGetBlockHeaders, Payload: payload}, requestTimeout)
	if err != nil {
		return 0, err
	}
	headers, err := DecodeBlockHeaders(resp.Payload)
	if err != nil || len(headers) == 0 {
		return 0, fmt.Errorf("p2p: sync: no common ancestor header returned")
	}
	return headers[0].Height, nil
}

// pullFrom downloads and ingests every block from fromHeight up to the
// peer's advertised head, in fixed-size batches (spec §4.H "pipelined body
// fetch").
func (d *Driver) pullFrom(peer *Peer, fromHeight uint64) error {
	height := fromHeight
	for height <= peer.HeadHeight {
		batchEnd := height + headersPerBatch
		if batchEnd > peer.HeadHeight+1 {
			batchEnd = peer.HeadHeight + 1
		}

		headers, err := d.fetchHeaders(peer, height, int(batchEnd-height))
		if err != nil {
			d.registry.Penalize(peer.Identity, ReputationPenaltyTimeout)
			return err
		}
		if len(headers) == 0 {
			break
		}

		for start := 0; start < len(headers); start += bodiesPerBatch {
			end := start + bodiesPerBatch
			if end > len(headers) {
				end = len(headers)
			}
			hashes := make([]types.Hash, end-start)
			for i, h := range headers[start:end] {
				hashes[i] = h.Hash()
			}
			blocks, err := d.fetchBodies(peer, hashes)
			if err != nil {
				d.registry.Penalize(peer.Identity, ReputationPenaltyTimeout)
				return err
			}
			for _, blk := range blocks {
				status, err := d.ingester.IngestWithStatus(blk, types.SourceSync, peer.Identity, time.Now().UnixMilli())
				if err != nil || status == chain.Failed {
					d.registry.Penalize(peer.Identity, ReputationPenaltyViolation)
					return fmt.Errorf("p2p: sync: ingest block from %s: %w", peer.Identity, err)
				}
			}
		}

		height = headers[len(headers)-1].Height + 1
		d.registry.Reward(peer.Identity, ReputationRewardUsefulData)
	}
	return nil
}

func (d *Driver) fetchHeaders(peer *Peer, fromHeight uint64, count int) ([]*types.BlockHeader, error) {
	startHash, err := d.chainR.GetCanonicalHash(fromHeight - 1)
	if err != nil {
		return nil, err
	}
	payload, err := EncodeGetBlockHeaders(GetBlockHeadersPayload{Locator: []types.Hash{startHash}, MaxCount: uint32(count)})
	if err != nil {
		return nil, err
	}
	resp, err := d.request(peer, Frame{Code: CodeGetBlockHeaders, Payload: payload}, requestTimeout)
	if err != nil {
		return nil, err
	}
	return DecodeBlockHeaders(resp.Payload)
}

func (d *Driver) fetchBodies(peer *Peer, hashes []types.Hash) ([]*types.Block, error) {
	payload, err := EncodeGetBlockBodies(hashes)
	if err != nil {
		return nil, err
	}
	resp, err := d.request(peer, Frame{Code: CodeGetBlockBodies, Payload: payload}, requestTimeout)
	if err != nil {
		return nil, err
	}
	return DecodeBlocks(resp.Payload)
}
