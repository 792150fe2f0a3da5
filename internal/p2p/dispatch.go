package p2p

import (
	"time"

	"github.com/veylan-chain/veylan/internal/mempool"
	"github.com/veylan-chain/veylan/internal/types"
)

// Service wires the local chain and mempool into a Handler answering every
// inbound message code (spec §4.H message table).
type Service struct {
	chainR   ChainReader
	store    blockStore
	ingester ChainIngester
	pool     *mempool.Pool
	nonces   mempool.NonceSource
	networkID uint32
	genesisHash types.Hash
}

// blockStore is the narrow block-by-hash/height surface GET_BLOCK_HEADERS
// and GET_BLOCK_BODIES answer from.
type blockStore interface {
	GetBlock(hash types.Hash) (*types.StoredBlock, error)
	GetCanonicalHash(height uint64) (types.Hash, error)
	GetCanonicalBlock(height uint64) (*types.StoredBlock, error)
}

func NewService(chainR ChainReader, store blockStore, ingester ChainIngester, pool *mempool.Pool, nonces mempool.NonceSource, networkID uint32, genesisHash types.Hash) *Service {
	return &Service{chainR: chainR, store: store, ingester: ingester, pool: pool, nonces: nonces, networkID: networkID, genesisHash: genesisHash}
}

// Handle implements Handler.
func (s *Service) Handle(from *Peer, f Frame) (Frame, bool) {
	switch f.Code {
	case CodeStatus:
		return s.handleStatus(from, f)
	case CodePing:
		return Frame{Code: CodePong}, true
	case CodeNewBlock:
		s.handleNewBlock(from, f)
		return Frame{}, false
	case CodeGetBlockHeaders:
		return s.handleGetBlockHeaders(f)
	case CodeGetBlockBodies:
		return s.handleGetBlockBodies(f)
	case CodeNewMempoolTx:
		s.handleNewMempoolTx(from, f)
		return Frame{}, false
	case CodeGetMempoolHashes:
		return s.handleGetMempoolHashes()
	case CodeGetMempoolTransactions:
		return s.handleGetMempoolTransactions(f)
	default:
		return Frame{}, false
	}
}

func (s *Service) handleStatus(from *Peer, f Frame) (Frame, bool) {
	status, err := DecodeStatus(f.Payload)
	if err == nil {
		cumulative := types.NewWei(0)
		if len(status.CumulativeDifficulty) > 0 {
			cumulative = new(types.Wei).SetBytes(status.CumulativeDifficulty)
		}
		from.HeadHeight = status.HeadHeight
		from.HeadHash = status.HeadHash
		from.CumulativeDifficulty = cumulative
	}

	head, headErr := s.chainR.GetLatestBlock()
	resp := StatusPayload{Version: 1, NetworkID: s.networkID, GenesisHash: s.genesisHash}
	if headErr == nil {
		resp.HeadHeight = head.Height()
		resp.HeadHash = head.Hash()
		resp.CumulativeDifficulty = types.WeiToBigInt(head.CumulativeDifficulty).Bytes()
	}
	payload, err := EncodeStatus(resp)
	if err != nil {
		return Frame{}, false
	}
	return Frame{Code: CodeStatus, Payload: payload}, true
}

func (s *Service) handleNewBlock(from *Peer, f Frame) {
	block, err := DecodeNewBlock(f.Payload)
	if err != nil {
		return
	}
	if _, err := s.ingester.IngestWithStatus(block, types.SourcePropagated, from.Identity, time.Now().UnixMilli()); err != nil {
		return
	}
}

func (s *Service) handleGetBlockHeaders(f Frame) (Frame, bool) {
	req, err := DecodeGetBlockHeaders(f.Payload)
	if err != nil || len(req.Locator) == 0 {
		return Frame{}, false
	}
	startHash := req.Locator[0]
	sb, err := s.store.GetBlock(startHash)
	if err != nil {
		return Frame{}, false
	}

	maxCount := req.MaxCount
	if maxCount == 0 {
		maxCount = 1
	}
	headers := make([]*types.BlockHeader, 0, maxCount)
	height := sb.Height() + 1
	for uint32(len(headers)) < maxCount {
		canon, err := s.store.GetCanonicalBlock(height)
		if err != nil {
			break
		}
		headers = append(headers, canon.Block.Header)
		height++
	}
	if len(headers) == 0 {
		headers = []*types.BlockHeader{sb.Block.Header}
	}
	payload, err := EncodeBlockHeaders(headers)
	if err != nil {
		return Frame{}, false
	}
	return Frame{Code: CodeBlockHeaders, Payload: payload}, true
}

func (s *Service) handleGetBlockBodies(f Frame) (Frame, bool) {
	hashes, err := DecodeGetBlockBodies(f.Payload)
	if err != nil {
		return Frame{}, false
	}
	blocks := make([]*types.Block, 0, len(hashes))
	for _, h := range hashes {
		sb, err := s.store.GetBlock(h)
		if err != nil {
			continue
		}
		blocks = append(blocks, sb.Block)
	}
	payload, err := EncodeBlocks(blocks)
	if err != nil {
		return Frame{}, false
	}
	return Frame{Code: CodeBlockBodies, Payload: payload}, true
}

func (s *Service) handleNewMempoolTx(_ *Peer, f Frame) {
	txs, err := DecodeMempoolTxs(f.Payload)
	if err != nil {
		return
	}
	for _, tx := range txs {
		_ = s.pool.Add(tx, s.nonces, time.Now().UnixMilli())
	}
}

func (s *Service) handleGetMempoolHashes() (Frame, bool) {
	txs := s.pool.Snapshot()
	hashes := make([]types.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	payload, err := EncodeMempoolHashes(hashes)
	if err != nil {
		return Frame{}, false
	}
	return Frame{Code: CodeMempoolHashes, Payload: payload}, true
}

func (s *Service) handleGetMempoolTransactions(f Frame) (Frame, bool) {
	wanted, err := DecodeMempoolHashes(f.Payload)
	if err != nil {
		return Frame{}, false
	}
	wantSet := make(map[types.Hash]bool, len(wanted))
	for _, h := range wanted {
		wantSet[h] = true
	}
	var matched []*types.Tx
	for _, tx := range s.pool.Snapshot() {
		if wantSet[tx.Hash()] {
			matched = append(matched, tx)
		}
	}
	payload, err := EncodeMempoolTxs(matched)
	if err != nil {
		return Frame{}, false
	}
	return Frame{Code: CodeMempoolTransactions, Payload: payload}, true
}
