package p2p

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veylan-chain/veylan/internal/chain"
	"github.com/veylan-chain/veylan/internal/mempool"
	"github.com/veylan-chain/veylan/internal/types"
)

type fakeChainReader struct {
	latest *types.StoredBlock
	err    error
}

func (f *fakeChainReader) GetLatestBlock() (*types.StoredBlock, error) { return f.latest, f.err }
func (f *fakeChainReader) GetCanonicalHash(height uint64) (types.Hash, error) {
	return types.Hash{}, errors.New("not implemented")
}
func (f *fakeChainReader) GetCanonicalBlock(height uint64) (*types.StoredBlock, error) {
	return nil, errors.New("not implemented")
}

type fakeBlockStore struct {
	byHash   map[types.Hash]*types.StoredBlock
	byHeight map[uint64]*types.StoredBlock
}

func (f *fakeBlockStore) GetBlock(hash types.Hash) (*types.StoredBlock, error) {
	sb, ok := f.byHash[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return sb, nil
}
func (f *fakeBlockStore) GetCanonicalHash(height uint64) (types.Hash, error) {
	sb, ok := f.byHeight[height]
	if !ok {
		return types.Hash{}, errors.New("not found")
	}
	return sb.Hash(), nil
}
func (f *fakeBlockStore) GetCanonicalBlock(height uint64) (*types.StoredBlock, error) {
	sb, ok := f.byHeight[height]
	if !ok {
		return nil, errors.New("not found")
	}
	return sb, nil
}

type fakeIngester struct {
	status   chain.IngestStatus
	err      error
	ingested *types.Block
}

func (f *fakeIngester) IngestWithStatus(block *types.Block, source types.ConnectedSource, receivedFrom string, receivedAtMs int64) (chain.IngestStatus, error) {
	f.ingested = block
	return f.status, f.err
}

func testStoredBlockWithTime(height uint64) *types.StoredBlock {
	h := testHeader(height)
	return types.NewStoredBlock(&types.Block{Header: h}, types.NewWei(height+1), 100, types.SourceMined, "", time.Unix(0, 0), nil)
}

func testSignerKey() []byte {
	priv, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return crypto.FromECDSA(priv)
}

func TestServiceHandleStatusRespondsWithLocalHead(t *testing.T) {
	head := testStoredBlockWithTime(3)
	s := NewService(&fakeChainReader{latest: head}, &fakeBlockStore{byHash: map[types.Hash]*types.StoredBlock{}, byHeight: map[uint64]*types.StoredBlock{}}, &fakeIngester{}, mempool.New(mempool.Config{MaxGlobal: 10, MaxPerSender: 10, MinFeeFloor: types.NewWei(0)}), nil, 7, types.Keccak256([]byte("genesis")))

	reqPayload, err := EncodeStatus(StatusPayload{Version: 1, NetworkID: 7})
	if err != nil {
		t.Fatalf("encode status: %v", err)
	}
	resp, ok := s.Handle(&Peer{Identity: "remote"}, Frame{Code: CodeStatus, Payload: reqPayload})
	if !ok || resp.Code != CodeStatus {
		t.Fatalf("expected a status response, got %+v, %v", resp, ok)
	}
	got, err := DecodeStatus(resp.Payload)
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.HeadHeight != 3 {
		t.Fatalf("head height = %d, want 3", got.HeadHeight)
	}
}

func TestServiceHandlePingRespondsPong(t *testing.T) {
	s := NewService(&fakeChainReader{}, &fakeBlockStore{}, &fakeIngester{}, mempool.New(mempool.Config{MaxGlobal: 10, MaxPerSender: 10, MinFeeFloor: types.NewWei(0)}), nil, 1, types.Hash{})
	resp, ok := s.Handle(&Peer{}, Frame{Code: CodePing})
	if !ok || resp.Code != CodePong {
		t.Fatalf("expected pong, got %+v, %v", resp, ok)
	}
}

func TestServiceHandleNewBlockIngestsBlock(t *testing.T) {
	ing := &fakeIngester{status: chain.Success}
	s := NewService(&fakeChainReader{}, &fakeBlockStore{}, ing, mempool.New(mempool.Config{MaxGlobal: 10, MaxPerSender: 10, MinFeeFloor: types.NewWei(0)}), nil, 1, types.Hash{})

	block := &types.Block{Header: testHeader(9)}
	payload, err := EncodeNewBlock(block)
	if err != nil {
		t.Fatalf("encode block: %v", err)
	}
	_, ok := s.Handle(&Peer{Identity: "peer-x"}, Frame{Code: CodeNewBlock, Payload: payload})
	if ok {
		t.Fatal("new block handling should not produce a response frame")
	}
	if ing.ingested == nil || ing.ingested.Header.Height != 9 {
		t.Fatalf("expected block to reach the ingester, got %+v", ing.ingested)
	}
}

func TestServiceHandleGetBlockHeadersReturnsFollowingChain(t *testing.T) {
	start := testStoredBlockWithTime(5)
	next := testStoredBlockWithTime(6)
	store := &fakeBlockStore{
		byHash:   map[types.Hash]*types.StoredBlock{start.Hash(): start},
		byHeight: map[uint64]*types.StoredBlock{6: next},
	}
	s := NewService(&fakeChainReader{}, store, &fakeIngester{}, mempool.New(mempool.Config{MaxGlobal: 10, MaxPerSender: 10, MinFeeFloor: types.NewWei(0)}), nil, 1, types.Hash{})

	payload, err := EncodeGetBlockHeaders(GetBlockHeadersPayload{Locator: []types.Hash{start.Hash()}, MaxCount: 5})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	resp, ok := s.Handle(&Peer{}, Frame{Code: CodeGetBlockHeaders, Payload: payload})
	if !ok || resp.Code != CodeBlockHeaders {
		t.Fatalf("expected block headers response, got %+v, %v", resp, ok)
	}
	headers, err := DecodeBlockHeaders(resp.Payload)
	if err != nil {
		t.Fatalf("decode headers: %v", err)
	}
	if len(headers) != 1 || headers[0].Height != 6 {
		t.Fatalf("unexpected headers: %+v", headers)
	}
}

func TestServiceHandleGetBlockBodiesReturnsMatchingBlocks(t *testing.T) {
	sb := testStoredBlockWithTime(2)
	store := &fakeBlockStore{byHash: map[types.Hash]*types.StoredBlock{sb.Hash(): sb}}
	s := NewService(&fakeChainReader{}, store, &fakeIngester{}, mempool.New(mempool.Config{MaxGlobal: 10, MaxPerSender: 10, MinFeeFloor: types.NewWei(0)}), nil, 1, types.Hash{})

	payload, err := EncodeGetBlockBodies([]types.Hash{sb.Hash()})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	resp, ok := s.Handle(&Peer{}, Frame{Code: CodeGetBlockBodies, Payload: payload})
	if !ok || resp.Code != CodeBlockBodies {
		t.Fatalf("expected block bodies response, got %+v, %v", resp, ok)
	}
	blocks, err := DecodeBlocks(resp.Payload)
	if err != nil {
		t.Fatalf("decode blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Header.Height != 2 {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}

type zeroNonces struct{}

func (zeroNonces) GetNonce(addr types.Address) (int64, error) { return -1, nil }

func TestServiceHandleNewMempoolTxAdmitsToPool(t *testing.T) {
	pool := mempool.New(mempool.Config{MaxGlobal: 10, MaxPerSender: 10, MinFeeFloor: types.NewWei(0)})
	s := NewService(&fakeChainReader{}, &fakeBlockStore{}, &fakeIngester{}, pool, zeroNonces{}, 1, types.Hash{})

	tx := testTx(0)
	if err := tx.Sign(testSignerKey()); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	payload, err := EncodeMempoolTxs([]*types.Tx{tx})
	if err != nil {
		t.Fatalf("encode txs: %v", err)
	}
	_, ok := s.Handle(&Peer{}, Frame{Code: CodeNewMempoolTx, Payload: payload})
	if ok {
		t.Fatal("new mempool tx handling should not produce a response frame")
	}
	if len(pool.Snapshot()) != 1 {
		t.Fatalf("expected tx admitted to pool, snapshot size = %d", len(pool.Snapshot()))
	}
}

func TestServiceHandleGetMempoolHashesReturnsPooledHashes(t *testing.T) {
	pool := mempool.New(mempool.Config{MaxGlobal: 10, MaxPerSender: 10, MinFeeFloor: types.NewWei(0)})
	tx := testTx(0)
	if err := tx.Sign(testSignerKey()); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	if err := pool.Add(tx, zeroNonces{}, 0); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	s := NewService(&fakeChainReader{}, &fakeBlockStore{}, &fakeIngester{}, pool, zeroNonces{}, 1, types.Hash{})

	resp, ok := s.Handle(&Peer{}, Frame{Code: CodeGetMempoolHashes})
	if !ok || resp.Code != CodeMempoolHashes {
		t.Fatalf("expected mempool hashes response, got %+v, %v", resp, ok)
	}
	hashes, err := DecodeMempoolHashes(resp.Payload)
	if err != nil {
		t.Fatalf("decode hashes: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != tx.Hash() {
		t.Fatalf("unexpected hashes: %v", hashes)
	}
}

func TestServiceHandleGetMempoolTransactionsReturnsRequestedTxs(t *testing.T) {
	pool := mempool.New(mempool.Config{MaxGlobal: 10, MaxPerSender: 10, MinFeeFloor: types.NewWei(0)})
	tx := testTx(0)
	if err := tx.Sign(testSignerKey()); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	if err := pool.Add(tx, zeroNonces{}, 0); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	s := NewService(&fakeChainReader{}, &fakeBlockStore{}, &fakeIngester{}, pool, zeroNonces{}, 1, types.Hash{})

	reqPayload, err := EncodeMempoolHashes([]types.Hash{tx.Hash()})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	resp, ok := s.Handle(&Peer{}, Frame{Code: CodeGetMempoolTransactions, Payload: reqPayload})
	if !ok || resp.Code != CodeMempoolTransactions {
		t.Fatalf("expected mempool transactions response, got %+v, %v", resp, ok)
	}
	txs, err := DecodeMempoolTxs(resp.Payload)
	if err != nil {
		t.Fatalf("decode txs: %v", err)
	}
	if len(txs) != 1 || txs[0].Hash() != tx.Hash() {
		t.Fatalf("unexpected txs: %v", txs)
	}
}
