package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestAddressRoundTrip(t *testing.T) {
	a := BytesToAddress([]byte{0x01, 0x02, 0x03})
	s := a.String()
	got, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	if got != a {
		t.Fatalf("address round trip mismatch: got %s want %s", got, a)
	}
}

func TestWeiConversionClampsOnOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	w := BigIntToWei(huge)
	back := WeiToBigInt(w)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if back.Cmp(max) != 0 {
		t.Fatalf("expected clamp to max uint256, got %s", back)
	}
}

func TestWeiToBigIntNil(t *testing.T) {
	if WeiToBigInt(nil).Sign() != 0 {
		t.Fatal("expected zero for nil Wei")
	}
}

func newSignedTx(t *testing.T, priv []byte) *Tx {
	t.Helper()
	tx := &Tx{
		Version:   1,
		Type:      TxTransfer,
		Network:   7,
		Timestamp: 1000,
		Nonce:     0,
		Recipient: BytesToAddress([]byte{0xAA}),
		Amount:    NewWei(500),
		Fee:       NewWei(10),
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}

func TestTxSignVerifyAndHash(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	priv := crypto.FromECDSA(key)
	tx := newSignedTx(t, priv)

	if tx.Sender.IsZero() {
		t.Fatal("expected sender to be recovered")
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	h1 := tx.Hash()
	h2 := tx.Hash()
	if h1 != h2 {
		t.Fatal("hash must be stable across calls")
	}

	tx.Sender = BytesToAddress([]byte{0xFF})
	if err := tx.Verify(); err == nil {
		t.Fatal("expected sender mismatch error")
	}
}

func TestTxMarshalRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	priv := crypto.FromECDSA(key)
	tx := newSignedTx(t, priv)
	wantHash := tx.Hash()

	enc, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalTx(enc)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Hash() != wantHash {
		t.Fatalf("hash mismatch after round trip: got %s want %s", got.Hash(), wantHash)
	}
	if got.Sender != tx.Sender || got.Amount.Cmp(tx.Amount) != 0 {
		t.Fatal("decoded tx fields mismatch")
	}
}

func TestHeaderSignVerifyAndMarshal(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	priv := crypto.FromECDSA(key)
	coinbase := BytesToAddress(crypto.PubkeyToAddress(key.PublicKey).Bytes())

	h := &BlockHeader{
		Version:    1,
		Height:     1,
		Timestamp:  2000,
		Difficulty: big.NewInt(100),
		Coinbase:   coinbase,
		Nonce:      42,
	}
	if err := h.SignHeader(priv); err != nil {
		t.Fatalf("sign header: %v", err)
	}
	if err := h.VerifyCoinbaseSignature(); err != nil {
		t.Fatalf("verify coinbase: %v", err)
	}

	enc, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	got, err := UnmarshalHeader(enc)
	if err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if got.Hash() != h.Hash() {
		t.Fatal("header hash mismatch after round trip")
	}
	if got.Difficulty.Cmp(h.Difficulty) != 0 {
		t.Fatal("difficulty mismatch after round trip")
	}
}

func TestBlockMarshalRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	priv := crypto.FromECDSA(key)
	tx := newSignedTx(t, priv)
	block := &Block{
		Header: &BlockHeader{Version: 1, Height: 1, TxRootHash: TxRoot([]*Tx{tx})},
		Txs:    []*Tx{tx},
	}

	enc, err := block.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal block: %v", err)
	}
	got, err := UnmarshalBlock(enc)
	if err != nil {
		t.Fatalf("unmarshal block: %v", err)
	}
	if len(got.Txs) != 1 || got.Txs[0].Hash() != tx.Hash() {
		t.Fatal("decoded block tx mismatch")
	}
	if got.Header.TxRootHash != block.Header.TxRootHash {
		t.Fatal("decoded block tx root mismatch")
	}
}

func TestTxRootEmptyIsZeroHash(t *testing.T) {
	if TxRoot(nil) != (Hash{}) {
		t.Fatal("expected zero hash for empty tx list")
	}
}

func TestTxRootOrderSensitive(t *testing.T) {
	key, _ := crypto.GenerateKey()
	priv := crypto.FromECDSA(key)
	tx1 := newSignedTx(t, priv)
	tx2 := &Tx{Version: 1, Type: TxTransfer, Network: 7, Timestamp: 1001, Nonce: 1, Recipient: BytesToAddress([]byte{0xBB}), Amount: NewWei(1), Fee: NewWei(1)}
	if err := tx2.Sign(priv); err != nil {
		t.Fatalf("sign tx2: %v", err)
	}

	rootA := TxRoot([]*Tx{tx1, tx2})
	rootB := TxRoot([]*Tx{tx2, tx1})
	if rootA == rootB {
		t.Fatal("expected different roots for different tx order")
	}
}
