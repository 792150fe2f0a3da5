package identity

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veylan-chain/veylan/internal/types"
)

func TestGenerateProducesDistinctAddresses(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a.Address() == b.Address() {
		t.Fatal("expected two generated identities to have distinct addresses")
	}
}

func TestFromHexMatchesKnownKey(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := hex.EncodeToString(crypto.FromECDSA(priv))
	wantAddr := types.BytesToAddress(crypto.PubkeyToAddress(priv.PublicKey).Bytes())

	id, err := FromHex(hexKey)
	if err != nil {
		t.Fatalf("from hex: %v", err)
	}
	if id.Address() != wantAddr {
		t.Fatalf("address mismatch: got %s want %s", id.Address(), wantAddr)
	}
}

func TestFromHexRejectsGarbage(t *testing.T) {
	if _, err := FromHex("not-a-hex-key"); err == nil {
		t.Fatal("expected error for malformed hex key")
	}
}

func TestSignProducesVerifiableSignature(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	h := types.Keccak256([]byte("block header bytes"))

	sig, err := id.Sign(h)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	pub, err := crypto.SigToPub(h[:], sig[:])
	if err != nil {
		t.Fatalf("recover pubkey: %v", err)
	}
	recovered := types.BytesToAddress(crypto.PubkeyToAddress(*pub).Bytes())
	if recovered != id.Address() {
		t.Fatalf("recovered signer %s != identity address %s", recovered, id.Address())
	}
}
