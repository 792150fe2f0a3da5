// Package identity is the node's signing key: the local coinbase/miner
// identity used to sign mined block headers (spec §6 "Interfaces consumed
// from excluded collaborators: IdentityService.{node_identity_address,
// private_key.sign(hash)}"). Grounded on the teacher's crypto.Sign /
// crypto.PubkeyToAddress usage in core/transactions.go.
package identity

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veylan-chain/veylan/internal/types"
)

// Identity wraps an ECDSA private key as a signer of block headers.
type Identity struct {
	priv    *ecdsa.PrivateKey
	address types.Address
}

// New wraps an existing private key.
func New(priv *ecdsa.PrivateKey) *Identity {
	return &Identity{priv: priv, address: types.BytesToAddress(crypto.PubkeyToAddress(priv.PublicKey).Bytes())}
}

// Generate creates a fresh identity, for local/dev nodes without a
// pre-provisioned key.
func Generate() (*Identity, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return New(priv), nil
}

// FromHex loads a private key from its hex-encoded bytes (configuration
// file or environment variable).
func FromHex(hexKey string) (*Identity, error) {
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("identity: parse key: %w", err)
	}
	return New(priv), nil
}

func (id *Identity) Address() types.Address { return id.address }

// Sign produces a recoverable signature over hash, satisfying the
// mining.Signer / txhandlers consumed-collaborator contract.
func (id *Identity) Sign(hash types.Hash) (types.Signature, error) {
	sig, err := crypto.Sign(hash[:], id.priv)
	if err != nil {
		return types.Signature{}, fmt.Errorf("identity: sign: %w", err)
	}
	var out types.Signature
	copy(out[:], sig)
	return out, nil
}
