// Package state implements the world state (spec §4.B): one Merkle-Patricia
// sub-trie per entity kind, wrapped in a dirty overlay and (in mining mode) a
// rollback journal, rooted together under a single root trie.
package state

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/veylan-chain/veylan/internal/types"
)

// Every codec leads with a version scalar so new fields can be added to a
// value without breaking historic stateRootHash values (spec §4.A).
const currentCodecVersion = 1

func weiBytes(w *types.Wei) []byte {
	if w == nil {
		return nil
	}
	b := w.Bytes32()
	return b[:]
}

func weiFromBytes(b []byte) *types.Wei {
	if len(b) == 0 {
		return nil
	}
	return new(uint256.Int).SetBytes(b)
}

type rlpBalance struct {
	Version uint32
	Meta    types.Meta
	Balance []byte
}

func encodeBalance(v types.Balance) []byte {
	enc, err := rlp.EncodeToBytes(rlpBalance{currentCodecVersion, v.Meta, weiBytes(v.Balance)})
	if err != nil {
		panic("state: encode balance: " + err.Error())
	}
	return enc
}

func decodeBalance(b []byte) (types.Balance, error) {
	var w rlpBalance
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return types.Balance{}, err
	}
	return types.Balance{Meta: w.Meta, Balance: weiFromBytes(w.Balance)}, nil
}

type rlpNonce struct {
	Version uint32
	Meta    types.Meta
	Nonce   int64
}

func encodeNonce(v types.Nonce) []byte {
	enc, err := rlp.EncodeToBytes(rlpNonce{currentCodecVersion, v.Meta, v.Nonce})
	if err != nil {
		panic("state: encode nonce: " + err.Error())
	}
	return enc
}

func decodeNonce(b []byte) (types.Nonce, error) {
	var w rlpNonce
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return types.Nonce{}, err
	}
	return types.Nonce{Meta: w.Meta, Nonce: w.Nonce}, nil
}

type rlpAuthority struct {
	Version         uint32
	Meta            types.Meta
	OriginTxHash    types.Hash
	CreatedAtHeight uint64
}

func encodeAuthority(v types.Authority) []byte {
	enc, err := rlp.EncodeToBytes(rlpAuthority{currentCodecVersion, v.Meta, v.OriginTxHash, v.CreatedAtHeight})
	if err != nil {
		panic("state: encode authority: " + err.Error())
	}
	return enc
}

func decodeAuthority(b []byte) (types.Authority, error) {
	var w rlpAuthority
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return types.Authority{}, err
	}
	return types.Authority{Meta: w.Meta, OriginTxHash: w.OriginTxHash, CreatedAtHeight: w.CreatedAtHeight}, nil
}

type rlpAddressAlias struct {
	Version      uint32
	Meta         types.Meta
	Address      types.Address
	OriginTxHash types.Hash
	CreatedAt    int64
}

func encodeAddressAlias(v types.AddressAlias) []byte {
	enc, err := rlp.EncodeToBytes(rlpAddressAlias{currentCodecVersion, v.Meta, v.Address, v.OriginTxHash, v.CreatedAt})
	if err != nil {
		panic("state: encode address alias: " + err.Error())
	}
	return enc
}

func decodeAddressAlias(b []byte) (types.AddressAlias, error) {
	var w rlpAddressAlias
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return types.AddressAlias{}, err
	}
	return types.AddressAlias{Meta: w.Meta, Address: w.Address, OriginTxHash: w.OriginTxHash, CreatedAt: w.CreatedAt}, nil
}

// rlpToken flattens Token's optional fields into presence-flag + value pairs,
// RLP having no native concept of "absent".
type rlpToken struct {
	Version         uint32
	Meta            types.Meta
	Name            string
	Ticker          string
	Decimals        uint8
	HasWebsiteURL   bool
	WebsiteURL      string
	HasLogoURL      bool
	LogoURL         string
	HasMaxSupply    bool
	MaxSupply       []byte
	TotalSupply     []byte
	UserBurnable    bool
	OriginTxHash    types.Hash
}

func encodeToken(v types.Token) []byte {
	w := rlpToken{
		Version:      currentCodecVersion,
		Meta:         v.Meta,
		Name:         v.Name,
		Ticker:       v.Ticker,
		Decimals:     v.Decimals,
		TotalSupply:  weiBytes(v.TotalSupply),
		UserBurnable: v.UserBurnable,
		OriginTxHash: v.OriginTxHash,
	}
	if v.WebsiteURL != nil {
		w.HasWebsiteURL, w.WebsiteURL = true, *v.WebsiteURL
	}
	if v.LogoURL != nil {
		w.HasLogoURL, w.LogoURL = true, *v.LogoURL
	}
	if v.MaxSupply != nil {
		w.HasMaxSupply, w.MaxSupply = true, weiBytes(v.MaxSupply)
	}
	enc, err := rlp.EncodeToBytes(w)
	if err != nil {
		panic("state: encode token: " + err.Error())
	}
	return enc
}

func decodeToken(b []byte) (types.Token, error) {
	var w rlpToken
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return types.Token{}, err
	}
	t := types.Token{
		Meta:         w.Meta,
		Name:         w.Name,
		Ticker:       w.Ticker,
		Decimals:     w.Decimals,
		TotalSupply:  weiFromBytes(w.TotalSupply),
		UserBurnable: w.UserBurnable,
		OriginTxHash: w.OriginTxHash,
	}
	if w.HasWebsiteURL {
		t.WebsiteURL = &w.WebsiteURL
	}
	if w.HasLogoURL {
		t.LogoURL = &w.LogoURL
	}
	if w.HasMaxSupply {
		t.MaxSupply = weiFromBytes(w.MaxSupply)
	}
	return t, nil
}

type rlpVoteEntry struct {
	Voter types.Address
	TxHash types.Hash
}

type rlpBip struct {
	Version             uint32
	Meta                types.Meta
	Status              uint8
	Type                uint8
	ActionExecuted      bool
	RequiredVotes       uint32
	Approvers           []rlpVoteEntry
	Disapprovers        []rlpVoteEntry
	ExpirationTs        int64
	MetaTxVersion       uint32
	MetaTxPayload       []byte
	HasDerivedToken     bool
	DerivedTokenAddress types.Address
	HasExecutedAt       bool
	ExecutedAt          int64
}

func voteMapToSlice(m map[types.Address]types.Hash) []rlpVoteEntry {
	out := make([]rlpVoteEntry, 0, len(m))
	for addr, h := range m {
		out = append(out, rlpVoteEntry{Voter: addr, TxHash: h})
	}
	return out
}

func voteSliceToMap(s []rlpVoteEntry) map[types.Address]types.Hash {
	m := make(map[types.Address]types.Hash, len(s))
	for _, e := range s {
		m[e.Voter] = e.TxHash
	}
	return m
}

func encodeBip(v types.Bip) []byte {
	w := rlpBip{
		Version:        currentCodecVersion,
		Meta:           v.Meta,
		Status:         uint8(v.Status),
		Type:           uint8(v.Type),
		ActionExecuted: v.ActionExecuted,
		RequiredVotes:  v.RequiredVotes,
		Approvers:      voteMapToSlice(v.Approvers),
		Disapprovers:   voteMapToSlice(v.Disapprovers),
		ExpirationTs:   v.ExpirationTs,
		MetaTxVersion:  v.Metadata.TxVersion,
		MetaTxPayload:  v.Metadata.TxPayload,
	}
	if v.Metadata.DerivedTokenAddress != nil {
		w.HasDerivedToken, w.DerivedTokenAddress = true, *v.Metadata.DerivedTokenAddress
	}
	if v.ExecutedAt != nil {
		w.HasExecutedAt, w.ExecutedAt = true, *v.ExecutedAt
	}
	enc, err := rlp.EncodeToBytes(w)
	if err != nil {
		panic("state: encode bip: " + err.Error())
	}
	return enc
}

func decodeBip(b []byte) (types.Bip, error) {
	var w rlpBip
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return types.Bip{}, err
	}
	bip := types.Bip{
		Meta:           w.Meta,
		Status:         types.BipStatus(w.Status),
		Type:           types.BipPayloadKind(w.Type),
		ActionExecuted: w.ActionExecuted,
		RequiredVotes:  w.RequiredVotes,
		Approvers:      voteSliceToMap(w.Approvers),
		Disapprovers:   voteSliceToMap(w.Disapprovers),
		ExpirationTs:   w.ExpirationTs,
		Metadata: types.BipMetadata{
			TxVersion: w.MetaTxVersion,
			TxPayload: w.MetaTxPayload,
		},
	}
	if w.HasDerivedToken {
		bip.Metadata.DerivedTokenAddress = &w.DerivedTokenAddress
	}
	if w.HasExecutedAt {
		bip.ExecutedAt = &w.ExecutedAt
	}
	return bip, nil
}

type rlpNetworkParams struct {
	Version                uint32
	Meta                   types.Meta
	BlockReward            []byte
	BlockRewardPoolAddress types.Address
	TargetMiningTimeMs     int64
	AsertHalfLifeBlocks    uint64
	AsertAnchorHeight      uint64
	MinDifficulty          []byte
	MinTxBaseFee           []byte
	MinTxByteFee           []byte
	CurrentAuthorityCount  uint32
}

func encodeNetworkParams(v types.NetworkParams) []byte {
	enc, err := rlp.EncodeToBytes(rlpNetworkParams{
		Version:                currentCodecVersion,
		Meta:                   v.Meta,
		BlockReward:            weiBytes(v.BlockReward),
		BlockRewardPoolAddress: v.BlockRewardPoolAddress,
		TargetMiningTimeMs:     v.TargetMiningTimeMs,
		AsertHalfLifeBlocks:    v.AsertHalfLifeBlocks,
		AsertAnchorHeight:      v.AsertAnchorHeight,
		MinDifficulty:          weiBytes(v.MinDifficulty),
		MinTxBaseFee:           weiBytes(v.MinTxBaseFee),
		MinTxByteFee:           weiBytes(v.MinTxByteFee),
		CurrentAuthorityCount:  v.CurrentAuthorityCount,
	})
	if err != nil {
		panic("state: encode network params: " + err.Error())
	}
	return enc
}

func decodeNetworkParams(b []byte) (types.NetworkParams, error) {
	var w rlpNetworkParams
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return types.NetworkParams{}, err
	}
	return types.NetworkParams{
		Meta:                   w.Meta,
		BlockReward:            weiFromBytes(w.BlockReward),
		BlockRewardPoolAddress: w.BlockRewardPoolAddress,
		TargetMiningTimeMs:     w.TargetMiningTimeMs,
		AsertHalfLifeBlocks:    w.AsertHalfLifeBlocks,
		AsertAnchorHeight:      w.AsertAnchorHeight,
		MinDifficulty:          weiFromBytes(w.MinDifficulty),
		MinTxBaseFee:           weiFromBytes(w.MinTxBaseFee),
		MinTxByteFee:           weiFromBytes(w.MinTxByteFee),
		CurrentAuthorityCount:  w.CurrentAuthorityCount,
	}, nil
}
