package types

import "github.com/ethereum/go-ethereum/rlp"

// rlpBipCreatePayload flattens BipCreatePayload's one-of parameter sets and
// every optional field into presence-flag/value pairs for RLP, which has no
// native concept of a sum type or an absent field.
type rlpBipCreatePayload struct {
	Kind uint8

	// TokenCreate
	TCName         string
	TCTicker       string
	TCDecimals     uint8
	TCHasWebsite   bool
	TCWebsiteURL   string
	TCHasLogo      bool
	TCLogoURL      string
	TCHasMaxSupply bool
	TCMaxSupply    []byte
	TCUserBurnable bool

	// TokenUpdate
	TUTokenAddress Address
	TUHasName      bool
	TUName         string
	TUHasTicker    bool
	TUTicker       string
	TUHasWebsite   bool
	TUWebsiteURL   string
	TUHasLogo      bool
	TULogoURL      string

	// TokenMint
	TMTokenAddress Address
	TMRecipient    Address
	TMAmount       []byte

	// TokenBurn
	TBTokenAddress Address
	TBOwner        Address
	TBAmount       []byte

	// AuthorityAdd / AuthorityRemove
	AuthorityAddr Address

	// NetworkParamsSet
	NPHasBlockReward            bool
	NPBlockReward               []byte
	NPHasBlockRewardPoolAddress bool
	NPBlockRewardPoolAddress    Address
	NPHasTargetMiningTimeMs     bool
	NPTargetMiningTimeMs        int64
	NPHasAsertHalfLifeBlocks    bool
	NPAsertHalfLifeBlocks       uint64
	NPHasMinDifficulty          bool
	NPMinDifficulty             []byte
	NPHasMinTxBaseFee           bool
	NPMinTxBaseFee              []byte
	NPHasMinTxByteFee           bool
	NPMinTxByteFee              []byte

	// AddressAliasAdd / AddressAliasRemove
	AliasName    string
	AliasAddress Address
}

// EncodeBipCreatePayload serializes a BipCreatePayload for carriage as a
// BIP_CREATE tx's Payload bytes.
func EncodeBipCreatePayload(p BipCreatePayload) []byte {
	w := rlpBipCreatePayload{Kind: uint8(p.Kind)}
	switch p.Kind {
	case BipTokenCreate:
		tc := p.TokenCreate
		w.TCName, w.TCTicker, w.TCDecimals, w.TCUserBurnable = tc.Name, tc.Ticker, tc.Decimals, tc.UserBurnable
		if tc.WebsiteURL != nil {
			w.TCHasWebsite, w.TCWebsiteURL = true, *tc.WebsiteURL
		}
		if tc.LogoURL != nil {
			w.TCHasLogo, w.TCLogoURL = true, *tc.LogoURL
		}
		if tc.MaxSupply != nil {
			w.TCHasMaxSupply, w.TCMaxSupply = true, weiToBytes(tc.MaxSupply)
		}
	case BipTokenUpdate:
		tu := p.TokenUpdate
		w.TUTokenAddress = tu.TokenAddress
		if tu.Name != nil {
			w.TUHasName, w.TUName = true, *tu.Name
		}
		if tu.Ticker != nil {
			w.TUHasTicker, w.TUTicker = true, *tu.Ticker
		}
		if tu.WebsiteURL != nil {
			w.TUHasWebsite, w.TUWebsiteURL = true, *tu.WebsiteURL
		}
		if tu.LogoURL != nil {
			w.TUHasLogo, w.TULogoURL = true, *tu.LogoURL
		}
	case BipTokenMint:
		tm := p.TokenMint
		w.TMTokenAddress, w.TMRecipient, w.TMAmount = tm.TokenAddress, tm.Recipient, weiToBytes(tm.Amount)
	case BipTokenBurn:
		tb := p.TokenBurn
		w.TBTokenAddress, w.TBOwner, w.TBAmount = tb.TokenAddress, tb.Owner, weiToBytes(tb.Amount)
	case BipAuthorityAdd, BipAuthorityRemove:
		w.AuthorityAddr = *p.AuthorityAddr
	case BipNetworkParamsSet:
		np := p.NetworkParamsSet
		if np.BlockReward != nil {
			w.NPHasBlockReward, w.NPBlockReward = true, weiToBytes(np.BlockReward)
		}
		if np.BlockRewardPoolAddress != nil {
			w.NPHasBlockRewardPoolAddress, w.NPBlockRewardPoolAddress = true, *np.BlockRewardPoolAddress
		}
		if np.TargetMiningTimeMs != nil {
			w.NPHasTargetMiningTimeMs, w.NPTargetMiningTimeMs = true, *np.TargetMiningTimeMs
		}
		if np.AsertHalfLifeBlocks != nil {
			w.NPHasAsertHalfLifeBlocks, w.NPAsertHalfLifeBlocks = true, *np.AsertHalfLifeBlocks
		}
		if np.MinDifficulty != nil {
			w.NPHasMinDifficulty, w.NPMinDifficulty = true, weiToBytes(np.MinDifficulty)
		}
		if np.MinTxBaseFee != nil {
			w.NPHasMinTxBaseFee, w.NPMinTxBaseFee = true, weiToBytes(np.MinTxBaseFee)
		}
		if np.MinTxByteFee != nil {
			w.NPHasMinTxByteFee, w.NPMinTxByteFee = true, weiToBytes(np.MinTxByteFee)
		}
	case BipAddressAliasAdd:
		w.AliasName, w.AliasAddress = p.AliasAdd.Alias, p.AliasAdd.Address
	case BipAddressAliasRemove:
		w.AliasName = *p.AliasRemove
	}
	enc, err := rlp.EncodeToBytes(w)
	if err != nil {
		panic("types: encode bip create payload: " + err.Error())
	}
	return enc
}

// DecodeBipCreatePayload is the inverse of EncodeBipCreatePayload.
func DecodeBipCreatePayload(b []byte) (BipCreatePayload, error) {
	var w rlpBipCreatePayload
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return BipCreatePayload{}, err
	}
	p := BipCreatePayload{Kind: BipPayloadKind(w.Kind)}
	switch p.Kind {
	case BipTokenCreate:
		tc := &TokenCreateParams{Name: w.TCName, Ticker: w.TCTicker, Decimals: w.TCDecimals, UserBurnable: w.TCUserBurnable}
		if w.TCHasWebsite {
			tc.WebsiteURL = &w.TCWebsiteURL
		}
		if w.TCHasLogo {
			tc.LogoURL = &w.TCLogoURL
		}
		if w.TCHasMaxSupply {
			tc.MaxSupply = weiFromBytesPayload(w.TCMaxSupply)
		}
		p.TokenCreate = tc
	case BipTokenUpdate:
		tu := &TokenUpdateParams{TokenAddress: w.TUTokenAddress}
		if w.TUHasName {
			tu.Name = &w.TUName
		}
		if w.TUHasTicker {
			tu.Ticker = &w.TUTicker
		}
		if w.TUHasWebsite {
			tu.WebsiteURL = &w.TUWebsiteURL
		}
		if w.TUHasLogo {
			tu.LogoURL = &w.TULogoURL
		}
		p.TokenUpdate = tu
	case BipTokenMint:
		p.TokenMint = &TokenMintParams{TokenAddress: w.TMTokenAddress, Recipient: w.TMRecipient, Amount: weiFromBytesPayload(w.TMAmount)}
	case BipTokenBurn:
		p.TokenBurn = &TokenBurnParams{TokenAddress: w.TBTokenAddress, Owner: w.TBOwner, Amount: weiFromBytesPayload(w.TBAmount)}
	case BipAuthorityAdd, BipAuthorityRemove:
		addr := w.AuthorityAddr
		p.AuthorityAddr = &addr
	case BipNetworkParamsSet:
		np := &NetworkParamsSetParams{}
		if w.NPHasBlockReward {
			np.BlockReward = weiFromBytesPayload(w.NPBlockReward)
		}
		if w.NPHasBlockRewardPoolAddress {
			addr := w.NPBlockRewardPoolAddress
			np.BlockRewardPoolAddress = &addr
		}
		if w.NPHasTargetMiningTimeMs {
			v := w.NPTargetMiningTimeMs
			np.TargetMiningTimeMs = &v
		}
		if w.NPHasAsertHalfLifeBlocks {
			v := w.NPAsertHalfLifeBlocks
			np.AsertHalfLifeBlocks = &v
		}
		if w.NPHasMinDifficulty {
			np.MinDifficulty = weiFromBytesPayload(w.NPMinDifficulty)
		}
		if w.NPHasMinTxBaseFee {
			np.MinTxBaseFee = weiFromBytesPayload(w.NPMinTxBaseFee)
		}
		if w.NPHasMinTxByteFee {
			np.MinTxByteFee = weiFromBytesPayload(w.NPMinTxByteFee)
		}
		p.NetworkParamsSet = np
	case BipAddressAliasAdd:
		p.AliasAdd = &AddressAliasAddParams{Alias: w.AliasName, Address: w.AliasAddress}
	case BipAddressAliasRemove:
		name := w.AliasName
		p.AliasRemove = &name
	}
	return p, nil
}

// rlpBipVotePayload is the BIP_VOTE tx's Payload encoding.
type rlpBipVotePayload struct {
	BipHash  Hash
	VoteType uint8
}

func EncodeBipVotePayload(p BipVotePayload) []byte {
	enc, err := rlp.EncodeToBytes(rlpBipVotePayload{BipHash: p.BipHash, VoteType: uint8(p.VoteType)})
	if err != nil {
		panic("types: encode bip vote payload: " + err.Error())
	}
	return enc
}

func DecodeBipVotePayload(b []byte) (BipVotePayload, error) {
	var w rlpBipVotePayload
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return BipVotePayload{}, err
	}
	return BipVotePayload{BipHash: w.BipHash, VoteType: VoteType(w.VoteType)}, nil
}

func weiToBytes(w *Wei) []byte {
	if w == nil {
		return nil
	}
	b := w.Bytes32()
	return b[:]
}

func weiFromBytesPayload(b []byte) *Wei {
	if len(b) == 0 {
		return nil
	}
	return new(Wei).SetBytes(b)
}
