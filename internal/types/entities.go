package types

// Every state entity carries version/updatedAtBlockHeight/updatedAtTimestamp
// for replay and indexing (spec §3). Embedding Meta keeps that repetition
// in one place rather than on every struct.
type Meta struct {
	Version              uint32
	UpdatedAtBlockHeight uint64
	UpdatedAtTimestamp   int64
}

type Balance struct {
	Meta
	Balance *Wei
}

type Nonce struct {
	Meta
	Nonce int64 // -1 ("ZERO") means unset; first valid tx nonce is 0
}

type Authority struct {
	Meta
	OriginTxHash    Hash
	CreatedAtHeight uint64
}

type AddressAlias struct {
	Meta
	Address      Address
	OriginTxHash Hash
	CreatedAt    int64
}

type Token struct {
	Meta
	Name          string
	Ticker        string
	Decimals      uint8
	WebsiteURL    *string
	LogoURL       *string
	MaxSupply     *Wei // nil = unbounded
	TotalSupply   *Wei
	UserBurnable  bool
	OriginTxHash  Hash
}

// BipStatus is the lifecycle state of a governance proposal (spec §4.C).
type BipStatus uint8

const (
	BipPending BipStatus = iota
	BipApproved
	BipDisapproved
)

func (s BipStatus) String() string {
	switch s {
	case BipPending:
		return "PENDING"
	case BipApproved:
		return "APPROVED"
	case BipDisapproved:
		return "DISAPPROVED"
	default:
		return "UNKNOWN"
	}
}

// BipMetadata carries the originating tx's payload so the vote handler can
// replay/execute the action once quorum is reached.
type BipMetadata struct {
	TxVersion           uint32
	TxPayload           []byte
	DerivedTokenAddress *Address
}

type Bip struct {
	Meta
	Status            BipStatus
	Type              BipPayloadKind
	ActionExecuted    bool
	RequiredVotes     uint32
	Approvers         map[Address]Hash // voter -> voting tx hash
	Disapprovers      map[Address]Hash
	ExpirationTs      int64
	Metadata          BipMetadata
	ExecutedAt        *int64
}

type NetworkParams struct {
	Meta
	BlockReward             *Wei
	BlockRewardPoolAddress  Address
	TargetMiningTimeMs      int64
	AsertHalfLifeBlocks     uint64
	AsertAnchorHeight       uint64
	MinDifficulty           *Wei
	MinTxBaseFee            *Wei
	MinTxByteFee            *Wei
	CurrentAuthorityCount   uint32
}

// BipPayloadKind tags the dispatch-on-type payload carried by a BIP_CREATE
// tx and replayed on approval (spec §4.C action dispatch table).
type BipPayloadKind uint8

const (
	BipTokenCreate BipPayloadKind = iota
	BipTokenUpdate
	BipTokenMint
	BipTokenBurn
	BipAuthorityAdd
	BipAuthorityRemove
	BipNetworkParamsSet
	BipAddressAliasAdd
	BipAddressAliasRemove
)

// VoteType distinguishes approval from disapproval in a BIP_VOTE tx.
type VoteType uint8

const (
	VoteApprove VoteType = iota
	VoteDisapprove
)

// BipCreatePayload is the BIP_CREATE tx payload: the proposed action and
// its type-specific parameters, one field set populated per Kind.
type BipCreatePayload struct {
	Kind BipPayloadKind

	TokenCreate *TokenCreateParams
	TokenUpdate *TokenUpdateParams
	TokenMint   *TokenMintParams
	TokenBurn   *TokenBurnParams
	AuthorityAddr *Address // AuthorityAdd / AuthorityRemove
	NetworkParamsSet *NetworkParamsSetParams
	AliasAdd    *AddressAliasAddParams
	AliasRemove *string
}

type TokenCreateParams struct {
	Name         string
	Ticker       string
	Decimals     uint8
	WebsiteURL   *string
	LogoURL      *string
	MaxSupply    *Wei
	UserBurnable bool
}

type TokenUpdateParams struct {
	TokenAddress Address
	Name         *string
	Ticker       *string
	WebsiteURL   *string
	LogoURL      *string
}

type TokenMintParams struct {
	TokenAddress Address
	Recipient    Address
	Amount       *Wei
}

type TokenBurnParams struct {
	TokenAddress Address
	Owner        Address
	Amount       *Wei
}

// NetworkParamsSetParams carries only the fields being changed; nil means
// "leave unchanged" (spec §4.C: "merge non-null fields from payload").
type NetworkParamsSetParams struct {
	BlockReward            *Wei
	BlockRewardPoolAddress *Address
	TargetMiningTimeMs     *int64
	AsertHalfLifeBlocks    *uint64
	MinDifficulty          *Wei
	MinTxBaseFee           *Wei
	MinTxByteFee           *Wei
}

type AddressAliasAddParams struct {
	Alias   string
	Address Address
}

// BipVotePayload is the BIP_VOTE tx payload.
type BipVotePayload struct {
	BipHash  Hash
	VoteType VoteType
}
