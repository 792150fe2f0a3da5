package txhandlers

import (
	"fmt"
	"math/big"

	"github.com/veylan-chain/veylan/internal/types"
)

// BipCreateHandler registers a new governance proposal, PENDING, with an
// empty approver/disapprover set (spec §4.C BipCreateHandler).
type BipCreateHandler struct{}

func (BipCreateHandler) SupportedType() types.TxType { return types.TxBipCreate }

func (BipCreateHandler) Execute(ctx *Context) error {
	tx := ctx.Tx

	auth, err := ctx.WorldState.GetAuthority(tx.Sender)
	if err != nil {
		return err
	}
	if auth == nil {
		return fmt.Errorf("bip_create %s: sender %s is not an authority", tx.Hash(), tx.Sender)
	}

	bipHash := tx.Hash()
	existing, err := ctx.WorldState.GetBip(bipHash)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("bip_create %s: bip already exists", bipHash)
	}

	if ctx.Params.CurrentAuthorityCount == 0 {
		return fmt.Errorf("bip_create %s: zero authorities", bipHash)
	}
	requiredVotes := requiredVotesFor(ctx.Params.CurrentAuthorityCount, ctx.Settings.ApprovalThresholdBps)

	payload, err := types.DecodeBipCreatePayload(tx.Payload)
	if err != nil {
		return fmt.Errorf("bip_create %s: decode payload: %w", bipHash, err)
	}

	var derivedToken *types.Address
	if payload.Kind == types.BipTokenCreate {
		addr := derivedTokenAddress(tx.Sender, tx.Nonce)
		derivedToken = &addr
	}

	bip := types.Bip{
		Meta:           types.Meta{Version: 1, UpdatedAtBlockHeight: ctx.Block.Height, UpdatedAtTimestamp: ctx.Block.Timestamp},
		Status:         types.BipPending,
		Type:           payload.Kind,
		ActionExecuted: false,
		RequiredVotes:  requiredVotes,
		Approvers:      make(map[types.Address]types.Hash),
		Disapprovers:   make(map[types.Address]types.Hash),
		ExpirationTs:   ctx.Block.Timestamp + ctx.Settings.BipExpirationPeriodMs,
		Metadata: types.BipMetadata{
			TxVersion:           tx.Version,
			TxPayload:           tx.Payload,
			DerivedTokenAddress: derivedToken,
		},
	}
	if err := ctx.WorldState.SetBip(bipHash, bip); err != nil {
		return err
	}
	log.Infow("bip created", "hash", bipHash, "kind", payload.Kind, "requiredVotes", requiredVotes, "proposer", tx.Sender)
	ctx.emit(types.BipStateCreated{BipHash: bipHash})
	return nil
}

// requiredVotesFor computes ceil(authorityCount * bps / 10000) (spec §4.C,
// §8 "BIP threshold").
func requiredVotesFor(authorityCount uint32, bps uint32) uint32 {
	num := big.NewInt(int64(authorityCount))
	num.Mul(num, big.NewInt(int64(bps)))
	den := big.NewInt(10000)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return uint32(q.Uint64())
}
