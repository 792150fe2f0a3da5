package txhandlers

import (
	"fmt"

	"github.com/veylan-chain/veylan/internal/types"
)

// BipVoteHandler records a vote against a pending BIP and, once quorum is
// reached, executes its action exactly once (spec §4.C BipVoteHandler).
type BipVoteHandler struct{}

func (BipVoteHandler) SupportedType() types.TxType { return types.TxBipVote }

func (BipVoteHandler) Execute(ctx *Context) error {
	tx := ctx.Tx

	auth, err := ctx.WorldState.GetAuthority(tx.Sender)
	if err != nil {
		return err
	}
	if auth == nil {
		return fmt.Errorf("bip_vote %s: sender %s is not an authority", tx.Hash(), tx.Sender)
	}

	vote, err := types.DecodeBipVotePayload(tx.Payload)
	if err != nil {
		return fmt.Errorf("bip_vote %s: decode payload: %w", tx.Hash(), err)
	}

	bip, err := ctx.WorldState.GetBip(vote.BipHash)
	if err != nil {
		return err
	}
	if bip == nil {
		return fmt.Errorf("bip_vote %s: bip %s does not exist", tx.Hash(), vote.BipHash)
	}
	if bip.Status != types.BipPending {
		return fmt.Errorf("bip_vote %s: bip %s is not pending", tx.Hash(), vote.BipHash)
	}
	if bip.ExpirationTs <= ctx.Block.Timestamp {
		return fmt.Errorf("bip_vote %s: bip %s has expired", tx.Hash(), vote.BipHash)
	}
	if _, ok := bip.Approvers[tx.Sender]; ok {
		return fmt.Errorf("bip_vote %s: sender %s already voted", tx.Hash(), tx.Sender)
	}
	if _, ok := bip.Disapprovers[tx.Sender]; ok {
		return fmt.Errorf("bip_vote %s: sender %s already voted", tx.Hash(), tx.Sender)
	}

	switch vote.VoteType {
	case types.VoteApprove:
		bip.Approvers[tx.Sender] = tx.Hash()
	case types.VoteDisapprove:
		bip.Disapprovers[tx.Sender] = tx.Hash()
	default:
		return fmt.Errorf("bip_vote %s: unknown vote type %d", tx.Hash(), vote.VoteType)
	}

	t := ctx.Params.CurrentAuthorityCount
	a, d := uint32(len(bip.Approvers)), uint32(len(bip.Disapprovers))
	maxPossible := t - d

	switch {
	case a >= bip.RequiredVotes:
		bip.Status = types.BipApproved
		log.Infow("bip approved", "hash", vote.BipHash, "approvers", a, "requiredVotes", bip.RequiredVotes)
	case maxPossible < bip.RequiredVotes:
		bip.Status = types.BipDisapproved
		log.Infow("bip disapproved", "hash", vote.BipHash, "disapprovers", d)
	}

	bip.Meta.UpdatedAtBlockHeight = ctx.Block.Height
	bip.Meta.UpdatedAtTimestamp = ctx.Block.Timestamp

	if bip.Status == types.BipApproved && !bip.ActionExecuted {
		bip.ActionExecuted = true
		now := ctx.Block.Timestamp
		bip.ExecutedAt = &now
		if err := executeBipAction(ctx, bip); err != nil {
			return fmt.Errorf("bip_vote %s: execute action for bip %s: %w", tx.Hash(), vote.BipHash, err)
		}
		log.Infow("bip executed", "hash", vote.BipHash, "executedAt", now)
	}

	if err := ctx.WorldState.SetBip(vote.BipHash, *bip); err != nil {
		return err
	}
	ctx.emit(types.BipStateUpdated{BipHash: vote.BipHash, Status: bip.Status})
	return nil
}

// executeBipAction replays the action encoded in a BIP's metadata payload
// once it reaches APPROVED (spec §4.C action dispatch table).
func executeBipAction(ctx *Context, bip *types.Bip) error {
	payload, err := types.DecodeBipCreatePayload(bip.Metadata.TxPayload)
	if err != nil {
		return err
	}

	switch payload.Kind {
	case types.BipTokenCreate:
		return executeTokenCreate(ctx, bip, payload.TokenCreate)
	case types.BipTokenUpdate:
		return executeTokenUpdate(ctx, payload.TokenUpdate)
	case types.BipTokenMint:
		return executeTokenMint(ctx, payload.TokenMint)
	case types.BipTokenBurn:
		return executeTokenBurn(ctx, bip, payload.TokenBurn)
	case types.BipAuthorityAdd:
		return executeAuthorityAdd(ctx, *payload.AuthorityAddr)
	case types.BipAuthorityRemove:
		return executeAuthorityRemove(ctx, *payload.AuthorityAddr)
	case types.BipNetworkParamsSet:
		return executeNetworkParamsSet(ctx, payload.NetworkParamsSet)
	case types.BipAddressAliasAdd:
		return executeAliasAdd(ctx, payload.AliasAdd)
	case types.BipAddressAliasRemove:
		return executeAliasRemove(ctx, *payload.AliasRemove)
	default:
		return fmt.Errorf("unknown bip payload kind %d", payload.Kind)
	}
}

func executeTokenCreate(ctx *Context, bip *types.Bip, p *types.TokenCreateParams) error {
	if bip.Metadata.DerivedTokenAddress == nil {
		return fmt.Errorf("token create: missing derived token address")
	}
	addr := *bip.Metadata.DerivedTokenAddress
	if !ctx.WorldState.CheckAndMarkTokenAsUpdated(addr) {
		return fmt.Errorf("token create: %s already touched this block", addr)
	}
	existing, err := ctx.WorldState.GetToken(addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("token create: %s already exists", addr)
	}
	tok := types.Token{
		Meta:         types.Meta{Version: 1, UpdatedAtBlockHeight: ctx.Block.Height, UpdatedAtTimestamp: ctx.Block.Timestamp},
		Name:         p.Name,
		Ticker:       p.Ticker,
		Decimals:     p.Decimals,
		WebsiteURL:   p.WebsiteURL,
		LogoURL:      p.LogoURL,
		MaxSupply:    p.MaxSupply,
		TotalSupply:  types.NewWei(0),
		UserBurnable: p.UserBurnable,
		OriginTxHash: ctx.Tx.Hash(),
	}
	if err := ctx.WorldState.SetToken(addr, tok); err != nil {
		return err
	}
	ctx.emit(types.TokenCreated{Address: addr, Name: p.Name, Ticker: p.Ticker})
	return nil
}

func executeTokenUpdate(ctx *Context, p *types.TokenUpdateParams) error {
	tok, err := ctx.WorldState.GetToken(p.TokenAddress)
	if err != nil {
		return err
	}
	if tok == nil {
		return fmt.Errorf("token update: %s does not exist", p.TokenAddress)
	}
	if p.Name != nil {
		tok.Name = *p.Name
	}
	if p.Ticker != nil {
		tok.Ticker = *p.Ticker
	}
	if p.WebsiteURL != nil {
		tok.WebsiteURL = p.WebsiteURL
	}
	if p.LogoURL != nil {
		tok.LogoURL = p.LogoURL
	}
	tok.Meta.UpdatedAtBlockHeight = ctx.Block.Height
	tok.Meta.UpdatedAtTimestamp = ctx.Block.Timestamp
	if err := ctx.WorldState.SetToken(p.TokenAddress, *tok); err != nil {
		return err
	}
	ctx.emit(types.TokenUpdated{Address: p.TokenAddress})
	return nil
}

func executeTokenMint(ctx *Context, p *types.TokenMintParams) error {
	tok, err := ctx.WorldState.GetToken(p.TokenAddress)
	if err != nil {
		return err
	}
	if tok == nil {
		return fmt.Errorf("token mint: %s does not exist", p.TokenAddress)
	}
	newSupply := new(types.Wei).Add(tok.TotalSupply, p.Amount)
	if tok.MaxSupply != nil && newSupply.Cmp(tok.MaxSupply) > 0 {
		return fmt.Errorf("token mint: %s exceeds max supply", p.TokenAddress)
	}
	tok.TotalSupply = newSupply
	tok.Meta.UpdatedAtBlockHeight = ctx.Block.Height
	tok.Meta.UpdatedAtTimestamp = ctx.Block.Timestamp
	if err := ctx.WorldState.SetToken(p.TokenAddress, *tok); err != nil {
		return err
	}
	recipientBal, err := ctx.WorldState.GetBalance(p.Recipient, p.TokenAddress)
	if err != nil {
		return err
	}
	newBal := new(types.Wei).Add(recipientBal, p.Amount)
	if err := ctx.WorldState.SetBalance(p.Recipient, p.TokenAddress, newBal, ctx.Block.Height, ctx.Block.Timestamp); err != nil {
		return err
	}
	ctx.emit(types.TokenMinted{Address: p.TokenAddress, Recipient: p.Recipient, Amount: p.Amount})
	ctx.emit(types.TokenSupplyUpdated{Address: p.TokenAddress, TotalSupply: newSupply})
	return nil
}

func executeTokenBurn(ctx *Context, bip *types.Bip, p *types.TokenBurnParams) error {
	tok, err := ctx.WorldState.GetToken(p.TokenAddress)
	if err != nil {
		return err
	}
	if tok == nil {
		return fmt.Errorf("token burn: %s does not exist", p.TokenAddress)
	}
	ownerBal, err := ctx.WorldState.GetBalance(p.Owner, p.TokenAddress)
	if err != nil {
		return err
	}
	actual := p.Amount
	if ownerBal.Cmp(actual) < 0 {
		actual = ownerBal
	}
	newBal := new(types.Wei).Sub(ownerBal, actual)
	if err := ctx.WorldState.SetBalance(p.Owner, p.TokenAddress, newBal, ctx.Block.Height, ctx.Block.Timestamp); err != nil {
		return err
	}
	newSupply := new(types.Wei).Sub(tok.TotalSupply, actual)
	tok.TotalSupply = newSupply
	tok.Meta.UpdatedAtBlockHeight = ctx.Block.Height
	tok.Meta.UpdatedAtTimestamp = ctx.Block.Timestamp
	if err := ctx.WorldState.SetToken(p.TokenAddress, *tok); err != nil {
		return err
	}
	if ctx.ActualBurnAmounts != nil {
		vote, err := types.DecodeBipVotePayload(ctx.Tx.Payload)
		if err != nil {
			return err
		}
		ctx.ActualBurnAmounts[vote.BipHash] = BurnAmounts{Requested: p.Amount, Actual: actual}
	}
	ctx.emit(types.TokenBurned{Address: p.TokenAddress, Owner: p.Owner, Requested: p.Amount, Actual: actual})
	ctx.emit(types.TokenSupplyUpdated{Address: p.TokenAddress, TotalSupply: newSupply})
	return nil
}

func executeAuthorityAdd(ctx *Context, addr types.Address) error {
	existing, err := ctx.WorldState.GetAuthority(addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("authority add: %s already present", addr)
	}
	if err := ctx.WorldState.AddAuthority(addr, ctx.Tx.Hash(), ctx.Block.Height, ctx.Block.Timestamp); err != nil {
		return err
	}
	ctx.Params.CurrentAuthorityCount++
	if err := ctx.WorldState.SetParams(*ctx.Params); err != nil {
		return err
	}
	ctx.emit(types.AuthorityAdded{Address: addr})
	return nil
}

func executeAuthorityRemove(ctx *Context, addr types.Address) error {
	existing, err := ctx.WorldState.GetAuthority(addr)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("authority remove: %s not present", addr)
	}
	if ctx.Params.CurrentAuthorityCount <= 1 {
		return fmt.Errorf("authority remove: would leave zero authorities")
	}
	if err := ctx.WorldState.RemoveAuthority(addr); err != nil {
		return err
	}
	ctx.Params.CurrentAuthorityCount--
	if err := ctx.WorldState.SetParams(*ctx.Params); err != nil {
		return err
	}
	ctx.emit(types.AuthorityRemoved{Address: addr})
	return nil
}

func executeNetworkParamsSet(ctx *Context, p *types.NetworkParamsSetParams) error {
	if err := ctx.WorldState.MarkParamsChanged(); err != nil {
		return err
	}
	params := *ctx.Params
	resetAnchor := false
	if p.BlockReward != nil {
		params.BlockReward = p.BlockReward
	}
	if p.BlockRewardPoolAddress != nil {
		params.BlockRewardPoolAddress = *p.BlockRewardPoolAddress
	}
	if p.TargetMiningTimeMs != nil {
		params.TargetMiningTimeMs = *p.TargetMiningTimeMs
		resetAnchor = true
	}
	if p.AsertHalfLifeBlocks != nil {
		params.AsertHalfLifeBlocks = *p.AsertHalfLifeBlocks
		resetAnchor = true
	}
	if p.MinDifficulty != nil {
		params.MinDifficulty = p.MinDifficulty
	}
	if p.MinTxBaseFee != nil {
		params.MinTxBaseFee = p.MinTxBaseFee
	}
	if p.MinTxByteFee != nil {
		params.MinTxByteFee = p.MinTxByteFee
	}
	if resetAnchor {
		params.AsertAnchorHeight = ctx.Block.Height
	}
	params.Meta.UpdatedAtBlockHeight = ctx.Block.Height
	params.Meta.UpdatedAtTimestamp = ctx.Block.Timestamp
	if err := ctx.WorldState.SetParams(params); err != nil {
		return err
	}
	*ctx.Params = params
	ctx.emit(types.NetworkParamsChanged{})
	return nil
}

func executeAliasAdd(ctx *Context, p *types.AddressAliasAddParams) error {
	existing, err := ctx.WorldState.GetAlias(p.Alias)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("alias add: %q already exists", p.Alias)
	}
	if err := ctx.WorldState.AddAlias(p.Alias, p.Address, ctx.Tx.Hash(), ctx.Block.Height, ctx.Block.Timestamp); err != nil {
		return err
	}
	ctx.emit(types.AddressAliasAdded{Alias: p.Alias, Address: p.Address})
	return nil
}

func executeAliasRemove(ctx *Context, alias string) error {
	existing, err := ctx.WorldState.GetAlias(alias)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("alias remove: %q not present", alias)
	}
	if err := ctx.WorldState.RemoveAlias(alias); err != nil {
		return err
	}
	ctx.emit(types.AddressAliasRemoved{Alias: alias})
	return nil
}
