// Package txhandlers implements the per-TxType business effect handlers
// (spec §4.C). Handlers assume nonce/fee/signature pre-validation already
// happened in the state processor; their job is the transfer/governance
// effect itself.
package txhandlers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/types"
)

// log is the package-wide BIP lifecycle logger, matching the teacher's
// governance.go pattern of pulling the global zap logger at the call site
// rather than threading a logger through every function.
var log = zap.L().Sugar()

// SimpleBlock is the minimal per-block context a handler needs, deliberately
// narrower than the full header (spec §4.C context bundle).
type SimpleBlock struct {
	Height    uint64
	Timestamp int64
	Coinbase  types.Address
}

// BurnAmounts records a BIP_TOKEN_BURN's requested vs capped-actual amount,
// keyed by the BIP hash that executed it (spec §4.C TokenBurn row).
type BurnAmounts struct {
	Requested *types.Wei
	Actual    *types.Wei
}

// Context bundles everything a handler needs to run one tx's effect.
type Context struct {
	WorldState *state.WorldState
	Tx         *types.Tx
	Block      SimpleBlock
	Params     *types.NetworkParams
	Settings   *types.NetworkSettings

	// ActualBurnAmounts accumulates burn results for the whole block, keyed
	// by the executing BIP's hash.
	ActualBurnAmounts map[types.Hash]BurnAmounts

	// Events collects BlockEvents emitted by this tx's effect; the state
	// processor appends them to the block-level event list on success.
	Events []types.BlockEvent
}

func (c *Context) emit(ev types.BlockEvent) { c.Events = append(c.Events, ev) }

// Handler is a dynamic-dispatch business-effect implementation for one
// TxType (spec §9 "model as a map keyed by TxType to a trait-object/closure").
type Handler interface {
	SupportedType() types.TxType
	Execute(ctx *Context) error
}

// Registry dispatches to the handler registered for a tx's type.
type Registry struct {
	handlers map[types.TxType]Handler
}

// NewRegistry builds the standard registry with all three handlers wired.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[types.TxType]Handler)}
	r.Register(TransferHandler{})
	r.Register(BipCreateHandler{})
	r.Register(BipVoteHandler{})
	return r
}

func (r *Registry) Register(h Handler) { r.handlers[h.SupportedType()] = h }

// Dispatch runs the handler registered for ctx.Tx.Type.
func (r *Registry) Dispatch(ctx *Context) error {
	h, ok := r.handlers[ctx.Tx.Type]
	if !ok {
		return fmt.Errorf("txhandlers: no handler registered for %s", ctx.Tx.Type)
	}
	return h.Execute(ctx)
}

// derivedTokenAddress computes the deterministic token address assigned to
// a BIP_TOKEN_CREATE proposal at creation time, before the BIP is ever
// approved (spec §4.C BipCreateHandler: "derivedTokenAddress =
// deterministic_fn(sender, tx.nonce)").
func derivedTokenAddress(sender types.Address, nonce int64) types.Address {
	var nb [8]byte
	for i := 0; i < 8; i++ {
		nb[7-i] = byte(nonce >> (8 * i))
	}
	h := types.Keccak256(sender[:], nb[:])
	return types.BytesToAddress(h[:types.AddressSize])
}
