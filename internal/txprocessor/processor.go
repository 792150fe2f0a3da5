// Package txprocessor implements deterministic block execution: per-tx fee
// validation, handler dispatch, snapshot/revert, and reward distribution
// (spec §4.D).
package txprocessor

import (
	"fmt"

	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/types"
)

// Mode selects how a failed tx is handled: Strict aborts the whole block,
// Mining drops the offending tx and continues (spec §4.D).
type Mode uint8

const (
	Strict Mode = iota
	Mining
)

// TxValidationFailedError is the block-fatal error surfaced in Strict mode
// when a transaction's fee/nonce validation or handler execution fails.
type TxValidationFailedError struct {
	TxHash types.Hash
	Reason error
}

func (e *TxValidationFailedError) Error() string {
	return fmt.Sprintf("tx %s validation failed: %v", e.TxHash, e.Reason)
}
func (e *TxValidationFailedError) Unwrap() error { return e.Reason }

// ExecutionResult is the outcome of running execute_batch over one block's
// transactions (spec §4.D).
type ExecutionResult struct {
	ValidTxs   []*types.Tx
	InvalidTxs []*types.Tx

	TotalFeesCollected    *types.Wei
	TotalSupplyIncrease   *types.Wei
	MinerActualRewardPaid *types.Wei
	ActualBurnAmounts     map[types.Hash]txhandlers.BurnAmounts
	Events                []types.BlockEvent
}

// ExecuteBatch runs every tx in txs against worldState in order, then (for
// block.Height > 0) distributes the block reward (spec §4.D).
func ExecuteBatch(
	ws *state.WorldState,
	block txhandlers.SimpleBlock,
	txs []*types.Tx,
	params *types.NetworkParams,
	settings *types.NetworkSettings,
	mode Mode,
	registry *txhandlers.Registry,
) (*ExecutionResult, error) {
	result := &ExecutionResult{
		TotalFeesCollected:    types.NewWei(0),
		TotalSupplyIncrease:   types.NewWei(0),
		MinerActualRewardPaid: types.NewWei(0),
		ActualBurnAmounts:     make(map[types.Hash]txhandlers.BurnAmounts),
	}

	for _, tx := range txs {
		snap := ws.CreateSnapshot()

		fee, err := validateAndDeductFee(ws, tx, params, block)
		if err == nil {
			ctx := &txhandlers.Context{
				WorldState:        ws,
				Tx:                tx,
				Block:             block,
				Params:            params,
				Settings:          settings,
				ActualBurnAmounts: result.ActualBurnAmounts,
			}
			err = registry.Dispatch(ctx)
			if err == nil {
				result.Events = append(result.Events, ctx.Events...)
			}
		}

		if err != nil {
			if revErr := ws.RevertToSnapshot(snap); revErr != nil && mode == Mining {
				// Validation mode carries no journal; nothing to revert there.
				return nil, fmt.Errorf("revert snapshot for tx %s: %w", tx.Hash(), revErr)
			}
			if mode == Strict {
				return nil, &TxValidationFailedError{TxHash: tx.Hash(), Reason: err}
			}
			result.InvalidTxs = append(result.InvalidTxs, tx)
			continue
		}

		result.ValidTxs = append(result.ValidTxs, tx)
		result.TotalFeesCollected = new(types.Wei).Add(result.TotalFeesCollected, fee)
		if !tx.Type.IsUserPaid() {
			result.TotalSupplyIncrease = new(types.Wei).Add(result.TotalSupplyIncrease, fee)
		}
	}

	if block.Height > 0 {
		if err := distributeReward(ws, block, params, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// validateAndDeductFee enforces nonce ordering and the fee floor, then (for
// user-paid tx types) debits the sender's native-token balance by the fee
// (spec §4.D step 2).
func validateAndDeductFee(ws *state.WorldState, tx *types.Tx, params *types.NetworkParams, block txhandlers.SimpleBlock) (*types.Wei, error) {
	n, err := ws.GetNonce(tx.Sender)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != n+1 {
		return nil, fmt.Errorf("nonce mismatch: expected %d, got %d", n+1, tx.Nonce)
	}
	if err := ws.SetNonce(tx.Sender, n+1, block.Height, block.Timestamp); err != nil {
		return nil, err
	}

	byteFee := new(types.Wei).Mul(params.MinTxByteFee, types.NewWei(uint64(tx.Size())))
	requiredFee := new(types.Wei).Add(params.MinTxBaseFee, byteFee)
	if tx.Fee.Cmp(requiredFee) < 0 {
		return nil, fmt.Errorf("fee below floor: have %s, need %s", tx.Fee, requiredFee)
	}

	if tx.Type.IsUserPaid() {
		bal, err := ws.GetBalance(tx.Sender, types.NativeToken)
		if err != nil {
			return nil, err
		}
		if bal.Cmp(tx.Fee) < 0 {
			return nil, fmt.Errorf("insufficient balance for fee: have %s, need %s", bal, tx.Fee)
		}
		newBal := new(types.Wei).Sub(bal, tx.Fee)
		if err := ws.SetBalance(tx.Sender, types.NativeToken, newBal, block.Height, block.Timestamp); err != nil {
			return nil, err
		}
	}

	return tx.Fee, nil
}

// distributeReward implements the pool-funded-vs-inflationary reward split
// (spec §4.D "After all txs -- reward distribution").
func distributeReward(ws *state.WorldState, block txhandlers.SimpleBlock, params *types.NetworkParams, result *ExecutionResult) error {
	pool := params.BlockRewardPoolAddress
	if pool == block.Coinbase {
		return fmt.Errorf("reward pool address equals coinbase: consensus violation")
	}

	var actualReward *types.Wei
	toMint := types.NewWei(0)

	if pool == types.ZeroAddress {
		actualReward = params.BlockReward
		toMint = new(types.Wei).Add(toMint, params.BlockReward)
	} else {
		poolBal, err := ws.GetBalance(pool, types.NativeToken)
		if err != nil {
			return err
		}
		actualReward = poolBal
		if params.BlockReward.Cmp(poolBal) < 0 {
			actualReward = params.BlockReward
		}
		newPoolBal := new(types.Wei).Sub(poolBal, actualReward)
		if err := ws.SetBalance(pool, types.NativeToken, newPoolBal, block.Height, block.Timestamp); err != nil {
			return err
		}
	}

	coinbaseBal, err := ws.GetBalance(block.Coinbase, types.NativeToken)
	if err != nil {
		return err
	}
	credit := new(types.Wei).Add(actualReward, result.TotalFeesCollected)
	newCoinbaseBal := new(types.Wei).Add(coinbaseBal, credit)
	if err := ws.SetBalance(block.Coinbase, types.NativeToken, newCoinbaseBal, block.Height, block.Timestamp); err != nil {
		return err
	}

	toMint = new(types.Wei).Add(toMint, result.TotalSupplyIncrease)
	result.TotalSupplyIncrease = toMint
	result.MinerActualRewardPaid = credit
	result.Events = append(result.Events, types.BlockReward{
		Coinbase:  block.Coinbase,
		Actual:    actualReward,
		Requested: params.BlockReward,
		Minted:    toMint,
	})
	if result.TotalFeesCollected.Sign() > 0 {
		result.Events = append(result.Events, types.FeesCollected{Coinbase: block.Coinbase, Total: result.TotalFeesCollected})
	}
	return nil
}
