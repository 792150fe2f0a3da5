package txprocessor

import (
	"errors"
	"testing"

	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/trie"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/types"
)

func newTestWorldState(t *testing.T) *state.WorldState {
	t.Helper()
	ws, err := state.New(trie.NewMemStorage(), trie.EmptyTrieNodeHash, true)
	if err != nil {
		t.Fatalf("new world state: %v", err)
	}
	return ws
}

func testParams() *types.NetworkParams {
	return &types.NetworkParams{
		BlockReward:            types.NewWei(10),
		BlockRewardPoolAddress: types.ZeroAddress,
		MinTxBaseFee:           types.NewWei(2),
		MinTxByteFee:           types.NewWei(1),
	}
}

func transferTx(t *testing.T, sender, recipient types.Address, nonce int64, amount, fee *types.Wei) *types.Tx {
	t.Helper()
	tx := &types.Tx{
		Type:         types.TxTransfer,
		Sender:       sender,
		Recipient:    recipient,
		TokenAddress: types.NativeToken,
		Nonce:        nonce,
		Amount:       amount,
		Fee:          fee,
	}
	return tx
}

func TestExecuteBatchAppliesTransferAndDeductsFee(t *testing.T) {
	ws := newTestWorldState(t)
	sender := types.BytesToAddress([]byte{0x01})
	recipient := types.BytesToAddress([]byte{0x02})

	if err := ws.SetBalance(sender, types.NativeToken, types.NewWei(1000), 0, 0); err != nil {
		t.Fatalf("seed sender balance: %v", err)
	}

	fee := types.NewWei(50)
	tx := transferTx(t, sender, recipient, 0, types.NewWei(100), fee)
	block := txhandlers.SimpleBlock{Height: 1, Timestamp: 1000, Coinbase: types.BytesToAddress([]byte{0xFF})}

	result, err := ExecuteBatch(ws, block, []*types.Tx{tx}, testParams(), &types.NetworkSettings{}, Strict, txhandlers.NewRegistry())
	if err != nil {
		t.Fatalf("execute batch: %v", err)
	}
	if len(result.ValidTxs) != 1 || len(result.InvalidTxs) != 0 {
		t.Fatalf("valid/invalid = %d/%d, want 1/0", len(result.ValidTxs), len(result.InvalidTxs))
	}
	if result.TotalFeesCollected.Cmp(fee) != 0 {
		t.Fatalf("fees collected = %s, want %s", result.TotalFeesCollected, fee)
	}

	senderBal, err := ws.GetBalance(sender, types.NativeToken)
	if err != nil {
		t.Fatalf("get sender balance: %v", err)
	}
	// 1000 - 100 (amount) - 50 (fee) = 850
	if senderBal.Cmp(types.NewWei(850)) != 0 {
		t.Fatalf("sender balance = %s, want 850", senderBal)
	}

	nonce, err := ws.GetNonce(sender)
	if err != nil || nonce != 0 {
		t.Fatalf("sender nonce = %d, %v, want 0", nonce, err)
	}
}

func TestExecuteBatchStrictModeAbortsOnFirstFailure(t *testing.T) {
	ws := newTestWorldState(t)
	sender := types.BytesToAddress([]byte{0x03})
	recipient := types.BytesToAddress([]byte{0x04})

	// No seeded balance: the fee floor check fails immediately.
	tx := transferTx(t, sender, recipient, 0, types.NewWei(10), types.NewWei(5))
	block := txhandlers.SimpleBlock{Height: 1, Timestamp: 1000}

	_, err := ExecuteBatch(ws, block, []*types.Tx{tx}, testParams(), &types.NetworkSettings{}, Strict, txhandlers.NewRegistry())
	if err == nil {
		t.Fatal("expected strict mode to abort on fee-floor failure")
	}
	var validationErr *TxValidationFailedError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected *TxValidationFailedError, got %T: %v", err, err)
	}
}

func TestExecuteBatchMiningModeDropsInvalidTxsAndContinues(t *testing.T) {
	ws := newTestWorldState(t)
	sender := types.BytesToAddress([]byte{0x05})
	recipient := types.BytesToAddress([]byte{0x06})
	if err := ws.SetBalance(sender, types.NativeToken, types.NewWei(1000), 0, 0); err != nil {
		t.Fatalf("seed sender balance: %v", err)
	}

	badNonceTx := transferTx(t, sender, recipient, 5, types.NewWei(10), types.NewWei(20))
	goodTx := transferTx(t, sender, recipient, 0, types.NewWei(10), types.NewWei(20))
	block := txhandlers.SimpleBlock{Height: 1, Timestamp: 1000, Coinbase: types.BytesToAddress([]byte{0xFE})}

	result, err := ExecuteBatch(ws, block, []*types.Tx{badNonceTx, goodTx}, testParams(), &types.NetworkSettings{}, Mining, txhandlers.NewRegistry())
	if err != nil {
		t.Fatalf("execute batch: %v", err)
	}
	if len(result.ValidTxs) != 1 || len(result.InvalidTxs) != 1 {
		t.Fatalf("valid/invalid = %d/%d, want 1/1", len(result.ValidTxs), len(result.InvalidTxs))
	}
	if result.ValidTxs[0] != goodTx {
		t.Fatal("expected the correctly-nonced tx to be the valid one")
	}
}

func TestExecuteBatchRejectsFeeBelowFloor(t *testing.T) {
	ws := newTestWorldState(t)
	sender := types.BytesToAddress([]byte{0x07})
	recipient := types.BytesToAddress([]byte{0x08})
	if err := ws.SetBalance(sender, types.NativeToken, types.NewWei(1000), 0, 0); err != nil {
		t.Fatalf("seed sender balance: %v", err)
	}

	tx := transferTx(t, sender, recipient, 0, types.NewWei(10), types.NewWei(1)) // floor is base(2)+byteFee*size
	block := txhandlers.SimpleBlock{Height: 1, Timestamp: 1000}

	_, err := ExecuteBatch(ws, block, []*types.Tx{tx}, testParams(), &types.NetworkSettings{}, Strict, txhandlers.NewRegistry())
	if err == nil {
		t.Fatal("expected fee-below-floor rejection")
	}
}

func TestExecuteBatchMintsRewardFromZeroAddressPoolWhenHeightPositive(t *testing.T) {
	ws := newTestWorldState(t)
	coinbase := types.BytesToAddress([]byte{0x09})
	block := txhandlers.SimpleBlock{Height: 1, Timestamp: 1000, Coinbase: coinbase}

	result, err := ExecuteBatch(ws, block, nil, testParams(), &types.NetworkSettings{}, Strict, txhandlers.NewRegistry())
	if err != nil {
		t.Fatalf("execute batch: %v", err)
	}
	if result.MinerActualRewardPaid.Cmp(types.NewWei(10)) != 0 {
		t.Fatalf("miner reward = %s, want 10", result.MinerActualRewardPaid)
	}
	if result.TotalSupplyIncrease.Cmp(types.NewWei(10)) != 0 {
		t.Fatalf("supply increase = %s, want 10", result.TotalSupplyIncrease)
	}

	coinbaseBal, err := ws.GetBalance(coinbase, types.NativeToken)
	if err != nil || coinbaseBal.Cmp(types.NewWei(10)) != 0 {
		t.Fatalf("coinbase balance = %v, %v, want 10", coinbaseBal, err)
	}

	var sawReward bool
	for _, ev := range result.Events {
		if _, ok := ev.(types.BlockReward); ok {
			sawReward = true
		}
	}
	if !sawReward {
		t.Fatal("expected a BlockReward event")
	}
}

func TestExecuteBatchSkipsRewardAtGenesisHeight(t *testing.T) {
	ws := newTestWorldState(t)
	coinbase := types.BytesToAddress([]byte{0x0A})
	block := txhandlers.SimpleBlock{Height: 0, Timestamp: 1000, Coinbase: coinbase}

	result, err := ExecuteBatch(ws, block, nil, testParams(), &types.NetworkSettings{}, Strict, txhandlers.NewRegistry())
	if err != nil {
		t.Fatalf("execute batch: %v", err)
	}
	if result.MinerActualRewardPaid.Sign() != 0 {
		t.Fatalf("expected no reward minted at genesis height, got %s", result.MinerActualRewardPaid)
	}
	coinbaseBal, err := ws.GetBalance(coinbase, types.NativeToken)
	if err != nil || coinbaseBal.Sign() != 0 {
		t.Fatalf("expected zero coinbase balance at genesis, got %v, %v", coinbaseBal, err)
	}
}

func TestExecuteBatchRejectsRewardPoolEqualToCoinbase(t *testing.T) {
	ws := newTestWorldState(t)
	coinbase := types.BytesToAddress([]byte{0x0B})
	params := testParams()
	params.BlockRewardPoolAddress = coinbase
	block := txhandlers.SimpleBlock{Height: 1, Timestamp: 1000, Coinbase: coinbase}

	if _, err := ExecuteBatch(ws, block, nil, params, &types.NetworkSettings{}, Strict, txhandlers.NewRegistry()); err == nil {
		t.Fatal("expected an error when the reward pool address equals the coinbase")
	}
}

func TestExecuteBatchCapsPoolFundedRewardAtPoolBalance(t *testing.T) {
	ws := newTestWorldState(t)
	coinbase := types.BytesToAddress([]byte{0x0C})
	pool := types.BytesToAddress([]byte{0x0D})
	if err := ws.SetBalance(pool, types.NativeToken, types.NewWei(3), 0, 0); err != nil {
		t.Fatalf("seed pool balance: %v", err)
	}
	params := testParams()
	params.BlockRewardPoolAddress = pool // block reward is 10, pool only has 3
	block := txhandlers.SimpleBlock{Height: 1, Timestamp: 1000, Coinbase: coinbase}

	result, err := ExecuteBatch(ws, block, nil, params, &types.NetworkSettings{}, Strict, txhandlers.NewRegistry())
	if err != nil {
		t.Fatalf("execute batch: %v", err)
	}
	if result.MinerActualRewardPaid.Cmp(types.NewWei(3)) != 0 {
		t.Fatalf("miner reward = %s, want capped at 3", result.MinerActualRewardPaid)
	}
	if result.TotalSupplyIncrease.Sign() != 0 {
		t.Fatal("expected no new supply when the reward is pool-funded")
	}
	poolBal, err := ws.GetBalance(pool, types.NativeToken)
	if err != nil || poolBal.Sign() != 0 {
		t.Fatalf("pool balance = %v, %v, want drained to 0", poolBal, err)
	}
}
