package txhandlers

import (
	"fmt"

	"github.com/veylan-chain/veylan/internal/types"
)

// TransferHandler moves amount of tokenAddress from sender to recipient,
// or burns it if recipient is the ZERO sentinel (spec §4.C TransferHandler).
type TransferHandler struct{}

func (TransferHandler) SupportedType() types.TxType { return types.TxTransfer }

func (TransferHandler) Execute(ctx *Context) error {
	tx := ctx.Tx
	if tx.Sender == tx.Recipient {
		return nil
	}

	senderBal, err := ctx.WorldState.GetBalance(tx.Sender, tx.TokenAddress)
	if err != nil {
		return err
	}
	if senderBal.Cmp(tx.Amount) < 0 {
		return fmt.Errorf("transfer %s: insufficient funds: have %s, need %s", tx.Hash(), senderBal, tx.Amount)
	}
	newSenderBal := new(types.Wei).Sub(senderBal, tx.Amount)
	if err := ctx.WorldState.SetBalance(tx.Sender, tx.TokenAddress, newSenderBal, ctx.Block.Height, ctx.Block.Timestamp); err != nil {
		return err
	}

	if tx.Recipient == types.ZeroAddress {
		tok, err := ctx.WorldState.GetToken(tx.TokenAddress)
		if err != nil {
			return err
		}
		if tok == nil {
			return fmt.Errorf("transfer %s: burn target token %s does not exist", tx.Hash(), tx.TokenAddress)
		}
		if !tok.UserBurnable {
			return fmt.Errorf("transfer %s: token %s is not user-burnable", tx.Hash(), tx.TokenAddress)
		}
		newSupply := new(types.Wei).Sub(tok.TotalSupply, tx.Amount)
		tok.TotalSupply = newSupply
		tok.Meta.UpdatedAtBlockHeight = ctx.Block.Height
		tok.Meta.UpdatedAtTimestamp = ctx.Block.Timestamp
		if err := ctx.WorldState.SetToken(tx.TokenAddress, *tok); err != nil {
			return err
		}
		ctx.emit(types.TokenBurned{Address: tx.TokenAddress, Owner: tx.Sender, Requested: tx.Amount, Actual: tx.Amount})
		ctx.emit(types.TokenSupplyUpdated{Address: tx.TokenAddress, TotalSupply: newSupply})
		return nil
	}

	recipientBal, err := ctx.WorldState.GetBalance(tx.Recipient, tx.TokenAddress)
	if err != nil {
		return err
	}
	newRecipientBal := new(types.Wei).Add(recipientBal, tx.Amount)
	return ctx.WorldState.SetBalance(tx.Recipient, tx.TokenAddress, newRecipientBal, ctx.Block.Height, ctx.Block.Timestamp)
}
