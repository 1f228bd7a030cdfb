// Package economy moves native currency across the ledger boundary.
// Deposits are credited by the controller once a payment has cleared
// off-ledger. Withdrawals debit the caller and record a payout that stays
// pending in state until the controller settles it.
package economy

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/vm"
)

func init() {
	vm.Register(core.TxDeposit, handleDeposit)
	vm.Register(core.TxWithdraw, handleWithdraw)
	vm.Register(core.TxSettlePayout, handleSettlePayout)
}

func handleDeposit(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DepositPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode deposit payload: %w", err)
	}
	if err := ctx.RequireController(); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: deposit amount must be > 0", core.ErrInvalidParameters)
	}
	if p.To == (common.Address{}) {
		return fmt.Errorf("%w: deposit recipient required", core.ErrInvalidAddress)
	}
	if err := vm.Credit(ctx.State, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventDeposit, map[string]any{
		"to":     p.To.Hex(),
		"amount": p.Amount,
	})
	return nil
}

func handleWithdraw(ctx *vm.Context, payload json.RawMessage) error {
	var p core.WithdrawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode withdraw payload: %w", err)
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: withdraw amount must be > 0", core.ErrInvalidParameters)
	}
	if err := vm.Debit(ctx.State, ctx.Tx.From, p.Amount); err != nil {
		return err
	}
	id, err := ctx.State.NextSequence(core.SeqPayout)
	if err != nil {
		return err
	}
	po := &core.Payout{
		ID:          id,
		Account:     ctx.Tx.From,
		Amount:      p.Amount,
		RequestedAt: ctx.Now.Unix(),
	}
	if err := ctx.State.SetPayout(po); err != nil {
		return err
	}
	acc, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	ctx.SetResult(core.WithdrawResult{Account: acc, Payout: po})
	ctx.Emit(events.EventWithdrawal, map[string]any{
		"payout_id": id,
		"from":      ctx.Tx.From.Hex(),
		"amount":    p.Amount,
	})
	return nil
}

// handleSettlePayout marks a pending payout as sent. Settling twice is
// rejected so a payout processor can retry safely.
func handleSettlePayout(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SettlePayoutPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode settle_payout payload: %w", err)
	}
	if err := ctx.RequireController(); err != nil {
		return err
	}
	po, err := ctx.State.GetPayout(p.PayoutID)
	if err != nil {
		return fmt.Errorf("payout %d: %w", p.PayoutID, err)
	}
	if po.Settled {
		return fmt.Errorf("%w: payout %d", core.ErrPayoutSettled, po.ID)
	}
	po.Settled = true
	po.SettledAt = ctx.Now.Unix()
	if err := ctx.State.SetPayout(po); err != nil {
		return err
	}
	ctx.SetResult(po)
	ctx.Emit(events.EventPayoutSettled, map[string]any{
		"payout_id": po.ID,
		"account":   po.Account.Hex(),
		"amount":    po.Amount,
	})
	return nil
}
