package vm

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/events"
)

var errEscrowNotCollected = errors.New("vm: pay before escrow was collected")

// Context is passed to every Handler. It carries the state, the triggering
// transaction, the authority and params in force, and the clock reading for
// this operation. Events recorded through Emit are delivered only after the
// operation commits.
//
// The value attached to the transaction stays in the sender's balance until
// the handler calls Collect, so handlers report their own rejections before
// any balance check.
type Context struct {
	State     core.State
	Tx        *core.Transaction
	Authority core.Authority
	Params    core.Params
	Now       time.Time
	Height    uint64

	collected bool
	escrow    uint64
	result    any
	events    []events.Event
}

// Paid returns the value the sender attached to the transaction.
func (c *Context) Paid() uint64 { return c.Tx.Value }

// Collect moves the attached value from the sender's balance into escrow.
// Calling it again is a no-op.
func (c *Context) Collect() error {
	if c.collected {
		return nil
	}
	if err := Debit(c.State, c.Tx.From, c.Tx.Value); err != nil {
		return err
	}
	c.collected = true
	c.escrow = c.Tx.Value
	return nil
}

// Escrow returns the part of the collected value not yet paid out.
func (c *Context) Escrow() uint64 { return c.escrow }

// Pay moves amount of the escrowed value to the balance of to.
func (c *Context) Pay(to common.Address, amount uint64) error {
	if !c.collected {
		return errEscrowNotCollected
	}
	if amount > c.escrow {
		return fmt.Errorf("%w: pay %d from escrow %d", core.ErrInsufficientPayment, amount, c.escrow)
	}
	if err := Credit(c.State, to, amount); err != nil {
		return err
	}
	c.escrow -= amount
	return nil
}

// Refund returns the remaining escrow to the sender and reports the amount.
func (c *Context) Refund() (uint64, error) {
	amount := c.escrow
	if amount == 0 {
		return 0, nil
	}
	if err := c.Pay(c.Tx.From, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// SetResult records the value returned in the receipt.
func (c *Context) SetResult(v any) { c.result = v }

// Emit queues an event for delivery after commit.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.events = append(c.events, events.Event{
		Type:   typ,
		TxID:   c.Tx.ID,
		Height: c.Height,
		Data:   data,
	})
}

// RequireController rejects callers other than the authority controller.
func (c *Context) RequireController() error {
	if c.Tx.From != c.Authority.Controller {
		return fmt.Errorf("%w: %s is not the controller", core.ErrUnauthorized, c.Tx.From.Hex())
	}
	return nil
}

// Credit adds amount to the native balance of addr.
func Credit(st core.State, addr common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, err := st.GetAccount(addr)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	bal, overflow := math.SafeAdd(acc.Balance, amount)
	if overflow {
		return fmt.Errorf("%w: balance of %s", core.ErrOverflow, addr.Hex())
	}
	acc.Balance = bal
	return st.SetAccount(acc)
}

// Debit removes amount from the native balance of addr.
func Debit(st core.State, addr common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, err := st.GetAccount(addr)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", core.ErrInsufficientBalance, acc.Balance, amount)
	}
	acc.Balance -= amount
	return st.SetAccount(acc)
}
