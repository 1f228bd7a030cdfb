package vm_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/crypto"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/internal/testutil"
	"github.com/tolelom/rescuechain/storage"
	"github.com/tolelom/rescuechain/vm"
)

const (
	txPayHalf     core.TxType = "test_pay_half"
	txWriteFail   core.TxType = "test_write_fail"
	txRejectFirst core.TxType = "test_reject_first"
	txPayNoEscrow core.TxType = "test_pay_no_escrow"
)

var (
	controller = common.HexToAddress("0x00000000000000000000000000000000000c0de0")
	treasury   = common.HexToAddress("0x0000000000000000000000000000000000007ea5")
	player     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	errBoom    = errors.New("boom")
)

func init() {
	// Pays half the escrow to the treasury and leaves the rest for the
	// automatic refund.
	vm.Register(txPayHalf, func(ctx *vm.Context, _ json.RawMessage) error {
		if err := ctx.Collect(); err != nil {
			return err
		}
		ctx.Emit(events.EventDeposit, map[string]any{"paid": ctx.Escrow() / 2})
		return ctx.Pay(ctx.Authority.Treasury, ctx.Escrow()/2)
	})
	// Writes state, queues an event, then fails.
	vm.Register(txWriteFail, func(ctx *vm.Context, _ json.RawMessage) error {
		if _, err := ctx.State.NextSequence(core.SeqMission); err != nil {
			return err
		}
		if err := vm.Credit(ctx.State, ctx.Authority.Treasury, 1_000); err != nil {
			return err
		}
		ctx.Emit(events.EventDeposit, map[string]any{"never": true})
		return errBoom
	})
	// Rejects before touching the attached value.
	vm.Register(txRejectFirst, func(ctx *vm.Context, _ json.RawMessage) error {
		return errBoom
	})
	vm.Register(txPayNoEscrow, func(ctx *vm.Context, _ json.RawMessage) error {
		return ctx.Pay(ctx.Authority.Treasury, ctx.Paid())
	})
}

type fixture struct {
	state   *storage.StateDB
	ledger  *vm.Ledger
	emitter *events.Emitter
	seen    []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	f := &fixture{state: testutil.NewStateDB(), emitter: events.NewEmitter()}
	f.emitter.SubscribeAll(func(ev events.Event) { f.seen = append(f.seen, ev) })
	f.ledger = vm.NewLedger(f.state, testutil.NewJournal(), f.emitter, key)
	ok, err := f.ledger.InitGenesis(&core.Transaction{ID: "genesis", Type: core.TxGenesis}, func(st core.State) error {
		if err := st.SetAuthority(&core.Authority{Controller: controller, TrustedSigner: controller, Treasury: treasury}); err != nil {
			return err
		}
		return st.SetAccount(&core.Account{Address: player, Balance: 1_000})
	})
	require.NoError(t, err)
	require.True(t, ok)
	return f
}

func (f *fixture) balance(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	var bal uint64
	require.NoError(t, f.ledger.View(func(st core.State) error {
		acc, err := st.GetAccount(addr)
		if err != nil {
			return err
		}
		bal = acc.Balance
		return nil
	}))
	return bal
}

func newTx(t *testing.T, typ core.TxType, from common.Address, value uint64) *core.Transaction {
	t.Helper()
	tx, err := core.NewTransaction(typ, from, value, struct{}{})
	require.NoError(t, err)
	return tx
}

func TestExecuteWithoutGenesis(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	l := vm.NewLedger(testutil.NewStateDB(), testutil.NewJournal(), nil, key)
	_, err = l.Execute(newTx(t, txPayHalf, player, 0))
	assert.ErrorIs(t, err, vm.ErrNoGenesis)
}

func TestInitGenesisOnce(t *testing.T) {
	f := newFixture(t)
	ok, err := f.ledger.InitGenesis(&core.Transaction{ID: "genesis-2", Type: core.TxGenesis}, func(core.State) error {
		t.Fatal("seed must not run twice")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), f.ledger.Journal().Height())
}

// TestEscrowRefund verifies that value a handler does not spend returns to
// the sender and that events arrive after commit with the journal height.
func TestEscrowRefund(t *testing.T) {
	f := newFixture(t)
	r, err := f.ledger.Execute(newTx(t, txPayHalf, player, 400))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Height)

	assert.Equal(t, uint64(800), f.balance(t, player))
	assert.Equal(t, uint64(200), f.balance(t, treasury))

	require.Len(t, f.seen, 2)
	assert.Equal(t, events.EventDeposit, f.seen[0].Type)
	assert.Equal(t, uint64(1), f.seen[0].Height)
	assert.Equal(t, events.EventTxExecuted, f.seen[1].Type)
	assert.NotEmpty(t, f.seen[1].ID)

	tip := f.ledger.Journal().Tip()
	assert.Equal(t, r.StateRoot, tip.Header.StateRoot)
	assert.Equal(t, uint64(400), tip.Header.Value)
	assert.NoError(t, tip.Verify())
}

// TestFailedHandlerRollsBack verifies that a failing handler leaves state,
// the journal and subscribers untouched.
func TestFailedHandlerRollsBack(t *testing.T) {
	f := newFixture(t)
	root := f.state.ComputeRoot()

	_, err := f.ledger.Execute(newTx(t, txWriteFail, player, 300))
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, uint64(1_000), f.balance(t, player))
	assert.Zero(t, f.balance(t, treasury))
	assert.Equal(t, root, f.state.ComputeRoot())
	assert.Equal(t, uint64(0), f.ledger.Journal().Height())
	assert.Empty(t, f.seen)

	n, err := f.state.PeekSequence(core.SeqMission)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Execute(newTx(t, txPayHalf, player, 5_000))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.Equal(t, uint64(1_000), f.balance(t, player))
}

// TestRejectionBeforeCollect verifies that a handler's own rejection wins
// over the sender's balance when the value has not been collected yet.
func TestRejectionBeforeCollect(t *testing.T) {
	f := newFixture(t)
	unfunded := common.HexToAddress("0x00000000000000000000000000000000000ca201")

	_, err := f.ledger.Execute(newTx(t, txRejectFirst, unfunded, 5_000))
	assert.ErrorIs(t, err, errBoom)
	_, err = f.ledger.Execute(newTx(t, txPayHalf, unfunded, 5_000))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)

	_, err = f.ledger.Execute(newTx(t, txPayNoEscrow, player, 100))
	require.Error(t, err)
	assert.Equal(t, uint64(1_000), f.balance(t, player))
	assert.Zero(t, f.balance(t, treasury))
	assert.Equal(t, uint64(0), f.ledger.Journal().Height())
}

func TestUnknownTxType(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Execute(newTx(t, "no_such_type", player, 10))
	assert.ErrorIs(t, err, vm.ErrUnknownTxType)
	assert.Equal(t, uint64(1_000), f.balance(t, player))
}

func TestRegistry(t *testing.T) {
	r := vm.NewRegistry()
	r.Register("b", func(*vm.Context, json.RawMessage) error { return nil })
	r.Register("a", func(*vm.Context, json.RawMessage) error { return nil })
	assert.Equal(t, []core.TxType{"a", "b"}, r.Types())
	assert.Panics(t, func() {
		r.Register("a", func(*vm.Context, json.RawMessage) error { return nil })
	})
	assert.Contains(t, vm.RegisteredTypes(), txPayHalf)
}

func TestCreditOverflow(t *testing.T) {
	st := testutil.NewStateDB()
	require.NoError(t, st.SetAccount(&core.Account{Address: player, Balance: ^uint64(0)}))
	assert.ErrorIs(t, vm.Credit(st, player, 1), core.ErrOverflow)
	assert.ErrorIs(t, vm.Debit(st, treasury, 1), core.ErrInsufficientBalance)
}
