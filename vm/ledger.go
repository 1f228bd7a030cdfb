package vm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/events"
)

// ErrNoGenesis is returned by Execute before the genesis entry exists.
var ErrNoGenesis = errors.New("ledger has no genesis entry")

// Ledger applies transactions to the state one at a time. Every operation
// runs inside a single critical section: snapshot, handler, journal append,
// state commit, event delivery. A failure anywhere before the commit
// restores the snapshot, so no partial effect is ever observable.
type Ledger struct {
	mu      sync.RWMutex
	state   core.State
	journal *core.Journal
	emitter *events.Emitter
	key     *ecdsa.PrivateKey
	now     func() time.Time
	log     log.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used for expiry and timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger. key signs journal entries; emitter may be nil.
func NewLedger(state core.State, journal *core.Journal, emitter *events.Emitter, key *ecdsa.PrivateKey, opts ...Option) *Ledger {
	l := &Ledger{
		state:   state,
		journal: journal,
		emitter: emitter,
		key:     key,
		now:     time.Now,
		log:     log.New("module", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger clock reading.
func (l *Ledger) Now() time.Time { return l.now() }

// Journal returns the audit journal.
func (l *Ledger) Journal() *core.Journal { return l.journal }

// InitGenesis seeds a fresh ledger by running seed and appending entry #0.
// It reports false without touching state when a genesis entry exists.
func (l *Ledger) InitGenesis(tx *core.Transaction, seed func(st core.State) error) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.journal.Tip() != nil {
		return false, nil
	}
	snapID, err := l.state.Snapshot()
	if err != nil {
		return false, fmt.Errorf("snapshot: %w", err)
	}
	if err := seed(l.state); err != nil {
		l.revert(snapID, err)
		return false, fmt.Errorf("seed genesis: %w", err)
	}
	if _, err := l.commit(tx); err != nil {
		l.revert(snapID, err)
		return false, err
	}
	l.log.Info("Genesis committed", "hash", l.journal.Tip().Hash, "root", l.journal.Tip().Header.StateRoot)
	return true, nil
}

// Execute applies tx atomically and returns its receipt. Rejected
// transactions leave state untouched and return the handler's error.
func (l *Ledger) Execute(tx *core.Transaction) (*core.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.journal.Tip() == nil {
		return nil, ErrNoGenesis
	}
	snapID, err := l.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx, err := l.apply(tx)
	if err != nil {
		l.revert(snapID, err)
		l.log.Debug("Transaction rejected", "tx", tx.ID, "type", tx.Type, "from", tx.From, "reason", core.Reason(err), "err", err)
		return nil, err
	}
	entry, err := l.commit(tx)
	if err != nil {
		l.revert(snapID, err)
		l.log.Error("Commit failed", "tx", tx.ID, "type", tx.Type, "err", err)
		return nil, err
	}

	if l.emitter != nil {
		for _, ev := range ctx.events {
			l.emitter.Emit(ev)
		}
		l.emitter.Emit(events.Event{
			Type:   events.EventTxExecuted,
			TxID:   tx.ID,
			Height: entry.Header.Height,
			Data:   map[string]any{"type": string(tx.Type), "from": tx.From.Hex(), "value": tx.Value},
		})
	}
	l.log.Debug("Transaction committed", "tx", tx.ID, "type", tx.Type, "height", entry.Header.Height)
	return &core.Receipt{
		TxID:      tx.ID,
		Height:    entry.Header.Height,
		StateRoot: entry.Header.StateRoot,
		Result:    ctx.result,
	}, nil
}

// View runs fn against committed state under the read lock. fn must not
// write to st.
func (l *Ledger) View(fn func(st core.State) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(l.state)
}

// apply runs the handler, then returns any escrow the handler collected but
// left unspent.
func (l *Ledger) apply(tx *core.Transaction) (*Context, error) {
	auth, err := l.state.GetAuthority()
	if err != nil {
		return nil, fmt.Errorf("load authority: %w", err)
	}
	params, err := l.state.GetParams()
	if err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	height, _ := l.journal.Next()
	ctx := &Context{
		State:     l.state,
		Tx:        tx,
		Authority: *auth,
		Params:    *params,
		Now:       l.now(),
		Height:    height,
	}
	if err := globalRegistry.Execute(tx.Type, ctx, tx.Payload); err != nil {
		return nil, err
	}
	if _, err := ctx.Refund(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// commit appends a signed journal entry over the pending state root and
// flushes the state buffer.
func (l *Ledger) commit(tx *core.Transaction) (*core.Entry, error) {
	height, prev := l.journal.Next()
	entry := core.NewEntry(height, prev, tx, l.state.ComputeRoot())
	if err := entry.Sign(l.key); err != nil {
		return nil, err
	}
	if err := l.journal.Append(entry); err != nil {
		return nil, err
	}
	if err := l.state.Commit(); err != nil {
		return nil, fmt.Errorf("commit state after entry %d: %w", height, err)
	}
	return entry, nil
}

func (l *Ledger) revert(snapID int, cause error) {
	if err := l.state.RevertToSnapshot(snapID); err != nil {
		l.log.Error("Revert failed", "cause", cause, "err", err)
	}
}
