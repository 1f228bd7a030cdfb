package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/rescuechain/events"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	mu    sync.Mutex
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := ctx.Err(); err != nil {
		return pgconn.CommandTag{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeExecer) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestMigrate(t *testing.T) {
	db := &fakeExecer{}
	s := New(db, events.NewEmitter())
	require.NoError(t, s.Migrate(context.Background()))
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "CREATE TABLE IF NOT EXISTS ledger_events")
}

func TestRecord(t *testing.T) {
	db := &fakeExecer{}
	s := New(db, events.NewEmitter())
	ev := events.Event{
		ID:        "evt_1",
		Type:      events.EventMissionCompleted,
		TxID:      "tx_1",
		Height:    7,
		Timestamp: 1_700_000_000,
		Data:      map[string]any{"mission_id": uint64(3)},
	}
	require.NoError(t, s.Record(context.Background(), ev))

	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	require.Len(t, args, 6)
	assert.Equal(t, "evt_1", args[0])
	assert.Equal(t, "mission_completed", args[1])
	assert.Equal(t, "tx_1", args[2])
	assert.Equal(t, int64(7), args[3])
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), args[4])
	assert.JSONEq(t, `{"mission_id":3}`, string(args[5].([]byte)))
}

func TestRecordError(t *testing.T) {
	db := &fakeExecer{err: errors.New("connection refused")}
	s := New(db, events.NewEmitter())
	err := s.Record(context.Background(), events.Event{ID: "evt_x", Data: map[string]any{}})
	assert.ErrorContains(t, err, "connection refused")
}

func TestRunArchivesEmittedEvents(t *testing.T) {
	db := &fakeExecer{}
	emitter := events.NewEmitter()
	s := New(db, emitter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	emitter.Emit(events.Event{Type: events.EventDeposit, Data: map[string]any{"amount": uint64(5)}})
	emitter.Emit(events.Event{Type: events.EventTxExecuted, Data: map[string]any{}})
	assert.Eventually(t, func() bool { return db.len() == 2 }, time.Second, 10*time.Millisecond)

	db.mu.Lock()
	defer db.mu.Unlock()
	var data map[string]any
	require.NoError(t, json.Unmarshal(db.calls[0].args[5].([]byte), &data))
	assert.Equal(t, float64(5), data["amount"])
}

func TestRunDrainsQueueOnCancel(t *testing.T) {
	db := &fakeExecer{}
	emitter := events.NewEmitter()
	s := New(db, emitter)

	for i := 0; i < 5; i++ {
		emitter.Emit(events.Event{Type: events.EventWithdrawal, Data: map[string]any{"amount": uint64(i + 1)}})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 5, db.len())
	assert.Empty(t, s.queue)
}

func TestFullQueueKeepsWithdrawals(t *testing.T) {
	db := &fakeExecer{}
	emitter := events.NewEmitter()
	_ = New(db, emitter)

	for i := 0; i < queueSize; i++ {
		emitter.Emit(events.Event{Type: events.EventTxExecuted, Data: map[string]any{}})
	}
	require.Zero(t, db.len())

	// Without a running worker the queue is full: other events are dropped
	// and withdrawals are written on the spot.
	emitter.Emit(events.Event{Type: events.EventDeposit, Data: map[string]any{"amount": uint64(1)}})
	assert.Zero(t, db.len())
	emitter.Emit(events.Event{ID: "evt_w", Type: events.EventWithdrawal, Data: map[string]any{"payout_id": uint64(0)}})
	require.Equal(t, 1, db.len())
	assert.Equal(t, "evt_w", db.calls[0].args[0])
	assert.Equal(t, "withdrawal", db.calls[0].args[1])
}
