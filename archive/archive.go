// Package archive copies every committed ledger event into Postgres for
// reporting. Pending payouts themselves live in ledger state; the archive
// is a queryable copy.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tolelom/rescuechain/events"
)

const (
	queueSize    = 4096
	writeTimeout = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	tx_id       TEXT NOT NULL,
	height      BIGINT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	data        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_events_type_idx ON ledger_events (type, height);
`

const insertEvent = `
INSERT INTO ledger_events (id, type, tx_id, height, occurred_at, data)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

// Execer is the subset of pgx the sink uses. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Sink receives every event and writes it to ledger_events from a background
// worker.
type Sink struct {
	db    Execer
	queue chan events.Event
	log   log.Logger
}

// Open connects a pool to dsn and verifies it.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// New creates a Sink and subscribes it to all events. Call Migrate once and
// then Run.
func New(db Execer, emitter *events.Emitter) *Sink {
	s := &Sink{
		db:    db,
		queue: make(chan events.Event, queueSize),
		log:   log.New("module", "archive"),
	}
	emitter.SubscribeAll(s.enqueue)
	return s
}

// Migrate creates the events table when missing.
func (s *Sink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger_events: %w", err)
	}
	return nil
}

// enqueue hands ev to the worker. When the queue is full, withdrawals are
// written synchronously and everything else is dropped.
func (s *Sink) enqueue(ev events.Event) {
	select {
	case s.queue <- ev:
		return
	default:
	}
	if ev.Type != events.EventWithdrawal {
		s.log.Warn("Archive queue full, dropping event", "type", ev.Type, "tx", ev.TxID)
		return
	}
	s.write(ev)
}

// Run writes queued events until ctx is cancelled, then writes whatever is
// still queued before returning.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case ev := <-s.queue:
			s.write(ev)
		}
	}
}

func (s *Sink) drain() {
	n := 0
	for {
		select {
		case ev := <-s.queue:
			s.write(ev)
			n++
		default:
			if n > 0 {
				s.log.Info("Archive queue drained", "events", n)
			}
			return
		}
	}
}

// write records ev under its own deadline so that shutdown does not abort
// writes already taken off the queue.
func (s *Sink) write(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.Record(ctx, ev); err != nil {
		if ev.Type == events.EventWithdrawal {
			s.log.Error("Archive write failed", "type", ev.Type, "tx", ev.TxID, "err", err)
			return
		}
		s.log.Warn("Archive write failed", "type", ev.Type, "tx", ev.TxID, "err", err)
	}
}

// Record inserts ev. Re-recording the same event id is a no-op.
func (s *Sink) Record(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	_, err = s.db.Exec(ctx, insertEvent,
		ev.ID, string(ev.Type), ev.TxID, int64(ev.Height), time.Unix(ev.Timestamp, 0).UTC(), data)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}
