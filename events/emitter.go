package events

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// EventType labels what happened.
type EventType string

const (
	EventTxExecuted       EventType = "tx_executed"
	EventMissionCreated   EventType = "mission_created"
	EventMissionCompleted EventType = "mission_completed"
	EventAssetIssued      EventType = "asset_issued"
	EventAssetTransfer    EventType = "asset_transferred"
	EventScoreAccepted    EventType = "score_accepted"
	EventAnimalLeveled    EventType = "animal_leveled"
	EventExperience       EventType = "experience_gained"
	EventLevelCreated     EventType = "level_created"
	EventSignerChanged    EventType = "signer_changed"
	EventMintPriceChanged EventType = "mint_price_changed"
	EventDeposit          EventType = "deposit"
	EventWithdrawal       EventType = "withdrawal"
	EventPayoutSettled    EventType = "payout_settled"
	EventLevelStarted     EventType = "level_started"
)

// Event carries a typed payload emitted after a state change is committed.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	TxID      string         `json:"tx_id"`
	Height    uint64         `json:"height"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit stamps ev with an ID and timestamp when missing and delivers it to all
// matching subscribers synchronously. Each handler is guarded by panic
// recovery so a misbehaving subscriber cannot fail the ledger.
func (e *Emitter) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = "evt_" + uuid.NewString()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("Event handler panicked", "type", ev.Type, "err", r)
				}
			}()
			h(ev)
		}()
	}
}
