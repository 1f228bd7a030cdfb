package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDelivers(t *testing.T) {
	e := NewEmitter()
	var typed, all []Event
	e.Subscribe(EventMissionCreated, func(ev Event) { typed = append(typed, ev) })
	e.SubscribeAll(func(ev Event) { all = append(all, ev) })

	e.Emit(Event{Type: EventMissionCreated, Data: map[string]any{"mission_id": uint64(0)}})
	e.Emit(Event{Type: EventDeposit, Timestamp: 42})

	require.Len(t, typed, 1)
	require.Len(t, all, 2)
	assert.True(t, strings.HasPrefix(typed[0].ID, "evt_"))
	assert.NotZero(t, typed[0].Timestamp)
	assert.Equal(t, int64(42), all[1].Timestamp)
	assert.Equal(t, uint64(0), typed[0].Data["mission_id"])
}

func TestEmitRecoversPanic(t *testing.T) {
	e := NewEmitter()
	called := false
	e.Subscribe(EventDeposit, func(Event) { panic("boom") })
	e.Subscribe(EventDeposit, func(Event) { called = true })

	assert.NotPanics(t, func() { e.Emit(Event{Type: EventDeposit}) })
	assert.True(t, called)
}
