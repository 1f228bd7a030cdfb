package indexer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/internal/testutil"
	"github.com/tolelom/rescuechain/storage"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

func TestOwnerIndex(t *testing.T) {
	emitter := events.NewEmitter()
	idx := New(testutil.NewMemDB(), emitter)

	emitter.Emit(events.Event{Type: events.EventAssetIssued, Data: map[string]any{"animal_id": uint64(0), "owner": alice.Hex()}})
	emitter.Emit(events.Event{Type: events.EventAssetIssued, Data: map[string]any{"animal_id": uint64(1), "owner": alice.Hex()}})
	// Duplicate delivery is harmless.
	emitter.Emit(events.Event{Type: events.EventAssetIssued, Data: map[string]any{"animal_id": uint64(1), "owner": alice.Hex()}})

	ids, err := idx.AnimalsByOwner(alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, ids)

	emitter.Emit(events.Event{Type: events.EventAssetTransfer, Data: map[string]any{
		"animal_id": uint64(0), "from": alice.Hex(), "to": bob.Hex(),
	}})
	ids, err = idx.AnimalsByOwner(alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)
	ids, err = idx.AnimalsByOwner(bob)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids)
}

func TestRescuerIndex(t *testing.T) {
	emitter := events.NewEmitter()
	idx := New(testutil.NewMemDB(), emitter)

	ids, err := idx.MissionsByRescuer(bob)
	require.NoError(t, err)
	assert.Empty(t, ids)

	emitter.Emit(events.Event{Type: events.EventMissionCompleted, Data: map[string]any{"mission_id": uint64(4), "rescuer": bob.Hex()}})
	// Lowercase and checksummed forms index the same account.
	ids, err = idx.MissionsByRescuer(common.HexToAddress("0x0000000000000000000000000000000000000b0b"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, ids)
}

func TestMalformedEventsIgnored(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	New(db, emitter)

	emitter.Emit(events.Event{Type: events.EventAssetIssued, Data: map[string]any{"animal_id": "0", "owner": alice.Hex()}})
	emitter.Emit(events.Event{Type: events.EventAssetIssued, Data: map[string]any{"animal_id": uint64(0), "owner": "nobody"}})
	assert.Zero(t, db.Len())
}

func TestRebuildFromState(t *testing.T) {
	db := testutil.NewMemDB()
	st := storage.NewStateDB(db)
	carol := common.HexToAddress("0x00000000000000000000000000000000000CA201")

	for _, owner := range []common.Address{alice, bob, alice} {
		id, err := st.NextSequence(core.SeqAnimal)
		require.NoError(t, err)
		require.NoError(t, st.SetAnimal(&core.Animal{ID: id, Owner: owner, Level: 1}))
	}
	for i := 0; i < 2; i++ {
		id, err := st.NextSequence(core.SeqMission)
		require.NoError(t, err)
		m := &core.Mission{ID: id, Fee: 1, State: core.MissionOpen}
		if i == 1 {
			m.State = core.MissionCompleted
			m.Rescuer = &bob
		}
		require.NoError(t, st.SetMission(m))
	}
	require.NoError(t, st.Commit())

	idx := New(db, events.NewEmitter())
	// A failed update left the index out of step with state.
	require.NoError(t, db.Set([]byte(key(prefixOwnerAnimals, alice)), []byte("not json")))
	require.NoError(t, db.Set([]byte(key(prefixOwnerAnimals, carol)), []byte("[1]")))
	_, err := idx.AnimalsByOwner(alice)
	require.Error(t, err)

	require.NoError(t, idx.Rebuild(st))

	ids, err := idx.AnimalsByOwner(alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 2}, ids)
	ids, err = idx.AnimalsByOwner(bob)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)
	ids, err = idx.AnimalsByOwner(carol)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = idx.MissionsByRescuer(bob)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)

	// State itself is untouched.
	a, err := st.GetAnimal(2)
	require.NoError(t, err)
	assert.Equal(t, alice, a.Owner)
}
