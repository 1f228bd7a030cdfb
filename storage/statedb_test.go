package storage_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/internal/testutil"
	"github.com/tolelom/rescuechain/storage"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func TestAccountDefaults(t *testing.T) {
	st := testutil.NewStateDB()

	acc, err := st.GetAccount(alice)
	require.NoError(t, err)
	assert.Equal(t, &core.Account{Address: alice}, acc)

	stats, err := st.GetStats(alice)
	require.NoError(t, err)
	assert.Equal(t, &core.PlayerStats{}, stats)

	params, err := st.GetParams()
	require.NoError(t, err)
	assert.Equal(t, core.DefaultParams(), *params)

	_, err = st.GetMission(0)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = st.GetAuthority()
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSequences(t *testing.T) {
	st := testutil.NewStateDB()

	n, err := st.PeekSequence(core.SeqMission)
	require.NoError(t, err)
	assert.Zero(t, n)

	for want := uint64(0); want < 3; want++ {
		got, err := st.NextSequence(core.SeqMission)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	n, err = st.PeekSequence(core.SeqMission)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	other, err := st.NextSequence(core.SeqAnimal)
	require.NoError(t, err)
	assert.Zero(t, other)
}

// TestSnapshotRevert verifies that reverting discards every write made after
// the snapshot, including sequence advances.
func TestSnapshotRevert(t *testing.T) {
	st := testutil.NewStateDB()
	require.NoError(t, st.SetAccount(&core.Account{Address: alice, Balance: 100}))
	root := st.ComputeRoot()

	snap, err := st.Snapshot()
	require.NoError(t, err)
	require.NoError(t, st.SetAccount(&core.Account{Address: alice, Balance: 1}))
	_, err = st.NextSequence(core.SeqAnimal)
	require.NoError(t, err)
	require.NoError(t, st.SetAnimal(&core.Animal{ID: 0, Owner: alice, Level: 1}))
	assert.NotEqual(t, root, st.ComputeRoot())

	require.NoError(t, st.RevertToSnapshot(snap))
	acc, err := st.GetAccount(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acc.Balance)
	_, err = st.GetAnimal(0)
	assert.ErrorIs(t, err, core.ErrNotFound)
	n, err := st.PeekSequence(core.SeqAnimal)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, root, st.ComputeRoot())

	assert.Error(t, st.RevertToSnapshot(snap))
}

// TestPlayLifecycle verifies that a deleted play is gone after commit and
// comes back when the deletion is reverted.
func TestPlayLifecycle(t *testing.T) {
	db := testutil.NewMemDB()
	st := storage.NewStateDB(db)
	_, err := st.GetPlay(alice)
	assert.ErrorIs(t, err, core.ErrNotFound)

	p := &core.Play{Player: alice, LevelID: 1, AnimalID: 3, Fee: 10, StartedAt: 42}
	require.NoError(t, st.SetPlay(p))
	require.NoError(t, st.Commit())
	root := st.ComputeRoot()

	snap, err := st.Snapshot()
	require.NoError(t, err)
	require.NoError(t, st.DeletePlay(alice))
	_, err = st.GetPlay(alice)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NotEqual(t, root, st.ComputeRoot())
	require.NoError(t, st.RevertToSnapshot(snap))
	got, err := st.GetPlay(alice)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, root, st.ComputeRoot())

	require.NoError(t, st.DeletePlay(alice))
	require.NoError(t, st.Commit())
	_, err = storage.NewStateDB(db).GetPlay(alice)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDailyRescuesAndPayouts(t *testing.T) {
	st := testutil.NewStateDB()
	n, err := st.GetDailyRescues(alice, 19_000)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, st.SetDailyRescues(alice, 19_000, 4))
	n, err = st.GetDailyRescues(alice, 19_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
	n, err = st.GetDailyRescues(alice, 19_001)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = st.GetPayout(0)
	assert.ErrorIs(t, err, core.ErrNotFound)
	po := &core.Payout{ID: 0, Account: alice, Amount: 25, RequestedAt: 7}
	require.NoError(t, st.SetPayout(po))
	got, err := st.GetPayout(0)
	require.NoError(t, err)
	assert.Equal(t, po, got)
}

// TestCommitPersists verifies that committed writes survive a fresh StateDB
// over the same DB and that the root is independent of buffering.
func TestCommitPersists(t *testing.T) {
	db := testutil.NewMemDB()
	st := storage.NewStateDB(db)
	m := &core.Mission{ID: 0, AnimalName: "Pip", Fee: 10, ExpiresAt: 100, State: core.MissionOpen}
	require.NoError(t, st.SetMission(m))
	require.NoError(t, st.SetLevel(&core.Level{ID: 1, Name: "Forest", Difficulty: 2}))
	require.NoError(t, st.SetAuthority(&core.Authority{Controller: alice}))
	before := st.ComputeRoot()
	require.NoError(t, st.Commit())

	fresh := storage.NewStateDB(db)
	got, err := fresh.GetMission(0)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	auth, err := fresh.GetAuthority()
	require.NoError(t, err)
	assert.Equal(t, alice, auth.Controller)
	assert.Equal(t, before, fresh.ComputeRoot())
}

func TestComputeRootDeterministic(t *testing.T) {
	a := testutil.NewStateDB()
	b := testutil.NewStateDB()
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	require.NoError(t, a.SetAccount(&core.Account{Address: alice, Balance: 1}))
	require.NoError(t, a.SetAccount(&core.Account{Address: bob, Balance: 2}))
	require.NoError(t, b.SetAccount(&core.Account{Address: bob, Balance: 2}))
	require.NoError(t, b.SetAccount(&core.Account{Address: alice, Balance: 1}))
	assert.Equal(t, a.ComputeRoot(), b.ComputeRoot())

	require.NoError(t, b.SetStats(alice, &core.PlayerStats{HighScore: 1}))
	assert.NotEqual(t, a.ComputeRoot(), b.ComputeRoot())
}

func TestJournalStore(t *testing.T) {
	store := storage.NewJournalStore(testutil.NewMemDB())

	_, ok, err := store.GetTip()
	require.NoError(t, err)
	assert.False(t, ok)

	e := &core.Entry{Header: core.EntryHeader{Height: 0, PrevHash: core.GenesisHash, TxID: "genesis"}}
	e.Hash = e.ComputeHash()
	require.NoError(t, store.CommitEntry(e))

	tip, ok, err := store.GetTip()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, tip)

	got, err := store.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, e.Hash, got.Hash)

	_, err = store.GetEntry(1)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLevelDB(t *testing.T) {
	db, err := storage.NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("missing"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	batch := db.NewBatch()
	batch.Set([]byte("p:a"), []byte("1"))
	batch.Set([]byte("p:b"), []byte("2"))
	batch.Set([]byte("q:c"), []byte("3"))
	require.NoError(t, batch.Write())

	it := db.NewIterator([]byte("p:"))
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	it.Release()
	require.NoError(t, it.Error())
	assert.Equal(t, []string{"p:a", "p:b"}, keys)
}
