package core_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/crypto"
	"github.com/tolelom/rescuechain/internal/testutil"
	"github.com/tolelom/rescuechain/storage"
)

func signedEntry(t *testing.T, j *core.Journal, txID string) *core.Entry {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	height, prev := j.Next()
	e := core.NewEntry(height, prev, &core.Transaction{ID: txID, Type: core.TxDeposit}, "root-"+txID)
	require.NoError(t, e.Sign(key))
	return e
}

// TestJournalChain verifies height continuity and hash linkage across
// appends, and that a reopened journal resumes from its tip.
func TestJournalChain(t *testing.T) {
	db := testutil.NewMemDB()
	j := core.NewJournal(storage.NewJournalStore(db))
	require.NoError(t, j.Init())
	assert.Nil(t, j.Tip())

	g := signedEntry(t, j, "genesis")
	assert.Equal(t, uint64(0), g.Header.Height)
	assert.Equal(t, core.GenesisHash, g.Header.PrevHash)
	require.NoError(t, j.Append(g))

	e1 := signedEntry(t, j, "tx1")
	assert.Equal(t, uint64(1), e1.Header.Height)
	assert.Equal(t, g.Hash, e1.Header.PrevHash)
	require.NoError(t, j.Append(e1))
	assert.Equal(t, uint64(1), j.Height())

	reopened := core.NewJournal(storage.NewJournalStore(db))
	require.NoError(t, reopened.Init())
	require.NotNil(t, reopened.Tip())
	assert.Equal(t, e1.Hash, reopened.Tip().Hash)

	got, err := reopened.GetEntry(0)
	require.NoError(t, err)
	assert.NoError(t, got.Verify())
}

func TestJournalRejectsBrokenLinks(t *testing.T) {
	j := testutil.NewJournal()
	require.NoError(t, j.Append(signedEntry(t, j, "genesis")))

	wrongHeight := signedEntry(t, j, "a")
	wrongHeight.Header.Height = 5
	wrongHeight.Hash = wrongHeight.ComputeHash()
	assert.Error(t, j.Append(wrongHeight))

	wrongPrev := signedEntry(t, j, "b")
	wrongPrev.Header.PrevHash = core.GenesisHash
	wrongPrev.Hash = wrongPrev.ComputeHash()
	assert.Error(t, j.Append(wrongPrev))

	tampered := signedEntry(t, j, "c")
	tampered.Header.Value = 99
	assert.Error(t, j.Append(tampered))

	assert.Equal(t, uint64(0), j.Height())
}

func TestEntryVerify(t *testing.T) {
	j := testutil.NewJournal()
	e := signedEntry(t, j, "genesis")
	require.NoError(t, e.Verify())

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	e.Header.Signer = crypto.Address(other)
	e.Hash = e.ComputeHash()
	assert.ErrorIs(t, e.Verify(), core.ErrInvalidSignature)
}

func TestReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{core.ErrMissionAlreadyCompleted, "MissionAlreadyCompleted"},
		{fmt.Errorf("mission 3: %w", core.ErrNotFound), "NotFound"},
		{fmt.Errorf("%w: expected 1, got 0", core.ErrReplayedOrStaleNonce), "ReplayedOrStaleNonce"},
		{crypto.ErrMalformedSignature, "MalformedSignature"},
		{errors.New("disk on fire"), "Internal"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, core.Reason(c.err))
	}
	assert.True(t, core.IsRejection(core.ErrInsufficientPayment))
	assert.False(t, core.IsRejection(errors.New("boom")))
	assert.False(t, core.IsRejection(nil))
}

func TestMissionActive(t *testing.T) {
	m := &core.Mission{State: core.MissionOpen, ExpiresAt: 100}
	assert.True(t, m.Active(unix(99)))
	assert.False(t, m.Active(unix(100)))
	m.State = core.MissionCompleted
	assert.False(t, m.Active(unix(50)))
}

func unix(sec int64) time.Time { return time.Unix(sec, 0) }
