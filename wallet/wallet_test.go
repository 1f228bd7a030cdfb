package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/rescuechain/crypto"
)

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "node.key")

	require.NoError(t, SaveKey(path, "hunter2", w.PrivKey()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	priv, err := LoadKey(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, w.Address(), crypto.Address(priv))

	_, err = LoadKey(path, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

// TestSignScoreRecoversSigner verifies that a wallet's score attestation is
// attributed to the wallet.
func TestSignScoreRecoversSigner(t *testing.T) {
	server, err := Generate()
	require.NoError(t, err)
	player := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	sig, err := server.SignScore(player, 1, 0, 1200, 7)
	require.NoError(t, err)

	att := crypto.ScoreAttestation{Player: player, LevelID: 1, AnimalID: 0, Score: 1200, Nonce: 7}
	got, err := att.Signer(sig)
	require.NoError(t, err)
	assert.Equal(t, server.Address(), got)
}

func TestSignMessage(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	sig, err := w.SignMessage([]byte("login"))
	require.NoError(t, err)
	got, err := crypto.RecoverMessage([]byte("login"), sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), got)
}
