package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSignRecover verifies that a signed message recovers to its signer for
// both recovery id encodings.
func TestSignRecover(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	msg := []byte("hello rescue")

	sig, err := SignMessage(priv, msg)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := RecoverMessage(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, Address(priv), got)

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	got, err = RecoverMessage(msg, raw)
	require.NoError(t, err)
	assert.Equal(t, Address(priv), got)
}

// TestRecoverDifferentMessage verifies that recovery over other bytes yields
// an unrelated address rather than an error.
func TestRecoverDifferentMessage(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	sig, err := SignMessage(priv, []byte("original"))
	require.NoError(t, err)

	got, err := RecoverMessage([]byte("tampered"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, Address(priv), got)
}

func TestRecoverMalformed(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	sig, err := SignMessage(priv, []byte("m"))
	require.NoError(t, err)

	_, err = RecoverMessage([]byte("m"), sig[:64])
	assert.ErrorIs(t, err, ErrMalformedSignature)

	bad := append([]byte(nil), sig...)
	bad[64] = 5
	_, err = RecoverMessage([]byte("m"), bad)
	assert.ErrorIs(t, err, ErrMalformedSignature)

	_, err = RecoverMessage([]byte("m"), make([]byte, SignatureLength))
	assert.ErrorIs(t, err, ErrMalformedSignature)
}

// TestScoreAttestationBinding verifies that changing any bound field changes
// the recovered signer.
func TestScoreAttestationBinding(t *testing.T) {
	signer, err := GenerateKey()
	require.NoError(t, err)
	player := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	att := ScoreAttestation{Player: player, LevelID: 1, AnimalID: 2, Score: 500, Nonce: 0}
	sig, err := att.Sign(signer)
	require.NoError(t, err)

	got, err := att.Signer(sig)
	require.NoError(t, err)
	assert.Equal(t, Address(signer), got)

	variants := map[string]ScoreAttestation{
		"player": {Player: common.HexToAddress("0x00000000000000000000000000000000000000bb"), LevelID: 1, AnimalID: 2, Score: 500},
		"level":  {Player: player, LevelID: 2, AnimalID: 2, Score: 500},
		"animal": {Player: player, LevelID: 1, AnimalID: 3, Score: 500},
		"score":  {Player: player, LevelID: 1, AnimalID: 2, Score: 501},
		"nonce":  {Player: player, LevelID: 1, AnimalID: 2, Score: 500, Nonce: 1},
		"order":  {Player: player, LevelID: 2, AnimalID: 1, Score: 500},
	}
	for name, v := range variants {
		t.Run(name, func(t *testing.T) {
			got, err := v.Signer(sig)
			require.NoError(t, err)
			assert.NotEqual(t, Address(signer), got)
		})
	}
}

func TestScoreDigestLayout(t *testing.T) {
	att := ScoreAttestation{
		Player:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		LevelID:  1,
		AnimalID: 2,
		Score:    3,
		Nonce:    4,
	}
	packed := append([]byte(nil), att.Player.Bytes()...)
	for _, v := range []uint64{1, 2, 3, 4} {
		w := make([]byte, 32)
		w[31] = byte(v)
		packed = append(packed, w...)
	}
	require.Len(t, packed, 20+4*32)
	assert.Equal(t, HashBytes(packed), att.Digest())
}

func TestPrivKeyHexRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	back, err := PrivKeyFromHex("0x" + PrivKeyHex(priv))
	require.NoError(t, err)
	assert.Equal(t, Address(priv), Address(back))

	_, err = PrivKeyFromHex("zz")
	assert.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), addr)

	_, err = ParseAddress("0x0000000000000000000000000000000000000000")
	assert.Error(t, err)
	_, err = ParseAddress("not-an-address")
	assert.Error(t, err)
}

func TestHash(t *testing.T) {
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Hash(nil))
	assert.Len(t, HashBytes([]byte("a"), []byte("b")), 32)
	assert.Equal(t, HashBytes([]byte("ab")), HashBytes([]byte("a"), []byte("b")))
}
