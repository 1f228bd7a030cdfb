package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// ScoreProtocolVersion names the frozen layout of ScoreAttestation.Digest.
// Game servers and the ledger must agree on it; any change to field order or
// widths requires a new version.
const ScoreProtocolVersion = "score-v1"

// ScoreAttestation is the tuple a trusted game server signs to vouch for a
// completed level.
type ScoreAttestation struct {
	Player   common.Address `json:"player"`
	LevelID  uint64         `json:"level_id"`
	AnimalID uint64         `json:"animal_id"`
	Score    uint64         `json:"score"`
	Nonce    uint64         `json:"nonce"`
}

// Digest returns keccak256(player || levelId || animalId || score || nonce)
// with the address packed to 20 bytes and each integer as a 32-byte
// big-endian word.
func (a ScoreAttestation) Digest() []byte {
	return HashBytes(a.Player.Bytes(), word(a.LevelID), word(a.AnimalID), word(a.Score), word(a.Nonce))
}

// Sign produces the personal-message signature over Digest.
func (a ScoreAttestation) Sign(priv *ecdsa.PrivateKey) ([]byte, error) {
	return SignMessage(priv, a.Digest())
}

// Signer recovers the address that signed this attestation.
func (a ScoreAttestation) Signer(sig []byte) (common.Address, error) {
	return RecoverMessage(a.Digest(), sig)
}

func word(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return common.LeftPadBytes(b[:], 32)
}
