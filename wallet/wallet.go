package wallet

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/rescuechain/crypto"
)

// Wallet holds a secp256k1 key and signs protocol messages with it.
type Wallet struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

// New creates a Wallet from an existing private key.
func New(priv *ecdsa.PrivateKey) *Wallet {
	return &Wallet{priv: priv, addr: crypto.Address(priv)}
}

// Generate creates a Wallet with a freshly generated key.
func Generate() (*Wallet, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() *ecdsa.PrivateKey {
	return w.priv
}

// Address returns the account address of the wallet.
func (w *Wallet) Address() common.Address {
	return w.addr
}

// SignScore attests a level result for player. Only a wallet holding the
// ledger's trusted signer key produces attestations the ledger accepts.
func (w *Wallet) SignScore(player common.Address, levelID, animalID, score, nonce uint64) ([]byte, error) {
	return crypto.ScoreAttestation{
		Player:   player,
		LevelID:  levelID,
		AnimalID: animalID,
		Score:    score,
		Nonce:    nonce,
	}.Sign(w.priv)
}

// SignMessage signs msg under the personal-message prefix.
func (w *Wallet) SignMessage(msg []byte) ([]byte, error) {
	return crypto.SignMessage(w.priv, msg)
}
