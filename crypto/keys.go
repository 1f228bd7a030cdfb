package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// GenerateKey generates a new secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// Address returns the account address controlled by priv.
func Address(priv *ecdsa.PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(priv.PublicKey)
}

// PrivKeyHex returns the hex-encoded 32-byte private key without 0x prefix.
func PrivKeyHex(priv *ecdsa.PrivateKey) string {
	return hex.EncodeToString(ethcrypto.FromECDSA(priv))
}

// PrivKeyFromHex decodes a hex-encoded private key. A 0x prefix is accepted.
func PrivKeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	priv, err := ethcrypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid privkey hex: %w", err)
	}
	return priv, nil
}

// PrivKeyFromBytes decodes a raw 32-byte private key.
func PrivKeyFromBytes(b []byte) (*ecdsa.PrivateKey, error) {
	priv, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("invalid privkey: %w", err)
	}
	return priv, nil
}

// ParseAddress parses a 0x-prefixed hex account address. The zero address
// is rejected.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}
