package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an R || S || V signature.
const SignatureLength = 65

// ErrMalformedSignature is returned when a signature cannot be parsed or no
// public key can be recovered from it.
var ErrMalformedSignature = errors.New("malformed signature")

// SignMessage signs msg under the personal-message prefix
// ("\x19Ethereum Signed Message:\n" + len(msg)) and returns R || S || V with
// V in {27, 28}.
func SignMessage(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), priv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverMessage returns the address that produced sig over the prefixed msg.
// V may be 0/1 or 27/28. Recovery never compares against an expected signer:
// a signature over different bytes yields an unrelated address, not an error.
func RecoverMessage(msg, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	cp := make([]byte, SignatureLength)
	copy(cp, sig)
	switch cp[64] {
	case 27, 28:
		cp[64] -= 27
	case 0, 1:
	default:
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, sig[64])
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
