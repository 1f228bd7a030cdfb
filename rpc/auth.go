package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tolelom/rescuechain/crypto"
)

const (
	tokenIssuer = "rescuechain"
	// LoginWindow bounds how far a signed login message may be from now.
	LoginWindow = 5 * time.Minute
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrLoginExpired = errors.New("login message outside allowed window")
	ErrLoginSigner  = errors.New("login signature does not match address")
)

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller address.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the authenticated caller stored in ctx.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// Authenticator issues and verifies HS256 bearer tokens whose subject is the
// caller's account address.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator. An empty secret is rejected.
func NewAuthenticator(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for addr.
func (a *Authenticator) Issue(addr common.Address) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   addr.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses token and returns the caller address in its subject.
func (a *Authenticator) Verify(token string) (common.Address, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || !common.IsHexAddress(claims.Subject) {
		return common.Address{}, ErrInvalidToken
	}
	return common.HexToAddress(claims.Subject), nil
}

// LoginMessage is the text a wallet signs to obtain a token.
func LoginMessage(addr common.Address, issuedAt int64) []byte {
	return []byte(fmt.Sprintf("rescuechain login\naddress: %s\nissued: %d", addr.Hex(), issuedAt))
}

// Login checks a signed LoginMessage and issues a token for addr.
func (a *Authenticator) Login(addr common.Address, issuedAt int64, sig []byte) (string, error) {
	skew := a.now().Sub(time.Unix(issuedAt, 0))
	if skew > LoginWindow || skew < -LoginWindow {
		return "", ErrLoginExpired
	}
	signer, err := crypto.RecoverMessage(LoginMessage(addr, issuedAt), sig)
	if err != nil {
		return "", err
	}
	if signer != addr {
		return "", ErrLoginSigner
	}
	return a.Issue(addr)
}

// bearer extracts the token from an Authorization header value.
func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
