package core

import (
	"errors"

	"github.com/tolelom/rescuechain/crypto"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Rejection reasons. Handlers wrap these with context via fmt.Errorf("%w: ...").
var (
	ErrInvalidSignature         = errors.New("invalid signature")
	ErrMalformedSignature       = crypto.ErrMalformedSignature
	ErrReplayedOrStaleNonce     = errors.New("replayed or stale nonce")
	ErrMissionAlreadyCompleted  = errors.New("mission already completed")
	ErrMissionExpired           = errors.New("mission expired")
	ErrInsufficientPayment      = errors.New("insufficient payment")
	ErrInvalidMissionParameters = errors.New("invalid mission parameters")
	ErrInvalidAnimalParameters  = errors.New("invalid animal parameters")
	ErrInvalidAddress           = errors.New("invalid address")
	ErrNotOwner                 = errors.New("not owner")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrUnknownLevel             = errors.New("unknown level")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrOverflow                 = errors.New("arithmetic overflow")
	ErrInvalidParameters        = errors.New("invalid parameters")
	ErrRescueLimitReached       = errors.New("daily rescue limit reached")
	ErrInsufficientTokens       = errors.New("insufficient tokens")
	ErrNoActivePlay             = errors.New("no active play")
	ErrPayoutSettled            = errors.New("payout already settled")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrMalformedSignature, "MalformedSignature"},
	{ErrReplayedOrStaleNonce, "ReplayedOrStaleNonce"},
	{ErrMissionAlreadyCompleted, "MissionAlreadyCompleted"},
	{ErrMissionExpired, "MissionExpired"},
	{ErrInsufficientPayment, "InsufficientPayment"},
	{ErrInvalidMissionParameters, "InvalidMissionParameters"},
	{ErrInvalidAnimalParameters, "InvalidAnimalParameters"},
	{ErrInvalidAddress, "InvalidAddress"},
	{ErrNotOwner, "NotOwner"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrUnknownLevel, "UnknownLevel"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrOverflow, "Overflow"},
	{ErrInvalidParameters, "InvalidParameters"},
	{ErrRescueLimitReached, "RescueLimitReached"},
	{ErrInsufficientTokens, "InsufficientTokens"},
	{ErrNoActivePlay, "NoActivePlay"},
	{ErrPayoutSettled, "PayoutAlreadySettled"},
	{ErrNotFound, "NotFound"},
}

// Reason maps err to its stable rejection name. Errors outside the
// rejection set map to "Internal"; nil maps to "".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "Internal"
}

// IsRejection reports whether err is one of the caller-facing rejections as
// opposed to an internal failure.
func IsRejection(err error) bool {
	r := Reason(err)
	return r != "" && r != "Internal"
}
