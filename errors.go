package entropy

import (
	"errors"

	"github.com/entropy-org/entropy/internal/enigma"
	"github.com/entropy-org/entropy/pkg/attest"
	"github.com/entropy-org/entropy/pkg/group"
	"github.com/entropy-org/entropy/pkg/media"
	"github.com/entropy-org/entropy/pkg/ratchet"
	"github.com/entropy-org/entropy/pkg/sealed"
	"github.com/entropy-org/entropy/pkg/store"
)

// The command-surface error taxonomy. Package errors from the crypto core
// do not wrap these sentinels; Classify maps them onto the same tags.
var (
	ErrNotInitialized = errors.New("vault not initialized")
	ErrNotFound       = errors.New("not found")
	ErrMalformed      = errors.New("malformed input")
	ErrCrypto         = errors.New("cryptographic failure")
	ErrProtocol       = errors.New("protocol violation")
	ErrStorage        = errors.New("storage failure")
)

// Classify maps an error onto its taxonomy tag for host surfacing.
// CONTINUITY_BREAK keeps its own tag so the UI can distinguish it.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ratchet.ErrContinuityBreak):
		return "CONTINUITY_BREAK"
	case errors.Is(err, ErrNotInitialized):
		return "NotInitialized"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, store.ErrMissingItem),
		errors.Is(err, store.ErrMissingBucket),
		errors.Is(err, attest.ErrNoPreKeys):
		return "NotFound"
	case errors.Is(err, ErrMalformed),
		errors.Is(err, ratchet.ErrMalformedEnvelope),
		errors.Is(err, sealed.ErrMalformedEnvelope),
		errors.Is(err, group.ErrMalformedMessage),
		errors.Is(err, enigma.ErrInvalidPadding):
		return "Malformed"
	case errors.Is(err, ratchet.ErrTooManySkipped),
		errors.Is(err, ratchet.ErrReplay),
		errors.Is(err, ratchet.ErrUnknownHeader),
		errors.Is(err, ratchet.ErrInvalidState):
		return "Protocol"
	case errors.Is(err, enigma.ErrInvalidCiphertext),
		errors.Is(err, store.ErrFailedDecryption),
		errors.Is(err, attest.ErrInvalidSignature),
		errors.Is(err, attest.ErrInvalidKey),
		errors.Is(err, group.ErrBadSignature),
		errors.Is(err, media.ErrDigestMismatch):
		return "Crypto"
	case errors.Is(err, ErrCrypto):
		return "Crypto"
	case errors.Is(err, ErrProtocol):
		return "Protocol"
	case errors.Is(err, ErrStorage):
		return "Storage"
	default:
		return "Storage"
	}
}
