// Package pow implements the proof-of-work miner used for directory
// registration and similar anti-abuse gates.
package pow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// checkInterval is how many nonces are tried between cancellation checks.
const checkInterval = 100_000

// Mine searches for a nonce such that the hex SHA-256 of
// seed || scope || nonce starts with difficulty zeros. Nonces are tried
// incrementally from zero, so the result is deterministic for an input.
func Mine(ctx context.Context, seed string, difficulty uint32, scope string) (uint64, string, error) {
	target := strings.Repeat("0", int(difficulty))
	for nonce := uint64(0); ; nonce++ {
		h := sha256.New()
		h.Write([]byte(seed))
		if scope != "" {
			h.Write([]byte(scope))
		}
		h.Write([]byte(strconv.FormatUint(nonce, 10)))
		digest := hex.EncodeToString(h.Sum(nil))

		if strings.HasPrefix(digest, target) {
			return nonce, digest, nil
		}
		if nonce%checkInterval == checkInterval-1 {
			if err := ctx.Err(); err != nil {
				return 0, "", err
			}
		}
	}
}

// Verify checks a previously mined nonce.
func Verify(seed string, difficulty uint32, scope string, nonce uint64) bool {
	h := sha256.New()
	h.Write([]byte(seed))
	if scope != "" {
		h.Write([]byte(scope))
	}
	h.Write([]byte(strconv.FormatUint(nonce, 10)))
	return strings.HasPrefix(hex.EncodeToString(h.Sum(nil)), strings.Repeat("0", int(difficulty)))
}
