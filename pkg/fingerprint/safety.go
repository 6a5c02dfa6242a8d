// Package fingerprint renders identity material in human-checkable forms:
// safety numbers, emoji strings, QR codes, and pseudonymous aliases.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
)

const safetyNumberLabel = "EntropySafetyNumberV1"

// SafetyNumber derives the symmetric fingerprint of two Base64 identity
// keys: seven 5-digit words from the SHA-256 of the sorted keys. Both
// parties compute the same string regardless of argument order.
func SafetyNumber(localKey, peerKey string) string {
	k0, k1 := localKey, peerKey
	if k1 < k0 {
		k0, k1 = k1, k0
	}

	h := sha256.New()
	h.Write([]byte(safetyNumberLabel))
	h.Write([]byte(k0))
	h.Write([]byte(k1))
	digest := h.Sum(nil)

	words := make([]string, 7)
	for i := range words {
		w := binary.BigEndian.Uint32(digest[i*4 : i*4+4])
		words[i] = fmt.Sprintf("%05d", w%100000)
	}
	return strings.Join(words, " ")
}
