package exchange

import (
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/ed25519"
)

// EdPublicToX25519 converts an Ed25519 public key to its X25519 form by
// decompressing the Edwards point and taking the Montgomery u-coordinate.
func EdPublicToX25519(edPub []byte) ([]byte, error) {
	if len(edPub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key must be %d bytes", ErrInvalidKey, ed25519.PublicKeySize)
	}
	point, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing edwards point: %v", ErrInvalidKey, err)
	}
	return point.BytesMontgomery(), nil
}

// EdPrivateToX25519 converts an Ed25519 seed to an X25519 private scalar:
// the first 32 bytes of SHA-512(seed).
func EdPrivateToX25519(seed []byte) ([]byte, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes", ErrInvalidKey, ed25519.SeedSize)
	}
	digest := sha512.Sum512(seed)
	scalar := make([]byte, 32)
	copy(scalar, digest[:32])
	return scalar, nil
}
