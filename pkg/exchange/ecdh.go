// Package exchange wraps the asymmetric building blocks of the protocol:
// X25519 Diffie-Hellman, Ed25519 to X25519 key conversion, and the
// Kyber-1024 KEM.
package exchange

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

var ErrInvalidKey = errors.New("invalid key")

// ECDH is an X25519 keypair holding raw 32-byte keys, the form every wire
// field and persisted session uses.
type ECDH struct {
	PublicKey  []byte
	privateKey []byte
}

func NewECDH() (*ECDH, error) {
	private := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return nil, fmt.Errorf("generating scalar: %w", err)
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("computing public key: %w", err)
	}

	return &ECDH{privateKey: private, PublicKey: public}, nil
}

// RestoreECDH reconstructs a keypair from a raw private scalar. The public
// key is recomputed rather than trusted from storage.
func RestoreECDH(private []byte) (*ECDH, error) {
	if len(private) != curve25519.ScalarSize {
		return nil, ErrInvalidKey
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("computing public key: %w", err)
	}

	return &ECDH{privateKey: private, PublicKey: public}, nil
}

func (e *ECDH) MarshalPrivateKey() []byte {
	return e.privateKey
}

// Exchange computes the shared secret with a raw 32-byte remote public key.
func (e *ECDH) Exchange(remote []byte) ([]byte, error) {
	if len(remote) != curve25519.PointSize {
		return nil, ErrInvalidKey
	}
	secret, err := curve25519.X25519(e.privateKey, remote)
	if err != nil {
		return nil, fmt.Errorf("performing ecdh exchange: %w", err)
	}

	return secret, nil
}

// X25519 performs a one-shot Diffie-Hellman between a raw private scalar
// and a raw public key.
func X25519(private, public []byte) ([]byte, error) {
	secret, err := curve25519.X25519(private, public)
	if err != nil {
		return nil, fmt.Errorf("performing ecdh exchange: %w", err)
	}
	return secret, nil
}
