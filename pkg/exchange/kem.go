package exchange

import (
	"fmt"

	"github.com/cloudflare/circl/kem/kyber/kyber1024"
)

// Kyber-1024 sizes, exposed for envelope validation.
var (
	KyberPublicKeySize  = kyber1024.Scheme().PublicKeySize()
	KyberCiphertextSize = kyber1024.Scheme().CiphertextSize()
	KyberSharedKeySize  = kyber1024.Scheme().SharedKeySize()
)

// NewKyber generates a Kyber-1024 keypair in its marshalled binary form.
func NewKyber() (public, private []byte, err error) {
	pk, sk, err := kyber1024.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generating kyber keypair: %w", err)
	}
	public, err = pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling public key: %w", err)
	}
	private, err = sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling private key: %w", err)
	}
	return public, private, nil
}

// KyberEncapsulate encapsulates to a marshalled Kyber-1024 public key,
// returning the ciphertext and shared secret.
func KyberEncapsulate(public []byte) (ct, ss []byte, err error) {
	pk, err := kyber1024.Scheme().UnmarshalBinaryPublicKey(public)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parsing kyber public key: %v", ErrInvalidKey, err)
	}
	ct, ss, err = kyber1024.Scheme().Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("encapsulating: %w", err)
	}
	return ct, ss, nil
}

// KyberDecapsulate recovers the shared secret from a ciphertext with a
// marshalled Kyber-1024 private key.
func KyberDecapsulate(private, ct []byte) ([]byte, error) {
	sk, err := kyber1024.Scheme().UnmarshalBinaryPrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing kyber private key: %v", ErrInvalidKey, err)
	}
	ss, err := kyber1024.Scheme().Decapsulate(sk, ct)
	if err != nil {
		return nil, fmt.Errorf("decapsulating: %w", err)
	}
	return ss, nil
}
