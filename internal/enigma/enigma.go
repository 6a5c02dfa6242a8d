// Package enigma bundles the symmetric primitives shared by the protocol:
// AES-256-GCM sealing, HKDF-SHA-256 derivation, the HMAC chain KDF, and
// message padding.
package enigma

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32
	NonceSize = 12

	blockSize = 512
)

var (
	ErrInvalidCiphertext = errors.New("ciphertext is not valid")
	ErrInvalidPadding    = errors.New("padding is not valid")
)

type Enigma struct {
	aead cipher.AEAD
}

// NewEnigma returns an AES-256-GCM cipher keyed with the given 32-byte key.
func NewEnigma(key []byte) (*Enigma, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	return &Enigma{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns the
// ciphertext and the nonce separately, matching the wire envelopes which
// carry them in distinct fields.
func (e *Enigma) Seal(plaintext []byte) (ciphertext, nonce []byte) {
	nonce = make([]byte, NonceSize)
	rand.Read(nonce)
	return e.aead.Seal(nil, nonce, plaintext, nil), nonce
}

// Open decrypts a ciphertext produced by Seal.
func (e *Enigma) Open(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	return plaintext, nil
}

// Encrypt seals plaintext and prepends the nonce, for storage paths where
// a single opaque blob is wanted.
func (e *Enigma) Encrypt(plaintext []byte) []byte {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+e.aead.Overhead())
	rand.Read(nonce)
	return e.aead.Seal(nonce, nonce, plaintext, nil)
}

// Decrypt reverses Encrypt.
func (e *Enigma) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrInvalidCiphertext
	}
	nonce, ciphertext := ciphertext[:NonceSize], ciphertext[NonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	return plaintext, nil
}

// Derive expands ikm into size bytes with HKDF-SHA-256.
func Derive(ikm, salt, info []byte, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	d := make([]byte, size)
	if _, err := io.ReadFull(r, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ChainKDF advances a symmetric chain: the next chain key is
// HMAC-SHA-256(ck, 0x01) and the message key is HMAC-SHA-256(ck, 0x02).
func ChainKDF(ck []byte) (next, messageKey []byte) {
	m := hmac.New(sha256.New, ck)
	m.Write([]byte{0x01})
	next = m.Sum(nil)

	m = hmac.New(sha256.New, ck)
	m.Write([]byte{0x02})
	messageKey = m.Sum(nil)
	return next, messageKey
}

// Pad extends msg to the next multiple of 512 bytes. The pad bytes hold
// padLen mod 256 and a big-endian uint16 trailer records the pad length.
func Pad(msg []byte) []byte {
	padLen := blockSize - len(msg)%blockSize
	padded := make([]byte, 0, len(msg)+padLen+2)
	padded = append(padded, msg...)
	for range padLen {
		padded = append(padded, byte(padLen%256))
	}
	return binary.BigEndian.AppendUint16(padded, uint16(padLen))
}

// Unpad reads the trailer and strips the padding added by Pad.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrInvalidPadding
	}
	padLen := int(binary.BigEndian.Uint16(padded[len(padded)-2:]))
	if padLen < 1 || padLen > len(padded)-2 {
		return nil, ErrInvalidPadding
	}
	return padded[:len(padded)-padLen-2], nil
}
