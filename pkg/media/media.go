// Package media encrypts file attachments: a random per-file AES key and
// nonce, with a SHA-256 digest of the plaintext for integrity.
package media

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/entropy-org/entropy/internal/enigma"
)

var ErrDigestMismatch = errors.New("media digest mismatch")

// KeyBundle accompanies an encrypted file and is delivered inside a
// protected channel. Binary fields are Base64.
type KeyBundle struct {
	Key      string `json:"key"`
	Nonce    string `json:"nonce"`
	Digest   string `json:"digest"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

// Encrypt seals data under a fresh key and returns the ciphertext with the
// bundle needed to decrypt it.
func Encrypt(data []byte, fileName, fileType string) ([]byte, *KeyBundle, error) {
	key := make([]byte, enigma.KeySize)
	rand.Read(key)

	cipher, err := enigma.NewEnigma(key)
	if err != nil {
		return nil, nil, fmt.Errorf("media cipher: %w", err)
	}
	ciphertext, nonce := cipher.Seal(data)
	digest := sha256.Sum256(data)

	return ciphertext, &KeyBundle{
		Key:      base64.StdEncoding.EncodeToString(key),
		Nonce:    base64.StdEncoding.EncodeToString(nonce),
		Digest:   base64.StdEncoding.EncodeToString(digest[:]),
		FileName: fileName,
		FileType: fileType,
	}, nil
}

// Decrypt opens a ciphertext with its bundle and verifies the plaintext
// digest.
func Decrypt(ciphertext []byte, bundle *KeyBundle) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(bundle.Key)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(bundle.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	wantDigest, err := base64.StdEncoding.DecodeString(bundle.Digest)
	if err != nil {
		return nil, fmt.Errorf("decoding digest: %w", err)
	}

	cipher, err := enigma.NewEnigma(key)
	if err != nil {
		return nil, fmt.Errorf("media cipher: %w", err)
	}
	plaintext, err := cipher.Open(ciphertext, nonce)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(plaintext)
	if subtle.ConstantTimeCompare(digest[:], wantDigest) != 1 {
		return nil, ErrDigestMismatch
	}
	return plaintext, nil
}
