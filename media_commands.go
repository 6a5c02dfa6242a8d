package entropy

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/entropy-org/entropy/pkg/media"
	"github.com/entropy-org/entropy/pkg/pow"
)

// MediaResult is the host-facing output of protocol_encrypt_media: hex
// ciphertext plus the key bundle delivered over a protected channel.
type MediaResult struct {
	Ciphertext string           `json:"ciphertext"`
	Bundle     *media.KeyBundle `json:"bundle"`
}

// EncryptMedia seals a file under a fresh per-file key.
func (a *App) EncryptMedia(data []byte, fileName, fileType string) (*MediaResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}

	ciphertext, bundle, err := media.Encrypt(data, fileName, fileType)
	if err != nil {
		return nil, err
	}
	return &MediaResult{
		Ciphertext: hex.EncodeToString(ciphertext),
		Bundle:     bundle,
	}, nil
}

// DecryptMedia opens hex ciphertext with its bundle and verifies the
// plaintext digest.
func (a *App) DecryptMedia(hexData string, bundle *media.KeyBundle) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}

	ciphertext, err := hex.DecodeString(hexData)
	if err != nil {
		return nil, fmt.Errorf("%w: hex ciphertext: %v", ErrMalformed, err)
	}
	return media.Decrypt(ciphertext, bundle)
}

// MinePoW runs the proof-of-work miner. The context bounds the search.
func (a *App) MinePoW(ctx context.Context, seed string, difficulty uint32, scope string) (uint64, string, error) {
	return pow.Mine(ctx, seed, difficulty, scope)
}
