package enigma_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entropy-org/entropy/internal/enigma"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func TestSealOpen(t *testing.T) {
	a := require.New(t)

	cipher, err := enigma.NewEnigma(randomBytes(enigma.KeySize))
	a.NoError(err)

	msg := []byte("attack at dawn")
	ct, nonce := cipher.Seal(msg)
	a.Len(nonce, enigma.NonceSize)
	a.NotEqual(msg, ct)

	pt, err := cipher.Open(ct, nonce)
	a.NoError(err)
	a.Equal(msg, pt)

	// a second seal uses a fresh nonce
	ct2, nonce2 := cipher.Seal(msg)
	a.NotEqual(nonce, nonce2)
	a.NotEqual(ct, ct2)
}

func TestOpenRejectsTampering(t *testing.T) {
	a := require.New(t)

	cipher, err := enigma.NewEnigma(randomBytes(enigma.KeySize))
	a.NoError(err)

	ct, nonce := cipher.Seal([]byte("payload"))
	ct[0] ^= 0x01
	_, err = cipher.Open(ct, nonce)
	a.ErrorIs(err, enigma.ErrInvalidCiphertext)
}

func TestEncryptDecryptPrefixedNonce(t *testing.T) {
	a := require.New(t)

	cipher, err := enigma.NewEnigma(randomBytes(enigma.KeySize))
	a.NoError(err)

	msg := randomBytes(100)
	blob := cipher.Encrypt(msg)
	pt, err := cipher.Decrypt(blob)
	a.NoError(err)
	a.Equal(msg, pt)

	_, err = cipher.Decrypt(blob[:enigma.NonceSize-1])
	a.ErrorIs(err, enigma.ErrInvalidCiphertext)
}

func TestNewEnigmaKeySize(t *testing.T) {
	_, err := enigma.NewEnigma(randomBytes(16))
	require.Error(t, err)
}

func TestChainKDF(t *testing.T) {
	a := require.New(t)

	ck := randomBytes(32)
	next1, mk1 := enigma.ChainKDF(ck)
	next2, mk2 := enigma.ChainKDF(ck)

	// deterministic, and the two outputs are distinct keys
	a.Equal(next1, next2)
	a.Equal(mk1, mk2)
	a.NotEqual(next1, mk1)
	a.Len(next1, 32)
	a.Len(mk1, 32)

	// advancing is one-way: the next step yields fresh keys
	next3, mk3 := enigma.ChainKDF(next1)
	a.NotEqual(next1, next3)
	a.NotEqual(mk1, mk3)
}

func TestDerive(t *testing.T) {
	a := require.New(t)

	ikm := randomBytes(32)
	k1, err := enigma.Derive(ikm, nil, []byte("label one"), 32)
	a.NoError(err)
	k2, err := enigma.Derive(ikm, nil, []byte("label two"), 32)
	a.NoError(err)
	a.NotEqual(k1, k2)

	k3, err := enigma.Derive(ikm, nil, []byte("label one"), 96)
	a.NoError(err)
	a.Equal(k1, k3[:32])
}

func TestPadBoundaries(t *testing.T) {
	a := require.New(t)

	for _, size := range []int{0, 1, 100, 511, 512, 513, 1024, 4096} {
		msg := randomBytes(size)
		padded := enigma.Pad(msg)

		// padded length is the next multiple of 512 plus the trailer
		a.Equal(0, (len(padded)-2)%512, "size %d", size)
		a.Greater(len(padded)-2, size, "size %d", size)

		out, err := enigma.Unpad(padded)
		a.NoError(err)
		if size == 0 {
			a.Empty(out)
		} else {
			a.True(bytes.Equal(msg, out), "size %d", size)
		}
	}
}

func TestUnpadRejectsGarbage(t *testing.T) {
	a := require.New(t)

	_, err := enigma.Unpad([]byte{0x01})
	a.ErrorIs(err, enigma.ErrInvalidPadding)

	// trailer claiming more padding than the message holds
	bad := append(randomBytes(10), 0xFF, 0xFF)
	_, err = enigma.Unpad(bad)
	a.ErrorIs(err, enigma.ErrInvalidPadding)

	// zero pad length is never produced by Pad
	bad = append(randomBytes(10), 0x00, 0x00)
	_, err = enigma.Unpad(bad)
	a.ErrorIs(err, enigma.ErrInvalidPadding)
}

func BenchmarkChainKDF(b *testing.B) {
	ck := randomBytes(32)
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		ck, _ = enigma.ChainKDF(ck)
	}
}
