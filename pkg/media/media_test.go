package media_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entropy-org/entropy/pkg/media"
)

func TestRoundTrip(t *testing.T) {
	a := require.New(t)

	data := make([]byte, 4096)
	_, _ = rand.Read(data)

	ct, bundle, err := media.Encrypt(data, "photo.jpg", "image/jpeg")
	a.NoError(err)
	a.NotEqual(data, ct)
	a.Equal("photo.jpg", bundle.FileName)
	a.Equal("image/jpeg", bundle.FileType)

	pt, err := media.Decrypt(ct, bundle)
	a.NoError(err)
	a.Equal(data, pt)
}

func TestTamperedCiphertextFails(t *testing.T) {
	a := require.New(t)

	ct, bundle, err := media.Encrypt([]byte("file contents"), "f.txt", "text/plain")
	a.NoError(err)

	ct[0] ^= 0x01
	_, err = media.Decrypt(ct, bundle)
	a.Error(err)
}

func TestDigestMismatch(t *testing.T) {
	a := require.New(t)

	ct, bundle, err := media.Encrypt([]byte("file contents"), "f.txt", "text/plain")
	a.NoError(err)

	// valid ciphertext, lying digest
	_, wrong, err := media.Encrypt([]byte("different"), "f.txt", "text/plain")
	a.NoError(err)
	bundle.Digest = wrong.Digest

	_, err = media.Decrypt(ct, bundle)
	a.ErrorIs(err, media.ErrDigestMismatch)
}

func TestFreshKeyPerFile(t *testing.T) {
	a := require.New(t)

	_, b1, err := media.Encrypt([]byte("same data"), "f", "t")
	a.NoError(err)
	_, b2, err := media.Encrypt([]byte("same data"), "f", "t")
	a.NoError(err)
	a.NotEqual(b1.Key, b2.Key)
	a.Equal(b1.Digest, b2.Digest)
}
