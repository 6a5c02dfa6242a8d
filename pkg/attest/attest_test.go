package attest_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entropy-org/entropy/pkg/attest"
)

func TestNewIdentity(t *testing.T) {
	a := require.New(t)

	id, err := attest.NewIdentity("quiet otter")
	a.NoError(err)
	a.Equal("quiet otter", id.Alias)
	a.GreaterOrEqual(id.RegistrationID, uint32(1))
	a.LessOrEqual(id.RegistrationID, uint32(16383))
	a.Len(id.PublicKey, 32)
	a.Len(id.PrivateKey, 32)
	a.Len(id.OneTimePreKeys, attest.DefaultPreKeyCount)

	// the signed pre-key carries a valid signature over its public halves
	signed := append(append([]byte{}, id.SignedPreKey.PublicKey...), id.SignedPreKey.PQPublicKey...)
	a.True(attest.Verify(id.PublicKey, signed, id.SignedPreKey.Signature))
}

func TestSignVerify(t *testing.T) {
	a := require.New(t)

	id, err := attest.NewIdentity("x")
	a.NoError(err)

	msg := []byte("message to sign")
	sig := id.Sign(msg)
	a.True(attest.Verify(id.PublicKey, msg, sig))
	a.False(attest.Verify(id.PublicKey, []byte("other message"), sig))
}

func TestMarshalLoadRoundTrip(t *testing.T) {
	a := require.New(t)

	id, err := attest.NewIdentity("carrier pigeon")
	a.NoError(err)

	data, err := id.Marshal()
	a.NoError(err)
	loaded, err := attest.Load(data)
	a.NoError(err)
	a.Equal(id.RegistrationID, loaded.RegistrationID)
	a.Equal(id.PrivateKey, loaded.PrivateKey)
	a.Equal(id.SignedPreKey, loaded.SignedPreKey)
	a.Equal(id.OneTimePreKeys, loaded.OneTimePreKeys)
}

func TestBundleParseAndVerify(t *testing.T) {
	a := require.New(t)

	id, err := attest.NewIdentity("x")
	a.NoError(err)

	data, err := json.Marshal(id.Bundle())
	a.NoError(err)
	bundle, err := attest.ParseBundle(data)
	a.NoError(err)
	a.Equal(id.PublicBase64(), bundle.IdentityKey)
	a.Len(bundle.PreKeys, attest.DefaultPreKeyCount)
}

func TestBundleRejectsForgedPreKey(t *testing.T) {
	a := require.New(t)

	id, err := attest.NewIdentity("x")
	a.NoError(err)
	mallory, err := attest.NewIdentity("y")
	a.NoError(err)

	// swap in an attacker's signed pre-key without re-signing
	bundle := id.Bundle()
	bundle.SignedPreKey.PublicKey = base64.StdEncoding.EncodeToString(mallory.SignedPreKey.PublicKey)
	data, err := json.Marshal(bundle)
	a.NoError(err)

	_, err = attest.ParseBundle(data)
	a.ErrorIs(err, attest.ErrInvalidSignature)
}

func TestConsumeOneTimePreKey(t *testing.T) {
	a := require.New(t)

	id, err := attest.NewIdentity("x")
	a.NoError(err)
	first := id.OneTimePreKeys[0]

	pk, err := id.ConsumeOneTimePreKey()
	a.NoError(err)
	a.Equal(first, *pk)
	a.Len(id.OneTimePreKeys, attest.DefaultPreKeyCount-1)

	a.NoError(id.ReplenishPreKeys(attest.DefaultPreKeyCount))
	a.Len(id.OneTimePreKeys, attest.DefaultPreKeyCount)

	id.OneTimePreKeys = nil
	_, err = id.ConsumeOneTimePreKey()
	a.ErrorIs(err, attest.ErrNoPreKeys)
}
