package sealed_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entropy-org/entropy/pkg/attest"
	"github.com/entropy-org/entropy/pkg/sealed"
)

func TestSealUnseal(t *testing.T) {
	a := require.New(t)

	sender, err := attest.NewIdentity("sender")
	a.NoError(err)
	recipient, err := attest.NewIdentity("recipient")
	a.NoError(err)

	payload := json.RawMessage(`{"text":"x"}`)
	env, err := sealed.Seal(recipient.PublicKey, recipient.PQPublicKey, sender.PublicBase64(), payload)
	a.NoError(err)
	a.NotEmpty(env.EphemeralPublic)
	a.NotEmpty(env.PQCt)

	inner, err := sealed.Unseal(recipient, env)
	a.NoError(err)
	a.Equal(sender.PublicBase64(), inner.Sender)
	a.JSONEq(string(payload), string(inner.Message))
}

func TestUnsealWrongRecipient(t *testing.T) {
	a := require.New(t)

	sender, err := attest.NewIdentity("sender")
	a.NoError(err)
	recipient, err := attest.NewIdentity("recipient")
	a.NoError(err)
	other, err := attest.NewIdentity("other")
	a.NoError(err)

	env, err := sealed.Seal(recipient.PublicKey, recipient.PQPublicKey, sender.PublicBase64(), json.RawMessage(`"m"`))
	a.NoError(err)

	_, err = sealed.Unseal(other, env)
	a.Error(err)
}

func TestUnsealTampered(t *testing.T) {
	a := require.New(t)

	sender, err := attest.NewIdentity("sender")
	a.NoError(err)
	recipient, err := attest.NewIdentity("recipient")
	a.NoError(err)

	env, err := sealed.Seal(recipient.PublicKey, recipient.PQPublicKey, sender.PublicBase64(), json.RawMessage(`"m"`))
	a.NoError(err)

	env.Ciphertext = env.Ciphertext[:len(env.Ciphertext)-4] + "AAA="
	_, err = sealed.Unseal(recipient, env)
	a.Error(err)

	env.Ciphertext = "%%%"
	_, err = sealed.Unseal(recipient, env)
	a.ErrorIs(err, sealed.ErrMalformedEnvelope)
}

func TestSealIsAnonymousOnTheWire(t *testing.T) {
	a := require.New(t)

	sender, err := attest.NewIdentity("sender")
	a.NoError(err)
	recipient, err := attest.NewIdentity("recipient")
	a.NoError(err)

	env, err := sealed.Seal(recipient.PublicKey, recipient.PQPublicKey, sender.PublicBase64(), json.RawMessage(`"m"`))
	a.NoError(err)

	wire, err := json.Marshal(env)
	a.NoError(err)
	a.NotContains(string(wire), sender.PublicBase64())
}
