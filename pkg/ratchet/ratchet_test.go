package ratchet_test

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entropy-org/entropy/pkg/attest"
	"github.com/entropy-org/entropy/pkg/ratchet"
)

func newIdentity(t *testing.T) *attest.Identity {
	t.Helper()
	id, err := attest.NewIdentity("test")
	require.NoError(t, err)
	return id
}

// newSessions establishes Alice -> Bob with one delivered PreKey message
// and returns both live sessions.
func newSessions(t *testing.T) (alice, bob *ratchet.Session) {
	t.Helper()
	a := require.New(t)

	aliceID, bobID := newIdentity(t), newIdentity(t)

	alice, err := ratchet.EstablishOutbound(aliceID, bobID.Bundle())
	a.NoError(err)

	env, err := alice.Encrypt([]byte("hello"))
	a.NoError(err)
	a.Equal(ratchet.TypePreKey, env.Type)

	bob, err = ratchet.EstablishInbound(bobID, env)
	a.NoError(err)
	pt, err := bob.Decrypt(env)
	a.NoError(err)
	a.Equal("hello", string(pt))

	// the inbound handshake consumed the advertised one-time pre-key
	a.Len(bobID.OneTimePreKeys, attest.DefaultPreKeyCount-1)
	return alice, bob
}

func TestSessionPhases(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	// one chain each so far: initiator and responder pre-ratchet
	a.False(alice.Established())
	a.False(bob.Established())

	reply, err := bob.Encrypt([]byte("reply"))
	a.NoError(err)
	a.True(bob.Established())

	_, err = alice.Decrypt(reply)
	a.NoError(err)
	a.True(alice.Established())
}

func TestFirstMessageShape(t *testing.T) {
	a := require.New(t)

	aliceID, bobID := newIdentity(t), newIdentity(t)
	alice, err := ratchet.EstablishOutbound(aliceID, bobID.Bundle())
	a.NoError(err)

	env, err := alice.Encrypt([]byte("hi"))
	a.NoError(err)
	a.Equal(ratchet.TypePreKey, env.Type)
	a.NotEmpty(env.IK)
	a.NotEmpty(env.PQIK)
	a.NotEmpty(env.PQ1)
	a.NotEmpty(env.PQ2)
	a.NotEmpty(env.EK)
	a.Empty(env.LH)

	// later messages on the same chain are Whisper messages
	env2, err := alice.Encrypt([]byte("again"))
	a.NoError(err)
	a.Equal(ratchet.TypeWhisper, env2.Type)
}

func TestAlternatingRoundTrip(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	// ten alternating messages, each direction ratcheting every turn
	for i := range 10 {
		msg := fmt.Sprintf("message %d", i)
		if i%2 == 0 {
			env, err := bob.Encrypt([]byte(msg))
			a.NoError(err)
			pt, err := alice.Decrypt(env)
			a.NoError(err)
			a.Equal(msg, string(pt))
		} else {
			env, err := alice.Encrypt([]byte(msg))
			a.NoError(err)
			pt, err := bob.Decrypt(env)
			a.NoError(err)
			a.Equal(msg, string(pt))
		}
	}
}

func TestOutOfOrderDeliveryAndReplay(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	envs := make([]*ratchet.Envelope, 10)
	for i := range envs {
		env, err := alice.Encrypt([]byte(fmt.Sprintf("m%d", i)))
		a.NoError(err)
		envs[i] = env
	}

	for _, i := range []int{0, 2, 1, 9, 8, 3, 4, 5, 6, 7} {
		pt, err := bob.Decrypt(envs[i])
		a.NoError(err, "message %d", i)
		a.Equal(fmt.Sprintf("m%d", i), string(pt))
	}

	// every key was consumed exactly once; replay must fail
	_, err := bob.Decrypt(envs[5])
	a.ErrorIs(err, ratchet.ErrReplay)
	a.Empty(bob.Skipped)
}

func TestCrossChainReordering(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	// B ratchets and replies twice
	r0, err := bob.Encrypt([]byte("r0"))
	a.NoError(err)
	r1, err := bob.Encrypt([]byte("r1"))
	a.NoError(err)

	// A keeps sending on the old chain, not having seen B's reply
	m1, err := alice.Encrypt([]byte("m1"))
	a.NoError(err)
	m2, err := alice.Encrypt([]byte("m2"))
	a.NoError(err)

	// deliver everything in reverse
	pt, err := alice.Decrypt(r1)
	a.NoError(err)
	a.Equal("r1", string(pt))
	pt, err = alice.Decrypt(r0)
	a.NoError(err)
	a.Equal("r0", string(pt))

	pt, err = bob.Decrypt(m2)
	a.NoError(err)
	a.Equal("m2", string(pt))
	pt, err = bob.Decrypt(m1)
	a.NoError(err)
	a.Equal("m1", string(pt))
}

func TestSkipBound(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	var last *ratchet.Envelope
	var second *ratchet.Envelope
	for i := range 150 {
		env, err := alice.Encrypt([]byte(fmt.Sprintf("m%d", i)))
		a.NoError(err)
		if i == 0 {
			second = env
		}
		last = env
	}

	// the gap exceeds the skip bound; the message is dropped but the
	// session survives
	_, err := bob.Decrypt(last)
	a.ErrorIs(err, ratchet.ErrTooManySkipped)

	pt, err := bob.Decrypt(second)
	a.NoError(err)
	a.Equal("m0", string(pt))
}

func TestHeaderPrivacy(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	env, err := alice.Encrypt([]byte("secret"))
	a.NoError(err)

	// the wire form carries no counters or ratchet keys in the clear
	wire, err := json.Marshal(env)
	a.NoError(err)
	a.NotContains(string(wire), "ratchet_key")
	a.NotContains(string(wire), `"pn"`)

	// a party without the header keys cannot even parse the header
	eve := bob.Clone()
	eve.RecvHeaderKey = make([]byte, 32)
	rand.Read(eve.RecvHeaderKey)
	eve.NextRecvHeaderKey = nil
	_, err = eve.Decrypt(env)
	a.ErrorIs(err, ratchet.ErrUnknownHeader)
}

func TestPQSecretMixedExactlyOnce(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	a.NotEmpty(alice.PQSharedSecret)
	a.NotEmpty(bob.PQSharedSecret)

	// Bob's first outbound performs his half of the mix
	reply, err := bob.Encrypt([]byte("reply"))
	a.NoError(err)
	a.Empty(bob.PQSharedSecret)

	// Alice's matching receive performs hers and retires the ciphertexts
	_, err = alice.Decrypt(reply)
	a.NoError(err)
	a.Empty(alice.PQSharedSecret)
	a.Empty(alice.PQCt1)

	env, err := alice.Encrypt([]byte("onwards"))
	a.NoError(err)
	a.Empty(env.PQ1)
	a.Empty(env.IK)

	pt, err := bob.Decrypt(env)
	a.NoError(err)
	a.Equal("onwards", string(pt))
}

func TestEstablishWithoutOneTimePreKeys(t *testing.T) {
	a := require.New(t)

	aliceID, bobID := newIdentity(t), newIdentity(t)
	bobID.OneTimePreKeys = nil

	alice, err := ratchet.EstablishOutbound(aliceID, bobID.Bundle())
	a.NoError(err)
	env, err := alice.Encrypt([]byte("no opk"))
	a.NoError(err)

	bob, err := ratchet.EstablishInbound(bobID, env)
	a.NoError(err)
	pt, err := bob.Decrypt(env)
	a.NoError(err)
	a.Equal("no opk", string(pt))
}

func TestSessionPersistenceMidConversation(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	reload := func(s *ratchet.Session) *ratchet.Session {
		data, err := s.Marshal()
		a.NoError(err)
		loaded, err := ratchet.LoadSession(data)
		a.NoError(err)
		return loaded
	}

	for i := range 6 {
		alice, bob = reload(alice), reload(bob)
		msg := fmt.Sprintf("persisted %d", i)
		var env *ratchet.Envelope
		var err error
		if i%2 == 0 {
			env, err = alice.Encrypt([]byte(msg))
			a.NoError(err)
			pt, err := bob.Decrypt(env)
			a.NoError(err)
			a.Equal(msg, string(pt))
		} else {
			env, err = bob.Encrypt([]byte(msg))
			a.NoError(err)
			pt, err := alice.Decrypt(env)
			a.NoError(err)
			a.Equal(msg, string(pt))
		}
	}
}

func TestContinuityBreak(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	r0, err := bob.Encrypt([]byte("r0"))
	a.NoError(err)
	_, err = alice.Decrypt(r0)
	a.NoError(err)

	r1, err := bob.Encrypt([]byte("r1"))
	a.NoError(err)
	_, err = alice.Decrypt(r1)
	a.NoError(err)

	// a forged continuity hash on the next in-order message trips the
	// check and leaves Alice's state untouched
	honest := bob.LastRecvHash
	bob.LastRecvHash = "deadbeef"
	forged, err := bob.Encrypt([]byte("r2"))
	a.NoError(err)
	_, err = alice.Decrypt(forged)
	a.ErrorIs(err, ratchet.ErrContinuityBreak)

	bob.LastRecvHash = honest
	r3, err := bob.Encrypt([]byte("r3"))
	a.NoError(err)
	pt, err := alice.Decrypt(r3)
	a.NoError(err)
	a.Equal("r3", string(pt))
}

func TestPostCompromiseRecovery(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	// an attacker snapshots Alice's full state here
	snapshot := alice.Clone()

	// two full DH rounds later the snapshot's keys are all stale
	for i := range 2 {
		env, err := bob.Encrypt([]byte(fmt.Sprintf("b%d", i)))
		a.NoError(err)
		_, err = alice.Decrypt(env)
		a.NoError(err)
		env, err = alice.Encrypt([]byte(fmt.Sprintf("a%d", i)))
		a.NoError(err)
		_, err = bob.Decrypt(env)
		a.NoError(err)
	}

	env, err := bob.Encrypt([]byte("post-compromise"))
	a.NoError(err)
	_, err = snapshot.Decrypt(env)
	a.Error(err)

	pt, err := alice.Decrypt(env)
	a.NoError(err)
	a.Equal("post-compromise", string(pt))
}

func TestDecryptFailureDoesNotCorruptState(t *testing.T) {
	a := require.New(t)
	alice, bob := newSessions(t)

	env, err := alice.Encrypt([]byte("good"))
	a.NoError(err)

	tampered := *env
	tampered.Body = env.Body[:len(env.Body)-8] + "AAAAAAA="
	_, err = bob.Decrypt(&tampered)
	a.Error(err)

	// the original still decrypts: the failure was not persisted
	pt, err := bob.Decrypt(env)
	a.NoError(err)
	a.Equal("good", string(pt))
}

func TestParseEnvelope(t *testing.T) {
	a := require.New(t)
	alice, _ := newSessions(t)

	env, err := alice.Encrypt([]byte("wire"))
	a.NoError(err)
	data, err := json.Marshal(env)
	a.NoError(err)

	parsed, err := ratchet.ParseEnvelope(data)
	a.NoError(err)
	a.Equal(env.Body, parsed.Body)

	_, err = ratchet.ParseEnvelope([]byte(`{"type":7}`))
	a.ErrorIs(err, ratchet.ErrMalformedEnvelope)
	_, err = ratchet.ParseEnvelope([]byte(`{"type":1}`))
	a.ErrorIs(err, ratchet.ErrMalformedEnvelope)
	_, err = ratchet.ParseEnvelope([]byte(`not json`))
	a.ErrorIs(err, ratchet.ErrMalformedEnvelope)
}
