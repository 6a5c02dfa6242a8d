package group_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entropy-org/entropy/pkg/group"
)

func TestSenderKeyFanOut(t *testing.T) {
	a := require.New(t)

	// A creates the group and distributes its sender key to B and C
	aliceState, err := group.NewState("g1")
	a.NoError(err)
	dist := aliceState.DistributionMessage()
	a.Equal(group.DistributionType, dist.Type)

	bobState, err := group.NewState("g1")
	a.NoError(err)
	carolState, err := group.NewState("g1")
	a.NoError(err)
	a.NoError(bobState.AddSender("alice", dist))
	a.NoError(carolState.AddSender("alice", dist))

	env, err := aliceState.Encrypt([]byte("hi"))
	a.NoError(err)
	a.Equal(group.MessageType, env.Type)

	pt, err := bobState.Decrypt("alice", env)
	a.NoError(err)
	a.Equal("hi", string(pt))
	pt, err = carolState.Decrypt("alice", env)
	a.NoError(err)
	a.Equal("hi", string(pt))
}

func TestInOrderChain(t *testing.T) {
	a := require.New(t)

	sender, err := group.NewState("g")
	a.NoError(err)
	receiver, err := group.NewState("g")
	a.NoError(err)
	a.NoError(receiver.AddSender("s", sender.DistributionMessage()))

	for i := range 5 {
		msg := fmt.Sprintf("msg %d", i)
		env, err := sender.Encrypt([]byte(msg))
		a.NoError(err)
		pt, err := receiver.Decrypt("s", env)
		a.NoError(err)
		a.Equal(msg, string(pt))
	}
}

func TestUnknownSender(t *testing.T) {
	a := require.New(t)

	sender, err := group.NewState("g")
	a.NoError(err)
	receiver, err := group.NewState("g")
	a.NoError(err)

	env, err := sender.Encrypt([]byte("x"))
	a.NoError(err)
	_, err = receiver.Decrypt("stranger", env)
	a.ErrorIs(err, group.ErrUnknownSender)
}

func TestForgedSignatureRejected(t *testing.T) {
	a := require.New(t)

	sender, err := group.NewState("g")
	a.NoError(err)
	imposter, err := group.NewState("g")
	a.NoError(err)
	imposter.MySenderKey.KeyID = sender.MySenderKey.KeyID
	imposter.MySenderKey.ChainKey = append([]byte(nil), sender.MySenderKey.ChainKey...)

	receiver, err := group.NewState("g")
	a.NoError(err)
	a.NoError(receiver.AddSender("s", sender.DistributionMessage()))

	// right chain, wrong signing key
	env, err := imposter.Encrypt([]byte("spoof"))
	a.NoError(err)
	_, err = receiver.Decrypt("s", env)
	a.ErrorIs(err, group.ErrBadSignature)
}

func TestKeyIDMismatch(t *testing.T) {
	a := require.New(t)

	sender, err := group.NewState("g")
	a.NoError(err)
	receiver, err := group.NewState("g")
	a.NoError(err)
	a.NoError(receiver.AddSender("s", sender.DistributionMessage()))

	env, err := sender.Encrypt([]byte("x"))
	a.NoError(err)
	env.KeyID++
	_, err = receiver.Decrypt("s", env)
	a.ErrorIs(err, group.ErrKeyIDMismatch)
}

func TestStatePersistence(t *testing.T) {
	a := require.New(t)

	sender, err := group.NewState("g")
	a.NoError(err)
	receiver, err := group.NewState("g")
	a.NoError(err)
	a.NoError(receiver.AddSender("s", sender.DistributionMessage()))

	env, err := sender.Encrypt([]byte("first"))
	a.NoError(err)
	_, err = receiver.Decrypt("s", env)
	a.NoError(err)

	// both chains survive a round trip through the vault encoding
	data, err := receiver.Marshal()
	a.NoError(err)
	receiver, err = group.LoadState(data)
	a.NoError(err)

	env, err = sender.Encrypt([]byte("second"))
	a.NoError(err)
	pt, err := receiver.Decrypt("s", env)
	a.NoError(err)
	a.Equal("second", string(pt))
}
