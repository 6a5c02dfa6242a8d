package pow_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entropy-org/entropy/pkg/pow"
)

func TestMine(t *testing.T) {
	a := require.New(t)

	nonce, hash, err := pow.Mine(context.Background(), "seed", 2, "register")
	a.NoError(err)
	a.True(strings.HasPrefix(hash, "00"))
	a.True(pow.Verify("seed", 2, "register", nonce))
	a.False(pow.Verify("seed", 2, "other", nonce))
}

func TestMineDeterministic(t *testing.T) {
	a := require.New(t)

	n1, h1, err := pow.Mine(context.Background(), "abc", 1, "")
	a.NoError(err)
	n2, h2, err := pow.Mine(context.Background(), "abc", 1, "")
	a.NoError(err)
	a.Equal(n1, n2)
	a.Equal(h1, h2)
}

func TestMineCancellation(t *testing.T) {
	a := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// an absurd difficulty never completes; cancellation must stop it
	_, _, err := pow.Mine(ctx, "seed", 64, "")
	a.ErrorIs(err, context.Canceled)
}
