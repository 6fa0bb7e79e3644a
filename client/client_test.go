package client

import (
	"context"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"pflnet.dev/fedanchor/aggregate"
	"pflnet.dev/fedanchor/keys"
	"pflnet.dev/fedanchor/storage/testkit"
	"pflnet.dev/fedanchor/tensor"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestSubmitProducesAcceptableRecord(t *testing.T) {
	store := testkit.NewMemCAS()
	priv, err := keys.GenerateKey()
	require.NoError(t, err)

	delta := tensor.Collection{
		"fc.weight": {Shape: []int64{2, 2}, Data: []float32{0.1, -0.2, 0.3, -0.4}},
	}
	sub, err := Submit(store, priv, delta, Options{Round: 9, NumExamples: 42})
	require.NoError(t, err)
	require.Equal(t, keys.Address(priv), sub.SubmitterIdentity)
	require.True(t, keys.Verify(sub.SignedMessage, sub.Signature, sub.SubmitterIdentity))

	raw, err := sub.Marshal()
	require.NoError(t, err)

	cfg := aggregate.DefaultConfig(9)
	cfg.Logger = slog.New(slog.NewTextHandler(discard{}, nil))
	res, err := aggregate.Run(context.Background(), cfg, store, [][]byte{raw})
	require.NoError(t, err)
	require.Equal(t, 1, res.AcceptedCount)
	require.InDelta(t, float64(delta["fc.weight"].Data[0]), float64(res.Model["fc.weight"].Data[0]), 1e-6)
}

func TestSubmitWithPrivacyStoresClippedDelta(t *testing.T) {
	store := testkit.NewMemCAS()
	priv, err := keys.GenerateKey()
	require.NoError(t, err)

	// Norm 5 against clip 1, no noise: stored delta must be scaled to norm 1.
	delta := tensor.Collection{"w": {Shape: []int64{2}, Data: []float32{3, 4}}}
	sub, err := Submit(store, priv, delta, Options{
		Round:       1,
		NumExamples: 10,
		ClipNorm:    1,
		NoiseSigma:  0,
		Rand:        rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	cfg := aggregate.DefaultConfig(1)
	cfg.Logger = slog.New(slog.NewTextHandler(discard{}, nil))
	raw, err := sub.Marshal()
	require.NoError(t, err)
	res, err := aggregate.Run(context.Background(), cfg, store, [][]byte{raw})
	require.NoError(t, err)
	require.InDelta(t, 0.6, res.Model["w"].Data[0], 1e-6)
	require.InDelta(t, 0.8, res.Model["w"].Data[1], 1e-6)
}

func TestSubmitRejectsZeroExamples(t *testing.T) {
	store := testkit.NewMemCAS()
	priv, err := keys.GenerateKey()
	require.NoError(t, err)
	_, err = Submit(store, priv, tensor.Collection{"w": {Shape: []int64{1}, Data: []float32{1}}}, Options{Round: 1})
	require.Error(t, err)
}
