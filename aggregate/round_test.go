package aggregate

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"pflnet.dev/fedanchor/contentid"
	"pflnet.dev/fedanchor/keys"
	"pflnet.dev/fedanchor/storage/testkit"
	"pflnet.dev/fedanchor/submission"
	"pflnet.dev/fedanchor/tensor"
)

func quietConfig(round uint64) Config {
	cfg := DefaultConfig(round)
	cfg.Logger = slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	return cfg
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	priv, err := keys.GenerateKey()
	require.NoError(t, err)
	return priv
}

func scalarDelta(v float32) tensor.Collection {
	return tensor.Collection{"w": {Shape: []int64{1}, Data: []float32{v}}}
}

// signedRecord stores the encoded delta, then builds and signs a submission
// record for it, the same way a participant would.
func signedRecord(t *testing.T, store *testkit.MemCAS, priv *ecdsa.PrivateKey, round, numExamples uint64, delta tensor.Collection) []byte {
	t.Helper()

	encoded, err := tensor.Encode(delta)
	require.NoError(t, err)
	id, err := store.Put(encoded)
	require.NoError(t, err)

	sub := submission.Submission{
		ContentID:         id.String(),
		IntegrityDigest:   contentid.Digest(encoded),
		Round:             round,
		NumExamples:       numExamples,
		Quality:           0,
		SubmitterIdentity: keys.Address(priv),
	}
	sub.SignedMessage = sub.CanonicalMessage()
	sig, err := keys.Sign(priv, sub.SignedMessage)
	require.NoError(t, err)
	sub.Signature = sig

	raw, err := sub.Marshal()
	require.NoError(t, err)
	return raw
}

func TestValidateBatchForgedSignature(t *testing.T) {
	store := testkit.NewMemCAS()
	honest1, honest2, forger := newKey(t), newKey(t), newKey(t)

	good1 := signedRecord(t, store, honest1, 5, 10, scalarDelta(1))
	good2 := signedRecord(t, store, honest2, 5, 20, scalarDelta(2))

	// The forger signs correctly but claims someone else's identity.
	forged, err := submission.Parse(signedRecord(t, store, forger, 5, 99, scalarDelta(9)))
	require.NoError(t, err)
	forged.SubmitterIdentity = keys.Address(honest1)
	// Re-canonicalize so the failure is pinned to recovery, not the message check.
	forged.SignedMessage = forged.CanonicalMessage()
	rawForged, err := forged.Marshal()
	require.NoError(t, err)

	accepted, outcomes, err := ValidateBatch(quietConfig(5), [][]byte{good1, rawForged, good2})
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	require.Len(t, outcomes, 3)
	require.Equal(t, ReasonAccepted, outcomes[0].Reason)
	require.Equal(t, ReasonSignatureInvalid, outcomes[1].Reason)
	require.Equal(t, ReasonAccepted, outcomes[2].Reason)
	require.Equal(t, keys.Address(honest1), accepted[0].SubmitterIdentity)
	require.Equal(t, keys.Address(honest2), accepted[1].SubmitterIdentity)
}

func TestValidateBatchMessageMismatch(t *testing.T) {
	store := testkit.NewMemCAS()
	priv := newKey(t)

	// A correctly signed record whose declared weight is then inflated. The
	// signature still verifies against signedMessage, so only the
	// reconstruction check can catch it.
	sub, err := submission.Parse(signedRecord(t, store, priv, 3, 10, scalarDelta(1)))
	require.NoError(t, err)
	sub.NumExamples = 1000000
	raw, err := sub.Marshal()
	require.NoError(t, err)

	_, outcomes, err := ValidateBatch(quietConfig(3), [][]byte{raw})
	require.ErrorIs(t, err, ErrNoValidSubmissions)
	require.Len(t, outcomes, 1)
	require.Equal(t, ReasonMessageMismatch, outcomes[0].Reason)
}

func TestValidateBatchFiltersRoundsAndGarbage(t *testing.T) {
	store := testkit.NewMemCAS()
	priv := newKey(t)

	current := signedRecord(t, store, priv, 7, 10, scalarDelta(1))
	stale := signedRecord(t, store, priv, 6, 10, scalarDelta(1))

	accepted, outcomes, err := ValidateBatch(quietConfig(7), [][]byte{
		stale,
		[]byte("{not json"),
		current,
	})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	require.Equal(t, ReasonWrongRound, outcomes[0].Reason)
	require.Equal(t, ReasonMalformedRecord, outcomes[1].Reason)
	require.Equal(t, ReasonAccepted, outcomes[2].Reason)
	require.Equal(t, 2, outcomes[2].Index)
}

func TestValidateBatchEmpty(t *testing.T) {
	_, _, err := ValidateBatch(quietConfig(1), nil)
	require.ErrorIs(t, err, ErrNoValidSubmissions)
}

func TestWeightedMean(t *testing.T) {
	deltas := []*Artifact{
		{Delta: scalarDelta(1.0), Weight: 100},
		{Delta: scalarDelta(2.0), Weight: 300},
	}
	model, err := WeightedMean(deltas)
	require.NoError(t, err)
	require.InDelta(t, 1.75, model["w"].Data[0], 1e-6)

	// Scaling all weights must not move the result.
	deltas[0].Weight, deltas[1].Weight = 1, 3
	model, err = WeightedMean(deltas)
	require.NoError(t, err)
	require.InDelta(t, 1.75, model["w"].Data[0], 1e-6)
}

func TestWeightedMeanSkipsNilSlots(t *testing.T) {
	deltas := []*Artifact{
		{Delta: scalarDelta(1.0), Weight: 10},
		nil,
		{Delta: scalarDelta(3.0), Weight: 30},
	}
	model, err := WeightedMean(deltas)
	require.NoError(t, err)
	require.InDelta(t, 2.5, model["w"].Data[0], 1e-6)
}

func TestWeightedMeanShapeMismatch(t *testing.T) {
	deltas := []*Artifact{
		{Delta: scalarDelta(1.0), Weight: 1},
		{Delta: tensor.Collection{"w": {Shape: []int64{2}, Data: []float32{1, 2}}}, Weight: 1},
	}
	_, err := WeightedMean(deltas)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFetchArtifactsPartialFailure(t *testing.T) {
	store := testkit.NewMemCAS()
	a, b := newKey(t), newKey(t)

	recA := signedRecord(t, store, a, 1, 10, scalarDelta(1))
	recB := signedRecord(t, store, b, 1, 20, scalarDelta(2))

	accepted, _, err := ValidateBatch(quietConfig(1), [][]byte{recA, recB})
	require.NoError(t, err)

	store.FailGet[accepted[0].ContentID] = true

	deltas, outcomes, err := FetchArtifacts(context.Background(), quietConfig(1), store, accepted, []int{0, 1})
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	require.Nil(t, deltas[0])
	require.NotNil(t, deltas[1])
	require.Len(t, outcomes, 1)
	require.Equal(t, StageFetch, outcomes[0].Stage)
	require.Equal(t, ReasonFetchFailed, outcomes[0].Reason)
	require.Equal(t, 0, outcomes[0].Index)
	// A fetch-stage drop is still an accepted (anchored) submission.
	require.True(t, outcomes[0].Accepted())
}

func TestFetchArtifactsDigestMismatch(t *testing.T) {
	store := testkit.NewMemCAS()
	priv := newKey(t)

	sub, err := submission.Parse(signedRecord(t, store, priv, 1, 10, scalarDelta(1)))
	require.NoError(t, err)
	sub.IntegrityDigest = "0000000000000000000000000000000000000000000000000000000000000000"

	deltas, outcomes, err := FetchArtifacts(context.Background(), quietConfig(1), store, []submission.Submission{sub}, []int{0})
	require.ErrorIs(t, err, ErrNoUsableArtifacts)
	require.Nil(t, deltas)
	require.Len(t, outcomes, 1)
	require.Equal(t, ReasonDigestMismatch, outcomes[0].Reason)
}

func TestFetchArtifactsCanceled(t *testing.T) {
	store := testkit.NewMemCAS()
	a, b := newKey(t), newKey(t)

	accepted, _, err := ValidateBatch(quietConfig(1), [][]byte{
		signedRecord(t, store, a, 1, 10, scalarDelta(1)),
		signedRecord(t, store, b, 1, 20, scalarDelta(2)),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deltas, outcomes, err := FetchArtifacts(ctx, quietConfig(1), store, accepted, []int{0, 1})
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, deltas)
	require.Nil(t, outcomes)
}

func TestFetchArtifactsAllFail(t *testing.T) {
	store := testkit.NewMemCAS()
	priv := newKey(t)

	accepted, _, err := ValidateBatch(quietConfig(1), [][]byte{signedRecord(t, store, priv, 1, 10, scalarDelta(1))})
	require.NoError(t, err)
	store.FailGet[accepted[0].ContentID] = true

	_, _, err = FetchArtifacts(context.Background(), quietConfig(1), store, accepted, []int{0})
	require.ErrorIs(t, err, ErrNoUsableArtifacts)
}

func TestRunRound(t *testing.T) {
	store := testkit.NewMemCAS()
	k1, k2, k3 := newKey(t), newKey(t), newKey(t)

	records := [][]byte{
		signedRecord(t, store, k1, 1, 10, scalarDelta(1.0)),
		signedRecord(t, store, k2, 1, 20, scalarDelta(2.0)),
		signedRecord(t, store, k3, 1, 70, scalarDelta(3.0)),
	}

	res, err := Run(context.Background(), quietConfig(1), store, records)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.RoundNumber)
	require.Equal(t, 3, res.AcceptedCount)
	require.InDelta(t, 2.6, res.Model["w"].Data[0], 1e-6)

	// The anchor is over the accepted set, computed deterministically.
	require.Len(t, res.MerkleRoot, 66)
	require.Equal(t, "0x", res.MerkleRoot[:2])

	// The aggregate and manifest landed in the store and round-trip.
	modelID, err := contentid.Parse(res.ModelContentID)
	require.NoError(t, err)
	blob, err := store.Get(modelID)
	require.NoError(t, err)
	require.Equal(t, res.ModelIntegrityDigest, contentid.Digest(blob))
	decoded, err := tensor.Decode(blob)
	require.NoError(t, err)
	require.InDelta(t, 2.6, decoded["w"].Data[0], 1e-6)

	require.NotEmpty(t, res.ManifestContentID)
	manifestID, err := contentid.Parse(res.ManifestContentID)
	require.NoError(t, err)
	require.True(t, store.Has(manifestID))
}

func TestRunRoundForgedMinority(t *testing.T) {
	store := testkit.NewMemCAS()
	k1, k2, forger := newKey(t), newKey(t), newKey(t)

	forged, err := submission.Parse(signedRecord(t, store, forger, 1, 1000, scalarDelta(100)))
	require.NoError(t, err)
	forged.SubmitterIdentity = keys.Address(k1)
	forged.SignedMessage = forged.CanonicalMessage()
	rawForged, err := forged.Marshal()
	require.NoError(t, err)

	res, err := Run(context.Background(), quietConfig(1), store, [][]byte{
		signedRecord(t, store, k1, 1, 10, scalarDelta(1.0)),
		rawForged,
		signedRecord(t, store, k2, 1, 30, scalarDelta(2.0)),
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.AcceptedCount)
	// The forged delta of 100 never touches the aggregate.
	require.InDelta(t, 1.75, res.Model["w"].Data[0], 1e-6)
}

func TestRunRoundNothingValid(t *testing.T) {
	store := testkit.NewMemCAS()
	priv := newKey(t)
	stale := signedRecord(t, store, priv, 1, 10, scalarDelta(1.0))

	_, err := Run(context.Background(), quietConfig(2), store, [][]byte{stale})
	require.ErrorIs(t, err, ErrNoValidSubmissions)
}
