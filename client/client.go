// Package client builds signed submission records the way a training
// participant does: optionally privatize the delta, store it, and sign the
// canonical message binding the stored artifact to this round's claim.
package client

import (
	"crypto/ecdsa"
	"fmt"
	"math/rand"

	"pflnet.dev/fedanchor/contentid"
	"pflnet.dev/fedanchor/keys"
	"pflnet.dev/fedanchor/privacy"
	"pflnet.dev/fedanchor/storage"
	"pflnet.dev/fedanchor/submission"
	"pflnet.dev/fedanchor/tensor"
)

// Options configures one Submit call.
type Options struct {
	Round       uint64
	NumExamples uint64
	Quality     int64

	// ClipNorm and NoiseSigma enable the differential-privacy transform when
	// ClipNorm is positive. Rand seeds the noise; nil means a fresh
	// time-seeded source.
	ClipNorm   float64
	NoiseSigma float64
	Rand       *rand.Rand
}

// Submit privatizes (when configured), encodes and stores delta, then returns
// the signed submission record referencing it. The store must be the same
// store the round's aggregator will fetch from.
func Submit(store storage.CAS, priv *ecdsa.PrivateKey, delta tensor.Collection, opts Options) (submission.Submission, error) {
	if priv == nil {
		return submission.Submission{}, fmt.Errorf("client: missing signing key")
	}
	if opts.NumExamples == 0 {
		return submission.Submission{}, fmt.Errorf("client: example count must be positive")
	}

	if opts.ClipNorm > 0 {
		var err error
		delta, err = privacy.ClipAndNoise(delta, opts.ClipNorm, opts.NoiseSigma, opts.Rand)
		if err != nil {
			return submission.Submission{}, fmt.Errorf("client: privatize delta: %w", err)
		}
	}

	encoded, err := tensor.Encode(delta)
	if err != nil {
		return submission.Submission{}, fmt.Errorf("client: encode delta: %w", err)
	}
	id, err := store.Put(encoded)
	if err != nil {
		return submission.Submission{}, fmt.Errorf("client: store delta: %w", err)
	}

	sub := submission.Submission{
		ContentID:         id.String(),
		IntegrityDigest:   contentid.Digest(encoded),
		Round:             opts.Round,
		NumExamples:       opts.NumExamples,
		Quality:           opts.Quality,
		SubmitterIdentity: keys.Address(priv),
	}
	sub.SignedMessage = sub.CanonicalMessage()
	sub.Signature, err = keys.Sign(priv, sub.SignedMessage)
	if err != nil {
		return submission.Submission{}, fmt.Errorf("client: %w", err)
	}
	return sub, nil
}
