// Package privacy implements the client-side differential-privacy transform
// applied to a delta before it is ever published.
//
// The parameters (clip norm and noise scale) are round-wide policy. The
// aggregator assumes every published delta went through this transform; it
// does not and cannot re-derive the parameters from the artifact.
package privacy

import (
	"math"
	"math/rand"
	"time"

	"pflnet.dev/fedanchor/tensor"
)

// ClipAndNoise L2-clips the delta and adds calibrated Gaussian noise.
//
// The collection is flattened into one conceptual vector ordered by ascending
// key, then by each tensor's natural flattening order. If the vector's L2 norm
// exceeds clipNorm (and is positive) the whole vector is scaled by
// clipNorm/norm. Independent zero-mean Gaussian noise with standard deviation
// sigma*clipNorm is then added to every element, and the vector is unflattened
// back into the original per-key shapes.
//
// rng may be nil, in which case a time-seeded source is used. Tests pass a
// fixed seed for reproducibility.
func ClipAndNoise(delta tensor.Collection, clipNorm, sigma float64, rng *rand.Rand) (tensor.Collection, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	keys := delta.SortedKeys()
	total := 0
	for _, k := range keys {
		total += len(delta[k].Data)
	}

	flat := make([]float64, 0, total)
	for _, k := range keys {
		for _, v := range delta[k].Data {
			flat = append(flat, float64(v))
		}
	}

	var sumSq float64
	for _, v := range flat {
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm > clipNorm && norm > 0 {
		scale := clipNorm / norm
		for i := range flat {
			flat[i] *= scale
		}
	}

	std := sigma * clipNorm
	if std > 0 {
		for i := range flat {
			flat[i] += rng.NormFloat64() * std
		}
	}

	out := make(tensor.Collection, len(delta))
	idx := 0
	for _, k := range keys {
		src := delta[k]
		t := tensor.Tensor{
			Shape: append([]int64(nil), src.Shape...),
			Data:  make([]float32, len(src.Data)),
		}
		for i := range t.Data {
			t.Data[i] = float32(flat[idx])
			idx++
		}
		out[k] = t
	}
	return out, nil
}
