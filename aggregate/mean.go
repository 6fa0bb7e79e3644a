package aggregate

import (
	"fmt"

	"pflnet.dev/fedanchor/tensor"
)

// WeightedMean computes the example-weighted average of the usable deltas.
// Nil slots (dropped at the fetch stage) are skipped; the weights of the
// remaining deltas are renormalized so the result is still a convex
// combination.
//
// Every usable delta must carry the same key set and per-key shapes; a
// mismatch is fatal because silently dropping the odd one out would change
// the aggregate without anyone signing off on it.
//
// Accumulation is float32 in ascending submission order, so the result is
// bit-reproducible across runs for the same inputs.
func WeightedMean(deltas []*Artifact) (tensor.Collection, error) {
	var (
		first *Artifact
		total uint64
	)
	for _, d := range deltas {
		if d == nil {
			continue
		}
		if first == nil {
			first = d
		} else if err := sameShape(first.Delta, d.Delta); err != nil {
			return nil, err
		}
		total += d.Weight
	}
	if first == nil {
		return nil, ErrNoUsableArtifacts
	}
	if total == 0 {
		// Unreachable through validation, which rejects zero example counts.
		return nil, fmt.Errorf("aggregate: total weight is zero")
	}

	keys := first.Delta.SortedKeys()
	out := make(tensor.Collection, len(keys))
	for _, key := range keys {
		ref := first.Delta[key]
		acc := make([]float32, len(ref.Data))
		for _, d := range deltas {
			if d == nil {
				continue
			}
			frac := float32(float64(d.Weight) / float64(total))
			for i, v := range d.Delta[key].Data {
				acc[i] += frac * v
			}
		}
		shape := make([]int64, len(ref.Shape))
		copy(shape, ref.Shape)
		out[key] = tensor.Tensor{Shape: shape, Data: acc}
	}
	return out, nil
}

func sameShape(a, b tensor.Collection) error {
	if !tensor.SameShape(a, b) {
		return fmt.Errorf("%w: key sets or shapes differ", ErrShapeMismatch)
	}
	return nil
}
