package aggregate

import "errors"

// Batch-wide failure conditions. Per-submission failures are never errors;
// they are recorded as Outcomes and the batch continues.
var (
	// ErrNoValidSubmissions aborts the round before fetching: nothing passed
	// validation for the requested round.
	ErrNoValidSubmissions = errors.New("aggregate: no valid submissions for round")

	// ErrNoUsableArtifacts aborts the round before aggregation: every
	// accepted submission's artifact failed to fetch or parse.
	ErrNoUsableArtifacts = errors.New("aggregate: no usable artifacts to aggregate")

	// ErrShapeMismatch aborts aggregation: the fetched collections do not
	// share an identical key set and per-key shapes.
	ErrShapeMismatch = errors.New("aggregate: tensor shape mismatch across submissions")
)
