// Package aggregate drives one round of the verification and aggregation
// engine: validate signed submission records, anchor the accepted set in a
// Merkle root, fetch the referenced model deltas, average them by example
// count, and publish the aggregate back to the artifact store.
package aggregate

import (
	"context"

	"pflnet.dev/fedanchor/contentid"
	"pflnet.dev/fedanchor/merkle"
	"pflnet.dev/fedanchor/storage"
	"pflnet.dev/fedanchor/submission"
	"pflnet.dev/fedanchor/tensor"
)

// Result is everything one completed round produces.
type Result struct {
	RoundNumber uint64

	// AcceptedCount is the number of submissions that passed validation and
	// are anchored under MerkleRoot, whether or not their artifacts fetched.
	AcceptedCount int

	// MerkleRoot is the 0x-prefixed anchor over the accepted set, computed
	// before any artifact is fetched so the anchored set cannot shift with
	// storage weather.
	MerkleRoot string

	// Model is the aggregated delta.
	Model tensor.Collection

	// ModelIntegrityDigest is the sha-256 of the canonical model encoding.
	ModelIntegrityDigest string

	// ModelContentID is the published aggregate's CID, empty when the publish
	// failed (the round still succeeds; the Model is in hand).
	ModelContentID string

	// ManifestContentID is the published manifest's CID, empty when manifest
	// upload was disabled or failed.
	ManifestContentID string

	// Report holds one Outcome per input record, plus one per accepted
	// submission dropped at the fetch stage.
	Report []Outcome
}

// Run executes one full round against the raw submission records.
//
// Fatal errors are batch-wide only: no valid submissions, no usable
// artifacts, or inconsistent tensor shapes. Individual bad records never fail
// the round, and neither does a publish failure.
func Run(ctx context.Context, cfg Config, store storage.CAS, records [][]byte) (*Result, error) {
	log := cfg.logger()

	accepted, report, err := ValidateBatch(cfg, records)
	if err != nil {
		return nil, err
	}

	// The anchor covers exactly what validation accepted. Map each accepted
	// submission back to its input index for the fetch report.
	root := merkle.RootHex(accepted)
	indexes := make([]int, 0, len(accepted))
	for _, o := range report {
		if o.Reason == ReasonAccepted {
			indexes = append(indexes, o.Index)
		}
	}

	deltas, fetchReport, err := FetchArtifacts(ctx, cfg, store, accepted, indexes)
	if err != nil {
		return nil, err
	}
	report = append(report, fetchReport...)

	model, err := WeightedMean(deltas)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RoundNumber:   cfg.Round,
		AcceptedCount: len(accepted),
		MerkleRoot:    root,
		Model:         model,
		Report:        report,
	}
	publish(cfg, store, accepted, res)

	log.Info("round complete",
		"round", cfg.Round,
		"records", len(records),
		"accepted", len(accepted),
		"aggregated", len(accepted)-len(fetchReport),
		"merkleRoot", root,
		"modelCid", res.ModelContentID)
	return res, nil
}

// publish uploads the aggregated model and, when enabled, the accepted-set
// manifest. Both are best effort: the Result carries the model either way,
// and a failed upload leaves the corresponding CID empty.
func publish(cfg Config, store storage.CAS, accepted []submission.Submission, res *Result) {
	log := cfg.logger()

	encoded, err := tensor.Encode(res.Model)
	if err != nil {
		// Encode only fails on an invalid collection, which WeightedMean
		// cannot produce from decoded inputs.
		log.Warn("aggregated model not publishable", "round", res.RoundNumber, "cause", err)
		return
	}
	res.ModelIntegrityDigest = contentid.Digest(encoded)

	if id, err := store.Put(encoded); err != nil {
		log.Warn("model upload failed", "round", res.RoundNumber, "cause", err)
	} else {
		res.ModelContentID = id.String()
	}

	if !cfg.UploadManifest {
		return
	}
	manifest, err := submission.MarshalManifest(accepted)
	if err != nil {
		log.Warn("manifest encoding failed", "round", res.RoundNumber, "cause", err)
		return
	}
	if id, err := store.Put(manifest); err != nil {
		log.Warn("manifest upload failed", "round", res.RoundNumber, "cause", err)
	} else {
		res.ManifestContentID = id.String()
	}
}
