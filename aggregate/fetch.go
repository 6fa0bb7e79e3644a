package aggregate

import (
	"context"
	"fmt"
	"sync"

	"pflnet.dev/fedanchor/contentid"
	"pflnet.dev/fedanchor/storage"
	"pflnet.dev/fedanchor/submission"
	"pflnet.dev/fedanchor/tensor"
)

// Artifact is one accepted submission's delta, decoded and ready to
// aggregate. A nil entry in the results slice means the artifact was dropped
// at the fetch stage.
type Artifact struct {
	Delta tensor.Collection
	// Weight is the submission's declared example count.
	Weight uint64
}

// FetchArtifacts retrieves and decodes the model delta for each accepted
// submission. Workers write into per-index slots of a pre-sized results
// slice, so output order matches input order with no coordination beyond the
// job channel.
//
// indexes maps each accepted submission back to its position in the round's
// raw input, so fetch-stage Outcomes carry the same Index space as
// validate-stage ones.
//
// A fetch or decode failure drops that one submission from aggregation and is
// recorded as an Outcome; only an empty result set is fatal.
func FetchArtifacts(ctx context.Context, cfg Config, store storage.CAS, accepted []submission.Submission, indexes []int) ([]*Artifact, []Outcome, error) {
	if len(indexes) != len(accepted) {
		return nil, nil, fmt.Errorf("aggregate: %d accepted submissions but %d indexes", len(accepted), len(indexes))
	}
	log := cfg.logger()

	results := make([]*Artifact, len(accepted))
	outcomeSlots := make([]*Outcome, len(accepted))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := cfg.fetchWorkers()
	if workers > len(accepted) {
		workers = len(accepted)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], outcomeSlots[i] = fetchOne(store, accepted[i], indexes[i])
			}
		}()
	}

feed:
	for i := range accepted {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("aggregate: fetch canceled: %w", err)
	}

	outcomes := make([]Outcome, 0, len(accepted))
	usable := 0
	for i, o := range outcomeSlots {
		if o == nil {
			continue
		}
		log.Warn("dropping submission artifact",
			"index", o.Index, "submitter", o.Submitter, "cid", accepted[i].ContentID,
			"reason", string(o.Reason), "cause", o.Err)
		outcomes = append(outcomes, *o)
	}
	for _, r := range results {
		if r != nil {
			usable++
		}
	}
	if usable == 0 {
		return nil, outcomes, fmt.Errorf("%w (all %d fetches failed)", ErrNoUsableArtifacts, len(accepted))
	}
	return results, outcomes, nil
}

// fetchOne resolves a single artifact. Exactly one of the returns is non-nil.
func fetchOne(store storage.CAS, sub submission.Submission, index int) (*Artifact, *Outcome) {
	fail := func(reason Reason, cause string) (*Artifact, *Outcome) {
		return nil, &Outcome{
			Index:     index,
			Submitter: sub.SubmitterIdentity,
			Stage:     StageFetch,
			Reason:    reason,
			Err:       cause,
		}
	}

	id, err := contentid.Parse(sub.ContentID)
	if err != nil {
		return fail(ReasonFetchFailed, err.Error())
	}
	blob, err := store.Get(id)
	if err != nil {
		return fail(ReasonFetchFailed, err.Error())
	}
	// Get verified the blob against its CID; the record's separate digest
	// field is checked too so a record cannot bind a valid CID to a different
	// claimed payload.
	if got := contentid.Digest(blob); got != sub.IntegrityDigest {
		return fail(ReasonDigestMismatch,
			fmt.Sprintf("artifact digest %s does not match declared %s", got, sub.IntegrityDigest))
	}
	delta, err := tensor.Decode(blob)
	if err != nil {
		return fail(ReasonParseFailed, err.Error())
	}
	return &Artifact{Delta: delta, Weight: sub.NumExamples}, nil
}
