package aggregate

import (
	"errors"
	"fmt"
	"log/slog"

	"pflnet.dev/fedanchor/keys"
	"pflnet.dev/fedanchor/submission"
)

// ValidateBatch filters raw submission records for one round.
//
// Per record, in order: parse (which enforces the required field set), round
// filter, then, when signatures are required, the strict signature check:
// the record's stated signedMessage must equal the canonical message
// reconstructed from the record's own fields, and the signature must recover
// to the claimed submitter. The reconstruction step means a valid
// message/signature pair cannot be grafted onto a record that claims a
// different contentId, round, weight or quality.
//
// The accepted subsequence preserves input order. One Outcome is returned per
// input record. An empty accepted set is ErrNoValidSubmissions: fatal for the
// round, decided before any artifact is fetched.
func ValidateBatch(cfg Config, records [][]byte) ([]submission.Submission, []Outcome, error) {
	log := cfg.logger()

	accepted := make([]submission.Submission, 0, len(records))
	outcomes := make([]Outcome, 0, len(records))

	for i, raw := range records {
		sub, err := submission.Parse(raw)
		if err != nil {
			reason := ReasonMalformedRecord
			if errors.Is(err, submission.ErrMissingField) {
				reason = ReasonMissingField
			}
			outcomes = append(outcomes, skip(log, i, sub.SubmitterIdentity, StageValidate, reason, err.Error()))
			continue
		}

		if sub.Round != cfg.Round {
			// Other-round submissions are routine, not suspicious; recorded
			// but logged at debug only.
			outcomes = append(outcomes, Outcome{
				Index:     i,
				Submitter: sub.SubmitterIdentity,
				Stage:     StageValidate,
				Reason:    ReasonWrongRound,
				Err:       fmt.Sprintf("record is for round %d, want %d", sub.Round, cfg.Round),
			})
			log.Debug("skipping other-round submission",
				"index", i, "submitter", sub.SubmitterIdentity, "round", sub.Round, "want", cfg.Round)
			continue
		}

		if cfg.RequireSignatures {
			if canonical := sub.CanonicalMessage(); sub.SignedMessage != canonical {
				outcomes = append(outcomes, skip(log, i, sub.SubmitterIdentity, StageValidate, ReasonMessageMismatch,
					fmt.Sprintf("signedMessage %q does not match record fields (%q)", sub.SignedMessage, canonical)))
				continue
			}
			if !keys.Verify(sub.SignedMessage, sub.Signature, sub.SubmitterIdentity) {
				outcomes = append(outcomes, skip(log, i, sub.SubmitterIdentity, StageValidate, ReasonSignatureInvalid,
					"signature does not recover to claimed submitter"))
				continue
			}
		}

		accepted = append(accepted, sub)
		outcomes = append(outcomes, Outcome{
			Index:     i,
			Submitter: sub.SubmitterIdentity,
			Stage:     StageValidate,
			Reason:    ReasonAccepted,
		})
	}

	if len(accepted) == 0 {
		return nil, outcomes, fmt.Errorf("%w %d (%d records examined)", ErrNoValidSubmissions, cfg.Round, len(records))
	}
	return accepted, outcomes, nil
}

func skip(log *slog.Logger, index int, submitter, stage string, reason Reason, cause string) Outcome {
	log.Warn("skipping submission",
		"index", index, "submitter", submitter, "stage", stage, "reason", string(reason), "cause", cause)
	return Outcome{Index: index, Submitter: submitter, Stage: stage, Reason: reason, Err: cause}
}
