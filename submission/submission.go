// Package submission defines one participant's signed claim for one
// aggregation round and its canonical text encodings.
//
// A submission references a content-addressed delta artifact and binds the
// reference to a signing identity. Records arrive from untrusted participants;
// Parse enforces the wire contract and nothing else; authenticity is the
// validator's concern.
package submission

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingField reports a record whose required field set is incomplete.
var ErrMissingField = errors.New("submission: missing required field")

// Submission is one participant's claim for one round. Created by a
// participant, read-only thereafter.
//
// SignedMessage must equal EncodeSignedMessage over the record's own
// ContentID, Round, NumExamples and Quality; the validator rejects records
// where the stated message and the rest of the record disagree.
type Submission struct {
	ContentID         string `json:"contentId"`
	IntegrityDigest   string `json:"integrityDigest"`
	Round             uint64 `json:"round"`
	NumExamples       uint64 `json:"numExamples"`
	Quality           int64  `json:"quality"`
	SubmitterIdentity string `json:"submitterIdentity"`
	SignedMessage     string `json:"signedMessage"`
	Signature         string `json:"signature"`
}

// wireRecord mirrors Submission with pointer fields so absent and present-but-
// zero values are distinguishable during parsing.
type wireRecord struct {
	ContentID         *string `json:"contentId"`
	IntegrityDigest   *string `json:"integrityDigest"`
	Round             *uint64 `json:"round"`
	NumExamples       *uint64 `json:"numExamples"`
	Quality           *int64  `json:"quality"`
	SubmitterIdentity *string `json:"submitterIdentity"`
	SignedMessage     *string `json:"signedMessage"`
	Signature         *string `json:"signature"`
}

// Parse decodes one JSON submission record and enforces the required field
// set. It does not verify signatures or artifact integrity.
func Parse(raw []byte) (Submission, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Submission{}, fmt.Errorf("submission: malformed record: %w", err)
	}

	missing := func(name string) (Submission, error) {
		return Submission{}, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	switch {
	case w.ContentID == nil || *w.ContentID == "":
		return missing("contentId")
	case w.IntegrityDigest == nil || *w.IntegrityDigest == "":
		return missing("integrityDigest")
	case w.Round == nil:
		return missing("round")
	case w.NumExamples == nil:
		return missing("numExamples")
	case w.Quality == nil:
		return missing("quality")
	case w.SubmitterIdentity == nil || *w.SubmitterIdentity == "":
		return missing("submitterIdentity")
	case w.SignedMessage == nil || *w.SignedMessage == "":
		return missing("signedMessage")
	case w.Signature == nil || *w.Signature == "":
		return missing("signature")
	}

	if *w.NumExamples == 0 {
		return Submission{}, errors.New("submission: numExamples must be positive")
	}

	return Submission{
		ContentID:         *w.ContentID,
		IntegrityDigest:   *w.IntegrityDigest,
		Round:             *w.Round,
		NumExamples:       *w.NumExamples,
		Quality:           *w.Quality,
		SubmitterIdentity: *w.SubmitterIdentity,
		SignedMessage:     *w.SignedMessage,
		Signature:         *w.Signature,
	}, nil
}

// Marshal renders the record in the wire format.
func (s Submission) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// MarshalManifest renders an ordered sequence of accepted submissions as one
// artifact (a JSON array in wire field names).
func MarshalManifest(accepted []Submission) ([]byte, error) {
	if accepted == nil {
		accepted = []Submission{}
	}
	return json.Marshal(accepted)
}
