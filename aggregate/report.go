package aggregate

// Reason is a stable category for one submission's outcome. Callers branch on
// Reason, never on message text.
type Reason string

const (
	ReasonAccepted         Reason = "accepted"
	ReasonMalformedRecord  Reason = "malformed-record"
	ReasonWrongRound       Reason = "wrong-round"
	ReasonMissingField     Reason = "missing-field"
	ReasonMessageMismatch  Reason = "message-mismatch"
	ReasonSignatureInvalid Reason = "signature-invalid"
	ReasonFetchFailed      Reason = "fetch-failed"
	ReasonParseFailed      Reason = "parse-failed"
	ReasonDigestMismatch   Reason = "digest-mismatch"
)

// Stages a submission can fail in.
const (
	StageValidate = "validate"
	StageFetch    = "fetch"
)

// Outcome records what happened to one input record. Skips on untrusted input
// are the normal tail of a permissionless batch, so they are modeled as
// values collected into a report rather than as errors.
//
// A submission that validated but whose artifact failed to fetch keeps its
// place in the accepted set (and the Merkle anchor); only its contribution to
// the aggregate is dropped.
type Outcome struct {
	// Index is the record's position in the round's input sequence.
	Index int `json:"index"`
	// Submitter is the claimed identity, when the record parsed far enough
	// to know it.
	Submitter string `json:"submitter,omitempty"`
	// Stage is where the outcome was decided: validate or fetch.
	Stage  string `json:"stage"`
	Reason Reason `json:"reason"`
	// Err is the human-readable cause for non-accepted outcomes.
	Err string `json:"err,omitempty"`
}

// Accepted reports whether the submission survived validation (it may still
// have been dropped from aggregation at the fetch stage).
func (o Outcome) Accepted() bool {
	return o.Reason == ReasonAccepted || o.Stage == StageFetch
}
