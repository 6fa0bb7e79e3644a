package submission

import "fmt"

// EncodeSignedMessage is the canonical text a participant signs.
//
// The submitter identity is deliberately omitted: identity is established by
// recovering the signer from the signature, not by trusting signed text.
func EncodeSignedMessage(contentID string, round, numExamples uint64, quality int64) string {
	return fmt.Sprintf("%s|round:%d|examples:%d|quality:%d", contentID, round, numExamples, quality)
}

// EncodeLeaf is the canonical leaf text anchoring an accepted submission in
// the round's Merkle tree. Unlike the signed message it includes the
// submitter, so the anchor commits to who contributed.
func EncodeLeaf(s Submission) string {
	return fmt.Sprintf("%s|round:%d|examples:%d|quality:%d|submitter:%s",
		s.ContentID, s.Round, s.NumExamples, s.Quality, s.SubmitterIdentity)
}

// CanonicalMessage returns EncodeSignedMessage reconstructed from the record's
// own fields. The validator requires this to equal the record's SignedMessage,
// so a valid message/signature pair cannot be grafted onto a record describing
// a different artifact.
func (s Submission) CanonicalMessage() string {
	return EncodeSignedMessage(s.ContentID, s.Round, s.NumExamples, s.Quality)
}
