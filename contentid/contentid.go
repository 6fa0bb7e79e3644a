// Package contentid derives content identifiers and integrity digests for
// stored artifacts.
//
// Every artifact in the system is addressed by a CIDv1 using the "raw"
// multicodec and a sha2-256 multihash, derived from the artifact bytes.
// Submission records additionally carry a plain lowercase-hex SHA-256 of the
// artifact so third parties can check integrity without multiformats tooling.
package contentid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ForBytes returns the CIDv1 (raw + sha2-256) addressing data.
func ForBytes(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// String returns the CIDv1 string for data.
func String(data []byte) string {
	id, err := ForBytes(data)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1
		// length this is unreachable.
		return ""
	}
	return id.String()
}

// Parse decodes a content identifier string into a defined CID.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("contentid: invalid content identifier %q: %w", s, err)
	}
	if !id.Defined() {
		return cid.Undef, fmt.Errorf("contentid: undefined content identifier %q", s)
	}
	return id, nil
}

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
