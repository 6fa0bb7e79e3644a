// Package storage defines the content-addressed artifact store boundary used
// by the aggregation engine: delta artifacts, aggregated models and round
// manifests are all opaque blobs addressed by CID.
package storage

import "github.com/ipfs/go-cid"

// CAS is the minimal content-addressable artifact store interface.
//
// Contract:
//   - Put MUST be idempotent (at-least-once delivery is safe).
//   - Stored artifacts MUST be immutable.
//   - CIDs MUST be derived from the bytes written.
//   - Get MUST be idempotent, MUST verify the returned bytes against the
//     requested CID, and MUST return ErrNotFound when the CID is absent.
//   - Network-backed implementations own their timeout budget; no call may
//     block indefinitely.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}
