// Package merkle anchors an accepted-submission set in a single keccak-256
// digest that third parties can recompute without re-trusting the aggregator.
//
// Construction: leaves are keccak-256 of canonical leaf text, in accepted
// order. At each level adjacent digests are paired; an odd level duplicates
// its last digest. A parent is keccak-256 of its children concatenated with
// the byte-wise smaller digest first, so membership proofs need not carry
// left/right position bits. The root is pair-order invariant by that sorting
// but deliberately sensitive to the input leaf order across pairs.
package merkle

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"pflnet.dev/fedanchor/submission"
)

// DigestSize is the keccak-256 output size in bytes.
const DigestSize = 32

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// LeafHash returns the keccak-256 digest of a submission's canonical leaf text.
func LeafHash(s submission.Submission) []byte {
	return keccak256([]byte(submission.EncodeLeaf(s)))
}

// Root computes the anchor digest over accepted submissions in order.
//
// Zero submissions yield keccak256 of the empty byte string, by convention,
// rather than an error.
func Root(accepted []submission.Submission) []byte {
	if len(accepted) == 0 {
		return keccak256(nil)
	}
	nodes := make([][]byte, len(accepted))
	for i, s := range accepted {
		nodes[i] = LeafHash(s)
	}
	// A lone leaf still pairs with itself, so a single-submission root is
	// never the bare leaf hash.
	if len(nodes) == 1 {
		return keccak256(nodes[0], nodes[0])
	}
	for len(nodes) > 1 {
		next := make([][]byte, 0, (len(nodes)+1)/2)
		for i := 0; i < len(nodes); i += 2 {
			a := nodes[i]
			b := a
			if i+1 < len(nodes) {
				b = nodes[i+1]
			}
			if bytes.Compare(a, b) > 0 {
				a, b = b, a
			}
			next = append(next, keccak256(a, b))
		}
		nodes = next
	}
	return nodes[0]
}

// RootHex renders Root as a 0x-prefixed hex string suitable for on-chain
// storage.
func RootHex(accepted []submission.Submission) string {
	return "0x" + hex.EncodeToString(Root(accepted))
}
