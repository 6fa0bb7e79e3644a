// Package keys implements the submission signature boundary: recoverable
// secp256k1 signatures over Ethereum personal-message envelopes, plus a small
// filesystem key store for the client tooling.
//
// Identity is an Ethereum-style address derived from the public key recovered
// out of the signature. Verification therefore never needs a key registry: a
// submission authenticates itself or it does not.
package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const signatureLen = 65 // R || S || V

// personalHash applies the Ethereum signed-message envelope before hashing,
// so signatures produced here are incompatible with transaction signatures.
func personalHash(message string) []byte {
	prefixed := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message)) + message
	return crypto.Keccak256([]byte(prefixed))
}

// Sign signs message with priv and returns the 0x-prefixed hex signature.
func Sign(priv *ecdsa.PrivateKey, message string) (string, error) {
	if priv == nil {
		return "", errors.New("keys: missing private key")
	}
	sig, err := crypto.Sign(personalHash(message), priv)
	if err != nil {
		return "", fmt.Errorf("keys: sign: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Recover returns the 0x-prefixed address that produced sigHex over message.
//
// Both recovery-id conventions are accepted: 0/1 as emitted here and 27/28 as
// emitted by wallet tooling.
func Recover(message, sigHex string) (string, error) {
	sig, err := decodeSignature(sigHex)
	if err != nil {
		return "", err
	}
	pub, err := crypto.SigToPub(personalHash(message), sig)
	if err != nil {
		return "", fmt.Errorf("keys: recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// Verify reports whether sigHex over message recovers to claimedIdentity.
//
// Addresses compare case-insensitively. Any recovery failure (malformed hex,
// wrong length, bad recovery id) is verification failure, never an error: a
// single bad submission must not abort a batch.
func Verify(message, sigHex, claimedIdentity string) bool {
	recovered, err := Recover(message, sigHex)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered, claimedIdentity)
}

// GenerateKey creates a fresh secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// Address returns the 0x-prefixed address for priv's public key.
func Address(priv *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(priv.PublicKey).Hex()
}

func decodeSignature(sigHex string) ([]byte, error) {
	s := strings.TrimPrefix(sigHex, "0x")
	sig, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keys: invalid signature hex: %w", err)
	}
	if len(sig) != signatureLen {
		return nil, fmt.Errorf("keys: signature length %d, want %d", len(sig), signatureLen)
	}
	// Normalize the recovery id to the 0/1 convention SigToPub expects.
	if sig[signatureLen-1] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[signatureLen-1] -= 27
	}
	if sig[signatureLen-1] > 1 {
		return nil, errors.New("keys: invalid recovery id")
	}
	return sig, nil
}
