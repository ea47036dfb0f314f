// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic content fingerprints.
//
// Every fingerprint in the governance core is content-derived: the record is
// canonicalized, hashed with SHA-256, and prefixed with the algorithm name.
// Two records with the same bound fields always produce the same fingerprint,
// regardless of field order or marshaling incidentals.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// FingerprintPrefix identifies the hash algorithm in every fingerprint string.
const FingerprintPrefix = "sha256:"

// JCS returns the RFC 8785 canonical JSON representation of v.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform failed: %w", err)
	}
	return canonical, nil
}

// Fingerprint returns the content fingerprint of v: the SHA-256 digest of its
// canonical JSON form, hex encoded with the algorithm prefix.
func Fingerprint(v any) (string, error) {
	canonical, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// HashBytes computes the SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return FingerprintPrefix + hex.EncodeToString(sum[:])
}

// ChainFold computes one step of the hash-linked chain fold:
// next = sha256(prev || fingerprint). The previous head is mixed in as raw
// bytes so the fold cannot be restarted mid-chain.
func ChainFold(prevHead, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(prevHead))
	h.Write([]byte(fingerprint))
	return FingerprintPrefix + hex.EncodeToString(h.Sum(nil))
}
