package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainPart     = "docsync/part/v1"
	DomainSnapshot = "docsync/snapshot/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PartID computes the content address of an encoded fan-out part.
// Identical bytes always map to the same id, so re-publishing is idempotent.
func PartID(encoded []byte) string {
	return hashWithDomain(DomainPart, encoded)
}

// SnapshotHash computes a content hash of a document's plain data.
// Two replicas with equal data produce equal hashes regardless of
// map iteration order or Unicode normalization form.
func SnapshotHash(data Value) (string, error) {
	canonical, err := MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustSnapshotHash is like SnapshotHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSnapshotHash(data Value) string {
	h, err := SnapshotHash(data)
	if err != nil {
		panic(err)
	}
	return h
}
