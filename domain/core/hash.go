package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// BatchFingerprint identifies the exact set of data points that fed one
// analysis run. Two fetches of an unchanged protocol produce equal
// fingerprints regardless of row order.
type BatchFingerprint Hash

// ComputeBatchFingerprint hashes a sorted list of data point IDs.
func ComputeBatchFingerprint(pointIDs []string) BatchFingerprint {
	ids := make([]string, len(pointIDs))
	copy(ids, pointIDs)
	sort.Strings(ids)

	var data strings.Builder
	for _, id := range ids {
		data.WriteString(id)
		data.WriteByte('\n')
	}
	return BatchFingerprint(NewHash([]byte(data.String())))
}

// String returns the string representation
func (f BatchFingerprint) String() string { return Hash(f).String() }

// IsEmpty checks if the fingerprint is empty
func (f BatchFingerprint) IsEmpty() bool { return f == "" }
