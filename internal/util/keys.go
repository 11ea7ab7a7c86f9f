package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey returns a deterministic, bounded form of k: the first keep bytes,
// a '#' marker and the hex SHA-256 of the full key.
func HashKey(k string, keep int) string {
	if keep > len(k) {
		keep = len(k)
	}
	sum := sha256.Sum256([]byte(k))
	return k[:keep] + "#" + hex.EncodeToString(sum[:])
}
