// Package sha256 provides content digests for stored page snapshots.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ShortSum returns the first 12 hex characters of the digest, enough to
// distinguish snapshots of the same task without unwieldy object names.
func ShortSum(data []byte) string {
	return Sum(data)[:12]
}
