// Package sha256 digests archived result pages. The digest names the archive
// object, so the same page fetched twice maps to the same path.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortLen is how many hex characters of a digest go into an archive name.
const ShortLen = 16

// Hasher implements permit.Hasher.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex SHA-256 digest of a page body.
func (h *Hasher) Hash(page []byte) (string, error) {
	sum := sha256.Sum256(page)
	return hex.EncodeToString(sum[:]), nil
}

// Short truncates a digest to ShortLen characters for use in object names.
func Short(digest string) string {
	if len(digest) > ShortLen {
		return digest[:ShortLen]
	}
	return digest
}
