// Package fileid derives stable local file names for downloaded catalog images.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	hashLen = 24
	ext     = ".jpg"
)

// ImageFileName returns the cache file name for url: the first 24 hex characters of its
// SHA-256 digest plus ".jpg". The same URL always maps to the same name.
func ImageFileName(url string) string {
	hash := sha256.Sum256([]byte(url))
	return hex.EncodeToString(hash[:])[:hashLen] + ext
}
