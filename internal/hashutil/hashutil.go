// Package hashutil provides the content-identity hashing used across the
// ingest and backup pipelines. Both document identity (content_hash) and
// chunk identity (text_hash) are SHA-256 hex digests; no third-party hash
// package in the example pack covers this, and crypto/sha256 is the
// conventional choice for content-addressing in Go.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the document identity hash: SHA-256(title ++ content).
func ContentHash(title, content string) string {
	return hashOf(title + content)
}

// TextHash returns the chunk identity hash over the (possibly transformed) chunk text.
func TextHash(text string) string {
	return hashOf(text)
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
