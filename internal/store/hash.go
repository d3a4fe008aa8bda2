package store

import (
	"crypto/sha256"
	"fmt"
)

// HashChunkContent computes SHA-256 of source + content. It is recorded for
// provenance and duplicate reporting; inserts never reject on it.
func HashChunkContent(content, source string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return fmt.Sprintf("%x", h.Sum(nil))
}
