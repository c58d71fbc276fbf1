package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the hex-encoded SHA-256 digest of s.
func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
