package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashUserKey returns a path-safe identifier for an owner key such as "user|job".
func HashUserKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
