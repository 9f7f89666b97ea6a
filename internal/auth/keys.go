package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// MatchKey reports whether key hashes to expectedHash.
func MatchKey(key, expectedHash string) bool {
	if expectedHash == "" {
		return false
	}
	got := HashKey(key)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(strings.TrimSpace(expectedHash)))) == 1
}
