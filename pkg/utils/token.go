package utils

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

var hexPubkeyRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// GenerateToken generates a random hex token of n bytes
func GenerateToken(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// IsValidPubkey checks if a string is a 32-byte lowercase hex public key
func IsValidPubkey(pubkey string) bool {
	return hexPubkeyRe.MatchString(pubkey)
}

// NormalizePubkey lowercases a hex public key
func NormalizePubkey(pubkey string) string {
	return strings.ToLower(strings.TrimSpace(pubkey))
}
