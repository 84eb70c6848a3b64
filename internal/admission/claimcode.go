package admission

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// claimCodeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const claimCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const claimCodeLen = 8

// GenerateClaimCode returns a human-enterable code in XXXX-XXXX form.
func GenerateClaimCode() (string, error) {
	buf := make([]byte, claimCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	chars := make([]byte, claimCodeLen)
	for i, b := range buf {
		chars[i] = claimCodeAlphabet[int(b)%len(claimCodeAlphabet)]
	}
	return string(chars[:4]) + "-" + string(chars[4:]), nil
}

// HashClaimCode returns the hex-encoded SHA-256 of a normalized claim code.
// Codes are case-insensitive and separators are ignored.
func HashClaimCode(code string) string {
	normalized := strings.ToUpper(code)
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
