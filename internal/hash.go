package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken is the at-rest form of a refresh token: sha256, hex encoded.
// Storing only the digest keeps a database leak from yielding usable
// tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
