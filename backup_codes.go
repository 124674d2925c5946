package authkit

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// Ambiguous characters (0/O, 1/I) are excluded so codes survive being
// read over the phone or copied from paper.
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newBackupCode returns a code of length characters from the restricted
// alphabet, unformatted.
func newBackupCode(length int) (string, error) {
	if length < 8 {
		return "", errors.New("backup code length must be >= 8")
	}

	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		idx, err := cryptoRandomIndex(len(backupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[idx])
	}
	return b.String(), nil
}

// formatBackupCode inserts a hyphen at the midpoint, XXXX-XXXX style.
func formatBackupCode(code string) string {
	if len(code) < 2 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// canonicalizeBackupCode strips separators and whitespace and upper-cases
// the rest, so users can paste codes in whatever shape they kept them.
func canonicalizeBackupCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func cryptoRandomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
