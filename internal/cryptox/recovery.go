package cryptox

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// recoveryAlphabet excludes 0/O, 1/I/L and other glyphs people confuse
// when copying a code off paper.
const recoveryAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	recoveryGroups    = 8
	recoveryGroupSize = 5
)

// NewRecoveryCode generates a human-writable recovery code of the form
// XXXXX-XXXXX-... (8 groups of 5 characters from a 31-character alphabet,
// just under 200 bits). The code is only ever presented once; afterwards
// only an encrypted display copy survives.
func NewRecoveryCode() (string, error) {
	max := big.NewInt(int64(len(recoveryAlphabet)))
	groups := make([]string, 0, recoveryGroups)
	var b strings.Builder
	for g := 0; g < recoveryGroups; g++ {
		b.Reset()
		for i := 0; i < recoveryGroupSize; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b.WriteByte(recoveryAlphabet[n.Int64()])
		}
		groups = append(groups, b.String())
	}
	return strings.Join(groups, "-"), nil
}

// NormalizeRecoveryCode canonicalizes user input before key derivation:
// uppercase, separators stripped. A code retyped as "abcde 23456 ..." or
// with different dash placement still derives the same wrap key.
func NormalizeRecoveryCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
