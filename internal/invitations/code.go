package invitations

import (
	"crypto/rand"
	"fmt"
)

const (
	// CodeLength is the number of characters in an invitation code
	CodeLength = 24

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// bytes at or above this are rejected so every symbol is equally likely
	codeRejectFrom = 256 - 256%len(codeAlphabet)
)

// GenerateCode returns a random code of CodeLength uppercase letters and digits
func GenerateCode() (string, error) {
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength+CodeLength/4)

	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= codeRejectFrom {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}

	return string(out), nil
}

// ValidateCodeFormat reports whether code could have come from GenerateCode
func ValidateCodeFormat(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
