package exam

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// AccessCodeLength is the length of generated codes. Encoded tokens cap
	// the code at 10 characters; 6 matches what examiners hand out verbally.
	AccessCodeLength = 6
)

// Codes are re-rolled if they contain one of these substrings; they get
// read aloud in classrooms.
var blockedSubstrings = []string{"ass", "sex", "fuk"}

// GenerateAccessCode returns a random uppercase-alphanumeric access code.
func GenerateAccessCode() string {
	for {
		var b strings.Builder
		for i := 0; i < AccessCodeLength; i++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(accessCodeAlphabet))))
			if err != nil {
				panic("crypto/rand failed: " + err.Error())
			}
			b.WriteByte(accessCodeAlphabet[n.Int64()])
		}
		code := b.String()
		if !containsBlocked(code) {
			return code
		}
	}
}

func containsBlocked(code string) bool {
	lower := strings.ToLower(code)
	for _, bad := range blockedSubstrings {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	return false
}
