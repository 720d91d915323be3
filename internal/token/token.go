// Package token implements the self-contained exam access token.
//
// A token carries everything a proctoring client needs to pre-validate an
// exam window offline: exam id, access code, process whitelist, and the
// signed time window. The payload is sealed with AES-256-GCM under a key
// derived from the issuer secret, so any tampering fails decode closed.
// Tag-mismatch and malformed-payload failures are deliberately collapsed
// into one opaque error to avoid giving forgers an oracle.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidToken is returned for any token that fails to decode: bad
// encoding, truncation, tag mismatch, or an unparseable payload. Callers
// must not be able to distinguish which.
var ErrInvalidToken = errors.New("token: invalid or tampered")

// MaxAccessCodeLen matches the access_code column width.
const MaxAccessCodeLen = 10

// Payload is the canonical content of an access token.
// Field order is fixed; timestamps are ISO-8601 UTC on the wire.
type Payload struct {
	TestID      int64     `json:"test_id"`
	AccessCode  string    `json:"code"`
	Processes   []string  `json:"processes"`
	WindowStart time.Time `json:"start"`
	WindowEnd   time.Time `json:"end"`
	IssuedAt    time.Time `json:"timestamp"`
}

// Encode seals the payload into an opaque URL-safe token string.
// The processes list always encodes explicitly, even when empty.
func Encode(p Payload, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("token: secret is required")
	}
	if p.AccessCode == "" || len(p.AccessCode) > MaxAccessCodeLen {
		return "", fmt.Errorf("token: access code must be 1-%d characters", MaxAccessCodeLen)
	}
	if !p.WindowStart.Before(p.WindowEnd) {
		return "", fmt.Errorf("token: window start must precede window end")
	}

	// Normalize before sealing so decode reproduces fields exactly.
	p.WindowStart = p.WindowStart.UTC()
	p.WindowEnd = p.WindowEnd.UTC()
	if p.IssuedAt.IsZero() {
		p.IssuedAt = time.Now()
	}
	p.IssuedAt = p.IssuedAt.UTC()
	if p.Processes == nil {
		p.Processes = []string{}
	}

	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("token: marshal payload: %w", err)
	}

	aead, err := newAEAD(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token: nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a token string. Any failure returns ErrInvalidToken; the
// function never panics on adversarial input.
func Decode(encoded string, secret string) (*Payload, error) {
	if secret == "" || encoded == "" {
		return nil, ErrInvalidToken
	}

	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidToken
	}

	aead, err := newAEAD(secret)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if len(sealed) < aead.NonceSize() {
		return nil, ErrInvalidToken
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	// GCM's tag comparison is constant-time; a flipped bit anywhere in the
	// token lands here and fails without revealing where.
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, ErrInvalidToken
	}
	if p.AccessCode == "" || len(p.AccessCode) > MaxAccessCodeLen {
		return nil, ErrInvalidToken
	}
	if !p.WindowStart.Before(p.WindowEnd) {
		return nil, ErrInvalidToken
	}
	if p.Processes == nil {
		p.Processes = []string{}
	}

	return &p, nil
}

// newAEAD derives the AES-256-GCM primitive from the issuer secret.
func newAEAD(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("token: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("token: gcm: %w", err)
	}
	return aead, nil
}
