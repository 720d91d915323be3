package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret-0123456789"

func validPayload() Payload {
	start := time.Date(2026, 6, 20, 14, 0, 0, 0, time.UTC)
	return Payload{
		TestID:      42,
		AccessCode:  "ABC123",
		Processes:   []string{"notepad.exe", "calc.exe"},
		WindowStart: start,
		WindowEnd:   start.Add(2 * time.Hour),
		IssuedAt:    start.Add(-24 * time.Hour),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := validPayload()

	encoded, err := Encode(p, testSecret)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := Decode(encoded, testSecret)
	require.NoError(t, err)

	assert.Equal(t, p.TestID, decoded.TestID)
	assert.Equal(t, p.AccessCode, decoded.AccessCode)
	assert.Equal(t, p.Processes, decoded.Processes)
	assert.True(t, p.WindowStart.Equal(decoded.WindowStart))
	assert.True(t, p.WindowEnd.Equal(decoded.WindowEnd))
	assert.True(t, p.IssuedAt.Equal(decoded.IssuedAt))
}

func TestEncodeEmptyProcessList(t *testing.T) {
	p := validPayload()
	p.Processes = nil

	encoded, err := Encode(p, testSecret)
	require.NoError(t, err)

	decoded, err := Decode(encoded, testSecret)
	require.NoError(t, err)

	// An empty whitelist must round-trip as an explicit empty list,
	// not as an absent field.
	require.NotNil(t, decoded.Processes)
	assert.Empty(t, decoded.Processes)
}

func TestEncodeNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	p := validPayload()
	p.WindowStart = p.WindowStart.In(loc)
	p.WindowEnd = p.WindowEnd.In(loc)

	encoded, err := Encode(p, testSecret)
	require.NoError(t, err)

	decoded, err := Decode(encoded, testSecret)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, decoded.WindowStart.Location())
	assert.True(t, p.WindowStart.Equal(decoded.WindowStart))
}

func TestEncodeRejectsInvalidInput(t *testing.T) {
	p := validPayload()
	p.AccessCode = ""
	_, err := Encode(p, testSecret)
	assert.Error(t, err, "empty access code")

	p = validPayload()
	p.AccessCode = strings.Repeat("A", MaxAccessCodeLen+1)
	_, err = Encode(p, testSecret)
	assert.Error(t, err, "over-long access code")

	p = validPayload()
	p.WindowEnd = p.WindowStart
	_, err = Encode(p, testSecret)
	assert.Error(t, err, "empty window")

	p = validPayload()
	p.WindowStart, p.WindowEnd = p.WindowEnd, p.WindowStart
	_, err = Encode(p, testSecret)
	assert.Error(t, err, "inverted window")

	_, err = Encode(validPayload(), "")
	assert.Error(t, err, "missing secret")
}

func TestDecodeRejectsEverySingleBitFlip(t *testing.T) {
	encoded, err := Encode(validPayload(), testSecret)
	require.NoError(t, err)

	raw := []byte(encoded)
	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			flipped := make([]byte, len(raw))
			copy(flipped, raw)
			flipped[i] ^= 1 << bit
			if string(flipped) == encoded {
				continue
			}

			decoded, err := Decode(string(flipped), testSecret)
			if err == nil {
				t.Fatalf("bit flip at byte %d bit %d decoded successfully", i, bit)
			}
			require.ErrorIs(t, err, ErrInvalidToken)
			require.Nil(t, decoded)
		}
	}
}

func TestDecodeRejectsWrongSecret(t *testing.T) {
	encoded, err := Encode(validPayload(), testSecret)
	require.NoError(t, err)

	_, err = Decode(encoded, "a-different-secret-9876543210")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsTruncation(t *testing.T) {
	encoded, err := Encode(validPayload(), testSecret)
	require.NoError(t, err)

	for _, cut := range []int{1, len(encoded) / 2, len(encoded) - 1} {
		_, err := Decode(encoded[:cut], testSecret)
		assert.ErrorIs(t, err, ErrInvalidToken, "truncated to %d bytes", cut)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	inputs := []string{
		"",
		"not-base64!!!",
		"AAAA",
		strings.Repeat("A", 500),
		"\x00\x01\x02",
		"UNENCRYPTED:aGVsbG8",
	}
	for _, in := range inputs {
		decoded, err := Decode(in, testSecret)
		assert.ErrorIs(t, err, ErrInvalidToken, "input %q", in)
		assert.Nil(t, decoded)
	}
}

func TestDecodeFailuresAreIndistinguishable(t *testing.T) {
	// A tag mismatch and a malformed encoding must surface as the same error
	// value so a forger cannot tell which check failed.
	encoded, err := Encode(validPayload(), testSecret)
	require.NoError(t, err)

	tampered := []byte(encoded)
	tampered[len(tampered)-1] ^= 0x01
	_, tagErr := Decode(string(tampered), testSecret)

	_, malformedErr := Decode("%%%not-base64%%%", testSecret)

	assert.True(t, errors.Is(tagErr, ErrInvalidToken))
	assert.True(t, errors.Is(malformedErr, ErrInvalidToken))
	assert.Equal(t, tagErr.Error(), malformedErr.Error())
}

func TestEncodeProducesDistinctTokens(t *testing.T) {
	// Random nonce: the same payload never encodes to the same string.
	a, err := Encode(validPayload(), testSecret)
	require.NoError(t, err)
	b, err := Encode(validPayload(), testSecret)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	// Both must still decode.
	_, err = Decode(a, testSecret)
	assert.NoError(t, err)
	_, err = Decode(b, testSecret)
	assert.NoError(t, err)
}
