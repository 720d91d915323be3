// Package validation provides input validation for the Examwatch API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size for JSON endpoints.
// Screenshot uploads carry inline base64 payloads, so this is larger than
// a typical API body cap.
const MaxRequestSize = 8 << 20 // 8MB

// MaxStringLength is the maximum length for free-text string fields
const MaxStringLength = 10000

// MaxAccessCodeLength matches the access_code column width.
const MaxAccessCodeLength = 10

var (
	// accessCodeRegex validates distributed access codes
	accessCodeRegex = regexp.MustCompile(`^[A-Z0-9]{4,10}$`)
	// processNameRegex validates reported process names (executable names,
	// optionally with an extension; no path separators)
	processNameRegex = regexp.MustCompile(`^[A-Za-z0-9._ -]{1,255}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAccessCode checks if a string looks like an issued access code
func IsValidAccessCode(code string) bool {
	return accessCodeRegex.MatchString(code)
}

// IsValidProcessName checks if a reported process name is plausible
func IsValidProcessName(name string) bool {
	return processNameRegex.MatchString(name)
}

// InRange reports whether a risk score or severity lies in [0, 1].
// Out-of-range values are rejected, never clamped: clamping would hide
// proctoring-client bugs.
func InRange(v float64) bool {
	return v >= 0.0 && v <= 1.0
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidScore checks that a field holds a risk score or severity in [0, 1]
func ValidScore(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if !InRange(value) {
			return &ValidationError{Field: field, Message: "must be between 0.0 and 1.0"}
		}
		return nil
	}
}

// ValidProcessName checks that a field holds a plausible process name
func ValidProcessName(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidProcessName(value) {
			return &ValidationError{Field: field, Message: "must be a bare executable name"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}
