// Package access decides whether a proctoring client may begin an exam
// session.
//
// Two entry paths exist. The token path trusts the window and whitelist
// sealed inside the distribution token, so validation works even if the
// exam row was edited after issuance. The plain-code path reads everything
// from the stored exam. Both run the same ordered checks: the exam must
// exist, the code must match, the exam must be active, and the current
// time must fall inside the window (bounds inclusive).
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/examwatch/examwatch/internal/exam"
	"github.com/examwatch/examwatch/internal/logging"
	"github.com/examwatch/examwatch/internal/metrics"
	"github.com/examwatch/examwatch/internal/token"
)

// Rejection reasons, ordered by check. Earlier checks short-circuit later
// ones, so a caller never sees a window error for an exam that is inactive.
var (
	ErrExamNotFound = errors.New("access: exam not found")
	ErrCodeMismatch = errors.New("access: access code mismatch")
	ErrExamInactive = errors.New("access: exam is not active")
)

// OutOfWindowError reports an attempt outside the exam window. It carries
// the window and the observed time so handlers can tell clients when to
// retry without a second lookup.
type OutOfWindowError struct {
	Start time.Time
	End   time.Time
	Now   time.Time
}

func (e *OutOfWindowError) Error() string {
	if e.Now.Before(e.Start) {
		return fmt.Sprintf("access: exam window opens at %s", e.Start.Format(time.RFC3339))
	}
	return fmt.Sprintf("access: exam window closed at %s", e.End.Format(time.RFC3339))
}

// Grant is the successful outcome of validation: everything the session
// layer needs to admit a student.
type Grant struct {
	TestID      int64
	Title       string
	Whitelist   exam.Whitelist
	WindowStart time.Time
	WindowEnd   time.Time
}

// Validator checks exam access requests against the exam store.
type Validator struct {
	exams  exam.Store
	secret string
	now    func() time.Time
}

// NewValidator creates an access validator. The secret opens distribution
// tokens.
func NewValidator(exams exam.Store, secret string) *Validator {
	return &Validator{exams: exams, secret: secret, now: time.Now}
}

// ValidateToken admits a client presenting a sealed distribution token plus
// the access code the examiner announced. The window and whitelist come
// from the token, not the stored row.
func (v *Validator) ValidateToken(ctx context.Context, encoded, code string) (*Grant, error) {
	p, err := token.Decode(encoded, v.secret)
	if err != nil {
		metrics.TokenDecodeFailuresTotal.Inc()
		return nil, v.reject(ctx, err)
	}

	e, err := v.exams.GetByID(ctx, p.TestID)
	if errors.Is(err, exam.ErrNotFound) {
		return nil, v.reject(ctx, ErrExamNotFound)
	}
	if err != nil {
		return nil, err
	}

	if code != p.AccessCode {
		return nil, v.reject(ctx, ErrCodeMismatch)
	}
	// The stored code must still match too: rotating an exam's access code
	// is how an examiner revokes tokens issued before the rotation.
	if p.AccessCode != e.AccessCode {
		return nil, v.reject(ctx, ErrCodeMismatch)
	}
	if !e.IsActive {
		return nil, v.reject(ctx, ErrExamInactive)
	}
	if err := v.checkWindow(p.WindowStart, p.WindowEnd); err != nil {
		return nil, v.reject(ctx, err)
	}

	metrics.AccessValidationsTotal.WithLabelValues("granted").Inc()
	return &Grant{
		TestID:      e.ID,
		Title:       e.Title,
		Whitelist:   exam.NormalizeWhitelist(p.Processes),
		WindowStart: p.WindowStart,
		WindowEnd:   p.WindowEnd,
	}, nil
}

// ValidatePlain admits a client presenting only an access code. Everything
// is read from the stored exam.
func (v *Validator) ValidatePlain(ctx context.Context, code string) (*Grant, error) {
	e, err := v.exams.GetByAccessCode(ctx, code)
	if errors.Is(err, exam.ErrNotFound) {
		return nil, v.reject(ctx, ErrExamNotFound)
	}
	if err != nil {
		return nil, err
	}

	if !e.IsActive {
		return nil, v.reject(ctx, ErrExamInactive)
	}
	if err := v.checkWindow(e.WindowStart, e.WindowEnd); err != nil {
		return nil, v.reject(ctx, err)
	}

	metrics.AccessValidationsTotal.WithLabelValues("granted").Inc()
	return &Grant{
		TestID:      e.ID,
		Title:       e.Title,
		Whitelist:   e.Whitelist,
		WindowStart: e.WindowStart,
		WindowEnd:   e.WindowEnd,
	}, nil
}

// checkWindow treats both bounds as inclusive: a request at exactly
// window_end is still in time.
func (v *Validator) checkWindow(start, end time.Time) error {
	now := v.now()
	if now.Before(start) || now.After(end) {
		return &OutOfWindowError{Start: start, End: end, Now: now}
	}
	return nil
}

func (v *Validator) reject(ctx context.Context, err error) error {
	metrics.AccessValidationsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	logging.L(ctx).Info("access rejected", "reason", outcomeLabel(err))
	return err
}

func outcomeLabel(err error) string {
	var owe *OutOfWindowError
	switch {
	case errors.Is(err, token.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrExamNotFound):
		return "not_found"
	case errors.Is(err, ErrCodeMismatch):
		return "code_mismatch"
	case errors.Is(err, ErrExamInactive):
		return "inactive"
	case errors.As(err, &owe):
		return "out_of_window"
	default:
		return "error"
	}
}
