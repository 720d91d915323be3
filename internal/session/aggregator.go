package session

import "github.com/examwatch/examwatch/internal/validation"

// Aggregate is the pure risk state folded over a session's event stream:
// the running score, how many screenshots fed the average, and the status
// latch. Folding is deterministic; the manager owns locking and persistence.
type Aggregate struct {
	Score           float64
	ScreenshotCount int64
	Status          Status
}

// AggregateOf extracts the foldable state from a stored session.
func AggregateOf(s *Session) Aggregate {
	return Aggregate{
		Score:           s.RiskScore,
		ScreenshotCount: s.ScreenshotCount,
		Status:          s.Status,
	}
}

// Apply folds one event into the aggregate and returns the new state.
//
// Completed sessions reject all events. Flagged sessions keep ingesting:
// the score still moves, the status stays Flagged. Severity outside [0, 1]
// is rejected, never clamped.
//
// Screenshot scores average: score' = (score*n + s) / (n+1). The average
// is deliberately not monotone; a run of clean frames dilutes earlier bad
// ones, though it can never undo the Flagged latch.
//
// Flag and unauthorized-process events escalate: score' = max(score, s).
func (a Aggregate) Apply(kind EventKind, severity float64) (Aggregate, error) {
	if a.Status == StatusCompleted {
		return a, ErrClosed
	}
	if !validation.InRange(severity) {
		return a, ErrInvalidSeverity
	}

	switch kind {
	case KindScreenshot:
		n := float64(a.ScreenshotCount)
		a.Score = (a.Score*n + severity) / (n + 1)
		a.ScreenshotCount++
	case KindFlag, KindUnauthorizedProcess:
		if severity > a.Score {
			a.Score = severity
		}
	default:
		return a, ErrInvalidSeverity
	}

	if a.Score > FlagThreshold && a.Status == StatusActive {
		a.Status = StatusFlagged
	}
	return a, nil
}

// End moves the aggregate to its terminal state. Active completes cleanly;
// Flagged stays Flagged so the examiner still sees the escalation after
// the student finishes. Ending a Completed session is a no-op error.
func (a Aggregate) End() (Aggregate, error) {
	switch a.Status {
	case StatusActive:
		a.Status = StatusCompleted
		return a, nil
	case StatusFlagged:
		return a, nil
	default:
		return a, ErrClosed
	}
}
