// Package session tracks live proctoring sessions and folds risk events
// into a per-session trust score.
//
// A session is the unit of trust: it starts Active, escalates to Flagged
// once its aggregate risk crosses the flag threshold, and ends Completed
// or Flagged. Flagged is a latch; no later evidence can restore Active.
// All writes to one session are serialized behind a per-session lock, so
// the read-fold-persist cycle never interleaves.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/examwatch/examwatch/internal/exam"
)

// Status is the lifecycle state of a proctoring session.
type Status string

const (
	// StatusActive is the initial state: the student is being proctored
	// and nothing has crossed the flag threshold.
	StatusActive Status = "active"
	// StatusFlagged means aggregate risk exceeded FlagThreshold. Flagged
	// sessions keep ingesting evidence but never return to Active.
	StatusFlagged Status = "flagged"
	// StatusCompleted is the clean terminal state. Completed sessions
	// reject further events.
	StatusCompleted Status = "completed"
)

// EventKind classifies a risk event.
type EventKind string

const (
	// KindScreenshot carries an analysis score for one captured frame.
	// Screenshot scores feed a running average, so they can lower the
	// aggregate as well as raise it.
	KindScreenshot EventKind = "screenshot"
	// KindFlag is a direct incident report from the proctoring client.
	// Flags only ever escalate: aggregate = max(aggregate, severity).
	KindFlag EventKind = "flag"
	// KindUnauthorizedProcess records a process outside the whitelist.
	// It escalates with the fixed ProcessSeverity.
	KindUnauthorizedProcess EventKind = "unauthorized_process"
)

const (
	// FlagThreshold is the aggregate risk score above which a session is
	// flagged. Strictly above: a score of exactly 0.7 stays Active.
	FlagThreshold = 0.7

	// ProcessSeverity is the fixed severity of an unauthorized process
	// sighting. 0.8 puts a single sighting past the flag threshold.
	ProcessSeverity = 0.8
)

// Errors
var (
	ErrNotFound           = errors.New("session: not found")
	ErrClosed             = errors.New("session: already completed")
	ErrInvalidSeverity    = errors.New("session: severity must be between 0.0 and 1.0")
	ErrStorageUnavailable = errors.New("session: storage unavailable")
)

// Session is one student's proctored sitting of one exam.
type Session struct {
	ID              string         `json:"id"`
	TestID          int64          `json:"testId"`
	StudentRef      string         `json:"studentRef"`
	Status          Status         `json:"status"`
	RiskScore       float64        `json:"riskScore"`
	ScreenshotCount int64          `json:"screenshotCount"`
	Whitelist       exam.Whitelist `json:"whitelistedProcesses"`
	WindowStart     time.Time      `json:"windowStart"`
	WindowEnd       time.Time      `json:"windowEnd"`
	StartedAt       time.Time      `json:"startedAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	EndedAt         *time.Time     `json:"endedAt,omitempty"`
}

// Event is one recorded piece of risk evidence. Events are append-only;
// a retried delivery lands twice and is folded twice.
//
// FlagType is the client's category for flag events ("multiple_faces",
// "gaze_away"); it is carried verbatim, never interpreted.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Kind      EventKind `json:"kind"`
	FlagType  string    `json:"flagType,omitempty"`
	Severity  float64   `json:"severity"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Answer is one submitted question result.
type Answer struct {
	QuestionID int64  `json:"questionId"`
	Answer     string `json:"answer"`
}

// Store persists sessions, their event log, and submitted results.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// FindOpenSession returns the non-completed session for a
	// (exam, student) pair, or ErrNotFound.
	FindOpenSession(ctx context.Context, testID int64, studentRef string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	ListSessionsByExam(ctx context.Context, testID int64) ([]*Session, error)

	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, sessionID string) ([]*Event, error)

	SaveResults(ctx context.Context, sessionID string, answers []Answer) error
	GetResults(ctx context.Context, sessionID string) ([]Answer, error)
}
