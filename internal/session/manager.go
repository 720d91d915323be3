package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/examwatch/examwatch/internal/access"
	"github.com/examwatch/examwatch/internal/idgen"
	"github.com/examwatch/examwatch/internal/logging"
	"github.com/examwatch/examwatch/internal/metrics"
	"github.com/examwatch/examwatch/internal/retry"
	"github.com/examwatch/examwatch/internal/syncutil"
)

// Persistence retry policy. Transient storage failures are retried with
// backoff; domain rejections are permanent and surface immediately.
const (
	persistAttempts = 3
	persistBackoff  = 50 * time.Millisecond
)

// Broadcaster receives monitor-feed notifications. The realtime hub
// implements it; a nil broadcaster disables the feed.
type Broadcaster interface {
	Publish(eventType string, payload any)
}

// Manager owns session lifecycle and risk aggregation. Every mutation of
// one session runs under that session's lock, so concurrent reports fold
// one at a time.
type Manager struct {
	store Store
	locks *syncutil.ContextShardedMutex
	feed  Broadcaster
	now   func() time.Time
}

// NewManager creates a session manager.
func NewManager(store Store, feed Broadcaster) *Manager {
	return &Manager{
		store: store,
		locks: syncutil.NewContextShardedMutex(),
		now:   time.Now,
		feed:  feed,
	}
}

// Start opens a proctoring session for a granted access check. Start is
// idempotent per (exam, student): a retried request returns the existing
// open session instead of creating a sibling. The returned bool reports
// whether a new session was created.
func (m *Manager) Start(ctx context.Context, grant *access.Grant, studentRef string) (*Session, bool, error) {
	if studentRef == "" {
		return nil, false, fmt.Errorf("session: student reference is required")
	}

	// Lock on the identity pair, not the session ID: the race to create
	// is exactly two requests for the same pair arriving together.
	unlock, err := m.locks.LockContext(ctx, fmt.Sprintf("start:%d:%s", grant.TestID, studentRef))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	existing, err := m.store.FindOpenSession(ctx, grant.TestID, studentRef)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := m.now().UTC()
	s := &Session{
		ID:          idgen.WithPrefix("ses_"),
		TestID:      grant.TestID,
		StudentRef:  studentRef,
		Status:      StatusActive,
		Whitelist:   grant.Whitelist,
		WindowStart: grant.WindowStart,
		WindowEnd:   grant.WindowEnd,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	err = retry.Do(ctx, persistAttempts, persistBackoff, func() error {
		return m.store.CreateSession(ctx, s)
	})
	if err != nil {
		return nil, false, err
	}

	metrics.SessionsStartedTotal.Inc()
	logging.L(ctx).Info("session started",
		"session_id", s.ID, "exam_id", s.TestID, "student", s.StudentRef)
	m.publish("session_started", s)
	return s, true, nil
}

// Get returns one session by id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.GetSession(ctx, id)
}

// ListByExam returns all sessions for an exam, oldest first.
func (m *Manager) ListByExam(ctx context.Context, testID int64) ([]*Session, error) {
	return m.store.ListSessionsByExam(ctx, testID)
}

// Events returns the append-only event log for a session.
func (m *Manager) Events(ctx context.Context, sessionID string) ([]*Event, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.store.ListEvents(ctx, sessionID)
}

// RecordScreenshot folds one screenshot analysis score into the session.
// Detail carries the stored screenshot reference.
func (m *Manager) RecordScreenshot(ctx context.Context, sessionID string, score float64, detail string) (*Session, error) {
	return m.applyEvent(ctx, sessionID, KindScreenshot, "shot_", "", score, detail)
}

// RaiseFlag folds a client incident report into the session. FlagType is
// the client's incident category and is recorded on the event as-is.
func (m *Manager) RaiseFlag(ctx context.Context, sessionID, flagType string, severity float64, reason string) (*Session, error) {
	return m.applyEvent(ctx, sessionID, KindFlag, "flag_", flagType, severity, reason)
}

// ReportProcess checks a sighted process against the session's whitelist.
// Whitelisted processes are acknowledged without touching the aggregate;
// anything else folds in as an unauthorized-process event at the fixed
// severity. Returns whether the process was authorized.
func (m *Manager) ReportProcess(ctx context.Context, sessionID string, processName string) (*Session, bool, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if s.Status == StatusCompleted {
		return nil, false, ErrClosed
	}
	if s.Whitelist.Contains(processName) {
		metrics.ProcessReportsTotal.WithLabelValues("authorized").Inc()
		return s, true, nil
	}

	metrics.ProcessReportsTotal.WithLabelValues("unauthorized").Inc()
	s, err = m.applyEvent(ctx, sessionID, KindUnauthorizedProcess, "proc_", "", ProcessSeverity, processName)
	if err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// End closes a session. Active sessions complete; Flagged sessions stay
// Flagged so the escalation survives the sitting. Ending twice returns
// ErrClosed.
func (m *Manager) End(ctx context.Context, sessionID string) (*Session, error) {
	unlock, err := m.locks.LockContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.EndedAt != nil {
		return nil, ErrClosed
	}

	agg, err := AggregateOf(s).End()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	s.Status = agg.Status
	s.UpdatedAt = now
	s.EndedAt = &now

	err = retry.Do(ctx, persistAttempts, persistBackoff, func() error {
		return m.store.UpdateSession(ctx, s)
	})
	if err != nil {
		return nil, err
	}

	metrics.SessionsEndedTotal.WithLabelValues(string(s.Status)).Inc()
	logging.L(ctx).Info("session ended",
		"session_id", s.ID, "status", s.Status, "risk_score", s.RiskScore)
	m.publish("session_ended", s)
	return s, nil
}

// SubmitResults stores the student's answers. Results may land after End;
// the upload often races the session close on flaky networks.
func (m *Manager) SubmitResults(ctx context.Context, sessionID string, answers []Answer) error {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return retry.Do(ctx, persistAttempts, persistBackoff, func() error {
		return m.store.SaveResults(ctx, sessionID, answers)
	})
}

// Results returns previously submitted answers, or nil when none exist.
func (m *Manager) Results(ctx context.Context, sessionID string) ([]Answer, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.store.GetResults(ctx, sessionID)
}

// applyEvent runs the locked read-fold-persist cycle for one event.
func (m *Manager) applyEvent(ctx context.Context, sessionID string, kind EventKind, idPrefix, flagType string, severity float64, detail string) (*Session, error) {
	ctx = logging.WithSessionID(ctx, sessionID)

	unlock, err := m.locks.LockContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	before := AggregateOf(s)
	after, err := before.Apply(kind, severity)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	event := &Event{
		ID:        idgen.WithPrefix(idPrefix),
		SessionID: s.ID,
		Kind:      kind,
		FlagType:  flagType,
		Severity:  severity,
		Detail:    detail,
		CreatedAt: now,
	}
	s.RiskScore = after.Score
	s.ScreenshotCount = after.ScreenshotCount
	s.Status = after.Status
	s.UpdatedAt = now

	// Event first, then the folded row. If the crash lands between the
	// two, the log holds more than the aggregate and a replay reconciles.
	err = retry.Do(ctx, persistAttempts, persistBackoff, func() error {
		if err := m.store.AppendEvent(ctx, event); err != nil {
			return err
		}
		if err := m.store.UpdateSession(ctx, s); err != nil {
			if errors.Is(err, ErrNotFound) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RiskEventsTotal.WithLabelValues(string(kind)).Inc()
	metrics.SessionRiskScore.Observe(s.RiskScore)
	m.publish("risk_event", event)

	if before.Status == StatusActive && after.Status == StatusFlagged {
		metrics.SessionsFlaggedTotal.Inc()
		logging.L(ctx).Warn("session flagged",
			"exam_id", s.TestID, "student", s.StudentRef,
			"risk_score", s.RiskScore, "trigger", kind)
		m.publish("session_flagged", s)
	}
	return s, nil
}

func (m *Manager) publish(eventType string, payload any) {
	if m.feed != nil {
		m.feed.Publish(eventType, payload)
	}
}
