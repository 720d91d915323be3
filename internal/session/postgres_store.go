package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists sessions, events, and results in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the session tables if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS proctor_sessions (
			id VARCHAR(64) PRIMARY KEY,
			test_id BIGINT NOT NULL,
			student_ref TEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			screenshot_count BIGINT NOT NULL DEFAULT 0,
			whitelist TEXT[] NOT NULL DEFAULT '{}',
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_proctor_sessions_exam
			ON proctor_sessions (test_id, student_ref);

		CREATE TABLE IF NOT EXISTS risk_events (
			id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL REFERENCES proctor_sessions(id),
			kind VARCHAR(32) NOT NULL,
			flag_type VARCHAR(64) NOT NULL DEFAULT '',
			severity DOUBLE PRECISION NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_risk_events_session
			ON risk_events (session_id, created_at);

		CREATE TABLE IF NOT EXISTS exam_results (
			session_id VARCHAR(64) PRIMARY KEY REFERENCES proctor_sessions(id),
			answers JSONB NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("migrate sessions: %w", err)
	}
	return nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO proctor_sessions
			(id, test_id, student_ref, status, risk_score, screenshot_count,
			 whitelist, window_start, window_end, started_at, updated_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.TestID, s.StudentRef, s.Status, s.RiskScore, s.ScreenshotCount,
		pq.Array([]string(s.Whitelist)), s.WindowStart, s.WindowEnd,
		s.StartedAt, s.UpdatedAt, nullTime(s.EndedAt),
	)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, sessionSelect+` WHERE id = $1`, id)
	return scanSession(row)
}

func (p *PostgresStore) FindOpenSession(ctx context.Context, testID int64, studentRef string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, sessionSelect+`
		WHERE test_id = $1 AND student_ref = $2 AND status != $3 AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, testID, studentRef, StatusCompleted)
	return scanSession(row)
}

func (p *PostgresStore) UpdateSession(ctx context.Context, s *Session) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE proctor_sessions
		SET status = $1, risk_score = $2, screenshot_count = $3,
		    updated_at = $4, ended_at = $5
		WHERE id = $6`,
		s.Status, s.RiskScore, s.ScreenshotCount, s.UpdatedAt, nullTime(s.EndedAt), s.ID,
	)
	if err != nil {
		return storageErr(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListSessionsByExam(ctx context.Context, testID int64) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx, sessionSelect+`
		WHERE test_id = $1 ORDER BY started_at ASC`, testID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_events (id, session_id, kind, flag_type, severity, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.SessionID, e.Kind, e.FlagType, e.Severity, e.Detail, e.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrNotFound
		}
		return storageErr(err)
	}
	return nil
}

func (p *PostgresStore) ListEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, kind, flag_type, severity, detail, created_at
		FROM risk_events WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.FlagType, &e.Severity, &e.Detail, &e.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SaveResults(ctx context.Context, sessionID string, answers []Answer) error {
	payload, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO exam_results (session_id, answers)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET answers = $2, submitted_at = NOW()`,
		sessionID, payload,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrNotFound
		}
		return storageErr(err)
	}
	return nil
}

func (p *PostgresStore) GetResults(ctx context.Context, sessionID string) ([]Answer, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT answers FROM exam_results WHERE session_id = $1`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	var answers []Answer
	if err := json.Unmarshal(payload, &answers); err != nil {
		return nil, fmt.Errorf("corrupt results for session %s: %w", sessionID, err)
	}
	return answers, nil
}

const sessionSelect = `
	SELECT id, test_id, student_ref, status, risk_score, screenshot_count,
	       whitelist, window_start, window_end, started_at, updated_at, ended_at
	FROM proctor_sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*Session, error) {
	s, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func scanSessionRow(row rowScanner) (*Session, error) {
	s := &Session{}
	var whitelist pq.StringArray
	var endedAt sql.NullTime
	err := row.Scan(&s.ID, &s.TestID, &s.StudentRef, &s.Status, &s.RiskScore,
		&s.ScreenshotCount, &whitelist, &s.WindowStart, &s.WindowEnd,
		&s.StartedAt, &s.UpdatedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr(err)
	}
	s.Whitelist = []string(whitelist)
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
