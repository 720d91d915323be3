package screenshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists screenshots in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed screenshot store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the screenshots table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS screenshots (
			id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			data BYTEA,
			url TEXT NOT NULL DEFAULT '',
			score DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_screenshots_session
			ON screenshots (session_id, created_at)`)
	if err != nil {
		return fmt.Errorf("migrate screenshots: %w", err)
	}
	return nil
}

func (p *PostgresStore) Save(ctx context.Context, s *Screenshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO screenshots (id, session_id, content_type, data, url, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.SessionID, s.ContentType, s.Data, s.URL, s.Score, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Screenshot, error) {
	s := &Screenshot{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, session_id, content_type, data, url, score, created_at
		FROM screenshots WHERE id = $1`, id).
		Scan(&s.ID, &s.SessionID, &s.ContentType, &s.Data, &s.URL, &s.Score, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}
