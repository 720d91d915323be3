package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists exams in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed exam store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the exams table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS exams (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			access_code VARCHAR(10) NOT NULL UNIQUE,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			whitelist TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("migrate exams: %w", err)
	}
	return nil
}

func (p *PostgresStore) Create(ctx context.Context, e *Exam) error {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO exams (title, description, access_code, is_active, window_start, window_end, whitelist)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		e.Title, e.Description, e.AccessCode, e.IsActive,
		e.WindowStart, e.WindowEnd, pq.Array([]string(e.Whitelist)),
	)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrCodeTaken
		}
		return storageErr(err)
	}
	return nil
}

func (p *PostgresStore) GetByID(ctx context.Context, id int64) (*Exam, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, title, description, access_code, is_active, window_start, window_end, whitelist, created_at
		FROM exams WHERE id = $1`, id)
	return scanExam(row)
}

func (p *PostgresStore) GetByAccessCode(ctx context.Context, code string) (*Exam, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, title, description, access_code, is_active, window_start, window_end, whitelist, created_at
		FROM exams WHERE access_code = $1`, code)
	return scanExam(row)
}

func (p *PostgresStore) List(ctx context.Context) ([]*Exam, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, access_code, is_active, window_start, window_end, whitelist, created_at
		FROM exams ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Exam
	for rows.Next() {
		e := &Exam{}
		var whitelist pq.StringArray
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.AccessCode,
			&e.IsActive, &e.WindowStart, &e.WindowEnd, &whitelist, &e.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		e.Whitelist = Whitelist(whitelist)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, e *Exam) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE exams
		SET title = $1, description = $2, access_code = $3, is_active = $4,
		    window_start = $5, window_end = $6, whitelist = $7
		WHERE id = $8`,
		e.Title, e.Description, e.AccessCode, e.IsActive,
		e.WindowStart, e.WindowEnd, pq.Array([]string(e.Whitelist)), e.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrCodeTaken
		}
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

func scanExam(row *sql.Row) (*Exam, error) {
	e := &Exam{}
	var whitelist pq.StringArray
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.AccessCode,
		&e.IsActive, &e.WindowStart, &e.WindowEnd, &whitelist, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	e.Whitelist = Whitelist(whitelist)
	return e, nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
