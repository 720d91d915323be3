// Package exam manages proctored exams: the authoritative record behind
// every access check.
//
// An exam owns its access code, activation flag, time window, and process
// whitelist. Proctoring clients never mutate exams; examiner endpoints
// create them, toggle activation, and issue distribution tokens.
package exam

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound           = errors.New("exam: not found")
	ErrCodeTaken          = errors.New("exam: access code already in use")
	ErrStorageUnavailable = errors.New("exam: storage unavailable")
)

// Exam is a proctored test definition.
type Exam struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AccessCode  string    `json:"accessCode"`
	IsActive    bool      `json:"isActive"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Whitelist   Whitelist `json:"whitelistedProcesses"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists exams.
type Store interface {
	Create(ctx context.Context, e *Exam) error
	GetByID(ctx context.Context, id int64) (*Exam, error)
	GetByAccessCode(ctx context.Context, code string) (*Exam, error)
	List(ctx context.Context) ([]*Exam, error)
	Update(ctx context.Context, e *Exam) error
}
