package exam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/examwatch/examwatch/internal/logging"
	"github.com/examwatch/examwatch/internal/token"
)

// codeRetries bounds collision re-rolls when generating access codes.
// 36^6 codes make two collisions in a row essentially a storage bug.
const codeRetries = 5

// Service owns exam lifecycle rules on top of a Store.
type Service struct {
	store       Store
	tokenSecret string
}

// NewService creates an exam service. The token secret seals issued
// distribution tokens.
func NewService(store Store, tokenSecret string) *Service {
	return &Service{store: store, tokenSecret: tokenSecret}
}

// CreateInput is the examiner-supplied definition of a new exam.
type CreateInput struct {
	Title       string
	Description string
	WindowStart time.Time
	WindowEnd   time.Time
	Whitelist   []string
	Activate    bool
}

// Create registers a new exam with a freshly generated access code.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Exam, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("exam: title is required")
	}
	if !in.WindowStart.Before(in.WindowEnd) {
		return nil, fmt.Errorf("exam: window start must precede window end")
	}

	e := &Exam{
		Title:       in.Title,
		Description: in.Description,
		IsActive:    in.Activate,
		WindowStart: in.WindowStart.UTC(),
		WindowEnd:   in.WindowEnd.UTC(),
		Whitelist:   NormalizeWhitelist(in.Whitelist),
	}

	for attempt := 0; attempt < codeRetries; attempt++ {
		e.AccessCode = GenerateAccessCode()
		err := s.store.Create(ctx, e)
		if errors.Is(err, ErrCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		logging.L(ctx).Info("exam created",
			"exam_id", e.ID,
			"access_code", e.AccessCode,
			"window_start", e.WindowStart,
			"window_end", e.WindowEnd)
		return e, nil
	}
	return nil, fmt.Errorf("exam: could not allocate a unique access code")
}

// Get returns one exam by id.
func (s *Service) Get(ctx context.Context, id int64) (*Exam, error) {
	return s.store.GetByID(ctx, id)
}

// List returns all exams.
func (s *Service) List(ctx context.Context) ([]*Exam, error) {
	return s.store.List(ctx)
}

// ToggleActivation flips the activation flag and returns the updated exam.
func (s *Service) ToggleActivation(ctx context.Context, id int64) (*Exam, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	e.IsActive = !e.IsActive
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("exam activation toggled", "exam_id", e.ID, "is_active", e.IsActive)
	return e, nil
}

// IssueToken seals the exam's access parameters into a distribution token.
// The token embeds the whitelist and window as of issuance; clients holding
// it validate against those values, not the live row.
func (s *Service) IssueToken(ctx context.Context, id int64) (string, *Exam, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	encoded, err := token.Encode(token.Payload{
		TestID:      e.ID,
		AccessCode:  e.AccessCode,
		Processes:   e.Whitelist,
		WindowStart: e.WindowStart,
		WindowEnd:   e.WindowEnd,
		IssuedAt:    time.Now(),
	}, s.tokenSecret)
	if err != nil {
		return "", nil, fmt.Errorf("exam: issue token: %w", err)
	}
	return encoded, e, nil
}
