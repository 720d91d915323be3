// Package screenshots stores captured proctoring frames.
//
// A screenshot arrives either inline (base64 in the report body) or as an
// externally-hosted link. The blob is opaque to the risk engine; only the
// client-computed analysis score feeds the session aggregate.
package screenshots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/examwatch/examwatch/internal/idgen"
	"github.com/examwatch/examwatch/internal/security"
)

// Errors
var (
	ErrNotFound           = errors.New("screenshots: not found")
	ErrStorageUnavailable = errors.New("screenshots: storage unavailable")
)

// Screenshot is one stored frame. Exactly one of Data and URL is set.
type Screenshot struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	ContentType string    `json:"contentType,omitempty"`
	Data        []byte    `json:"-"`
	URL         string    `json:"url,omitempty"`
	Score       float64   `json:"score"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists screenshots.
type Store interface {
	Save(ctx context.Context, s *Screenshot) error
	Get(ctx context.Context, id string) (*Screenshot, error)
}

// Service validates and stores incoming screenshots.
type Service struct {
	store    Store
	maxBytes int64
}

// NewService creates a screenshot service. maxBytes caps inline uploads.
func NewService(store Store, maxBytes int64) *Service {
	return &Service{store: store, maxBytes: maxBytes}
}

// SaveInput is one incoming frame.
type SaveInput struct {
	SessionID   string
	ContentType string
	Data        []byte
	URL         string
	Score       float64
}

// Save validates and persists a frame, returning its assigned ID.
// External links are SSRF-checked before storage.
func (s *Service) Save(ctx context.Context, in SaveInput) (*Screenshot, error) {
	if len(in.Data) == 0 && in.URL == "" {
		return nil, fmt.Errorf("screenshots: image data or url required")
	}
	if len(in.Data) > 0 && in.URL != "" {
		return nil, fmt.Errorf("screenshots: image data and url are mutually exclusive")
	}
	if int64(len(in.Data)) > s.maxBytes {
		return nil, fmt.Errorf("screenshots: image exceeds %d bytes", s.maxBytes)
	}
	if in.URL != "" {
		if err := security.ValidateImageLink(in.URL); err != nil {
			return nil, fmt.Errorf("screenshots: %w", err)
		}
	}

	shot := &Screenshot{
		ID:          idgen.WithPrefix("img_"),
		SessionID:   in.SessionID,
		ContentType: in.ContentType,
		Data:        in.Data,
		URL:         in.URL,
		Score:       in.Score,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Save(ctx, shot); err != nil {
		return nil, err
	}
	return shot, nil
}

// Get returns one stored frame.
func (s *Service) Get(ctx context.Context, id string) (*Screenshot, error) {
	return s.store.Get(ctx, id)
}
