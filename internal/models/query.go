package models

import (
	"errors"
	"fmt"

	"github.com/hyperjump/kanren/internal/metadata"
)

// ErrInvalidRequest is wrapped by every validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// Query defaults and bounds.
const (
	DefaultRelatedLimit    = 10
	MaxRelatedLimit        = 100
	DefaultRelatedMinScore = 0.25
)

// RelatedQuery asks for the notes most similar to a note or a piece of text.
// When NoteID is indexed its stored vector is used; otherwise Text (or the
// note's current text) is embedded.
type RelatedQuery struct {
	NoteID   string           `json:"note_id,omitempty"`
	Text     string           `json:"text,omitempty"`
	Limit    int              `json:"limit,omitempty"`
	MinScore *float64         `json:"min_score,omitempty"` // nil uses DefaultRelatedMinScore
	Filter   *metadata.Filter `json:"filter,omitempty"`
}

// Validate ensures the query has a subject and sets defaults.
func (q *RelatedQuery) Validate() error {
	if q.NoteID == "" && q.Text == "" {
		return fmt.Errorf("%w: either note_id or text is required", ErrInvalidRequest)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultRelatedLimit
	}
	if q.Limit > MaxRelatedLimit {
		q.Limit = MaxRelatedLimit
	}
	if q.MinScore == nil {
		v := DefaultRelatedMinScore
		q.MinScore = &v
	}
	if *q.MinScore < -1 || *q.MinScore > 1 {
		return fmt.Errorf("%w: min_score must be between -1 and 1, got %v", ErrInvalidRequest, *q.MinScore)
	}
	return nil
}

// MinScoreValue returns the effective minimum score.
func (q *RelatedQuery) MinScoreValue() float64 {
	if q.MinScore == nil {
		return DefaultRelatedMinScore
	}
	return *q.MinScore
}

// RenameRequest moves the index entry of a note to a new id.
type RenameRequest struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

// Validate checks both ids are present.
func (r *RenameRequest) Validate() error {
	if r.OldID == "" || r.NewID == "" {
		return fmt.Errorf("%w: old_id and new_id are required", ErrInvalidRequest)
	}
	return nil
}
