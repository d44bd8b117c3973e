// Package store defines the persistence interfaces for assessment results and
// reference passages.
//
// Results are written once, after an assessment completes, and are read back
// by the HTTP API. References are reading passages a learner can be assessed
// against; they are either curated or generated by an LLM.
//
// Backends live in sub-packages:
//
//   - postgres: shared deployments (pgx connection pool, JSONB word detail)
//   - sqlite: single-node deployments and the CLI
//   - file: append-only JSON lines result log
//   - mock: test doubles
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/elocute/pkg/types"
)

// ErrNotFound is returned (wrapped) when a lookup matches no record.
var ErrNotFound = errors.New("store: not found")

// DefaultListLimit caps ListResults when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Reference is a reading passage stored for later assessments.
type Reference struct {
	// ID uniquely identifies the passage.
	ID string `json:"id" yaml:"id"`

	// Language is the BCP-47 locale of Text.
	Language string `json:"language" yaml:"language"`

	// Text is the passage the learner reads aloud.
	Text string `json:"text" yaml:"text"`

	// Level is the CEFR level the passage targets (A1 … C2). Optional.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Topic is a free-form subject label. Optional.
	Topic string `json:"topic,omitempty" yaml:"topic,omitempty"`

	// CreatedAt is set by the store when zero.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// ResultStore persists finished assessments.
type ResultStore interface {
	// SaveResult stores r. Saving an ID that already exists is a no-op:
	// results are immutable once written.
	SaveResult(ctx context.Context, r *types.AssessmentResult) error

	// GetResult returns the result with the given ID or an error wrapping
	// [ErrNotFound].
	GetResult(ctx context.Context, id string) (*types.AssessmentResult, error)

	// ListResults returns the most recent results of userID, newest first.
	// limit <= 0 selects [DefaultListLimit].
	ListResults(ctx context.Context, userID string, limit int) ([]*types.AssessmentResult, error)
}

// ReferenceStore persists reading passages.
type ReferenceStore interface {
	// GetReference returns the passage with the given ID or an error wrapping
	// [ErrNotFound].
	GetReference(ctx context.Context, id string) (Reference, error)

	// PutReference inserts or replaces ref.
	PutReference(ctx context.Context, ref Reference) error
}

// Pinger is implemented by stores backed by a remote service. The readiness
// probe uses it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Limit normalises a caller-supplied list limit.
func Limit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
