package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/elocute/pkg/store"
	"github.com/MrWong99/elocute/pkg/types"
)

// Compile-time interface checks.
var (
	_ store.ResultStore    = (*Store)(nil)
	_ store.ReferenceStore = (*Store)(nil)
	_ store.Pinger         = (*Store)(nil)
)

// Store is the PostgreSQL-backed result and reference store. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping implements [store.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

const resultColumns = `id, user_id, language, reference_text,
       pronunciation, accuracy, fluency, completeness, prosody, prosody_assessed,
       error_counts, words, utterance_count, created_at`

// SaveResult implements [store.ResultStore].
func (s *Store) SaveResult(ctx context.Context, r *types.AssessmentResult) error {
	counts, err := json.Marshal(r.ErrorCounts)
	if err != nil {
		return fmt.Errorf("postgres store: marshal error counts: %w", err)
	}
	words, err := json.Marshal(r.Words)
	if err != nil {
		return fmt.Errorf("postgres store: marshal words: %w", err)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO assessments (` + resultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, q,
		r.ID,
		r.UserID,
		r.Language,
		r.ReferenceText,
		r.Scores.Pronunciation,
		r.Scores.Accuracy,
		r.Scores.Fluency,
		r.Scores.Completeness,
		r.Scores.Prosody,
		r.Scores.ProsodyAssessed,
		counts,
		words,
		r.UtteranceCount,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save result: %w", err)
	}
	return nil
}

// GetResult implements [store.ResultStore].
func (s *Store) GetResult(ctx context.Context, id string) (*types.AssessmentResult, error) {
	const q = `SELECT ` + resultColumns + ` FROM assessments WHERE id = $1`

	r, err := scanResult(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: result %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get result: %w", err)
	}
	return r, nil
}

// ListResults implements [store.ResultStore].
func (s *Store) ListResults(ctx context.Context, userID string, limit int) ([]*types.AssessmentResult, error) {
	const q = `
		SELECT ` + resultColumns + `
		FROM   assessments
		WHERE  user_id = $1
		ORDER  BY created_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list results: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*types.AssessmentResult, error) {
		return scanResult(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list results: %w", err)
	}
	return results, nil
}

// GetReference implements [store.ReferenceStore].
func (s *Store) GetReference(ctx context.Context, id string) (store.Reference, error) {
	const q = `
		SELECT id, language, text, level, topic, created_at
		FROM   reference_texts
		WHERE  id = $1`

	var ref store.Reference
	err := s.pool.QueryRow(ctx, q, id).Scan(&ref.ID, &ref.Language, &ref.Text, &ref.Level, &ref.Topic, &ref.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Reference{}, fmt.Errorf("postgres store: reference %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Reference{}, fmt.Errorf("postgres store: get reference: %w", err)
	}
	return ref, nil
}

// PutReference implements [store.ReferenceStore].
func (s *Store) PutReference(ctx context.Context, ref store.Reference) error {
	createdAt := ref.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO reference_texts (id, language, text, level, topic, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		    SET language = EXCLUDED.language,
		        text     = EXCLUDED.text,
		        level    = EXCLUDED.level,
		        topic    = EXCLUDED.topic`

	if _, err := s.pool.Exec(ctx, q, ref.ID, ref.Language, ref.Text, ref.Level, ref.Topic, createdAt); err != nil {
		return fmt.Errorf("postgres store: put reference: %w", err)
	}
	return nil
}

// scanResult reads one assessments row in resultColumns order.
func scanResult(row pgx.Row) (*types.AssessmentResult, error) {
	var (
		r      types.AssessmentResult
		counts []byte
		words  []byte
	)
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Language,
		&r.ReferenceText,
		&r.Scores.Pronunciation,
		&r.Scores.Accuracy,
		&r.Scores.Fluency,
		&r.Scores.Completeness,
		&r.Scores.Prosody,
		&r.Scores.ProsodyAssessed,
		&counts,
		&words,
		&r.UtteranceCount,
		&r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(counts, &r.ErrorCounts); err != nil {
		return nil, fmt.Errorf("decode error counts: %w", err)
	}
	if err := json.Unmarshal(words, &r.Words); err != nil {
		return nil, fmt.Errorf("decode words: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
