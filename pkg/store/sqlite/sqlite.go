// Package sqlite provides a SQLite-backed implementation of
// [store.ResultStore] and [store.ReferenceStore] using the pure-Go
// modernc.org/sqlite driver.
//
// It suits single-node deployments and the command-line client. Timestamps
// are stored as fixed-width UTC text and the word detail as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/MrWong99/elocute/pkg/store"
	"github.com/MrWong99/elocute/pkg/types"
)

// Compile-time interface checks.
var (
	_ store.ResultStore    = (*Store)(nil)
	_ store.ReferenceStore = (*Store)(nil)
	_ store.Pinger         = (*Store)(nil)
)

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps SQLite access for results and references.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path and applies migrations.
// The parent directory is created when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping implements [store.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS assessments (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL,
			reference_text TEXT NOT NULL,
			pronunciation REAL NOT NULL,
			accuracy REAL NOT NULL,
			fluency REAL NOT NULL,
			completeness REAL NOT NULL,
			prosody REAL NOT NULL,
			prosody_assessed INTEGER NOT NULL DEFAULT 1,
			error_counts TEXT NOT NULL DEFAULT '{}',
			words TEXT NOT NULL DEFAULT '[]',
			utterance_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_user_created ON assessments(user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS reference_texts (
			id TEXT PRIMARY KEY,
			language TEXT NOT NULL,
			text TEXT NOT NULL,
			level TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const resultColumns = `id, user_id, language, reference_text,
	pronunciation, accuracy, fluency, completeness, prosody, prosody_assessed,
	error_counts, words, utterance_count, created_at`

// SaveResult implements [store.ResultStore].
func (s *Store) SaveResult(ctx context.Context, r *types.AssessmentResult) error {
	counts, err := json.Marshal(r.ErrorCounts)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal error counts: %w", err)
	}
	words, err := json.Marshal(r.Words)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal words: %w", err)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assessments (`+resultColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		string(counts),
		string(words),
		r.UtteranceCount,
		createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save result: %w", err)
	}
	return nil
}

// GetResult implements [store.ResultStore].
func (s *Store) GetResult(ctx context.Context, id string) (*types.AssessmentResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM assessments WHERE id = ?`, id)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite store: result %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get result: %w", err)
	}
	return r, nil
}

// ListResults implements [store.ResultStore].
func (s *Store) ListResults(ctx context.Context, userID string, limit int) ([]*types.AssessmentResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM assessments
		 WHERE user_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		userID, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*types.AssessmentResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: list results: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list results: %w", err)
	}
	return results, nil
}

// GetReference implements [store.ReferenceStore].
func (s *Store) GetReference(ctx context.Context, id string) (store.Reference, error) {
	var (
		ref       store.Reference
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, language, text, level, topic, created_at FROM reference_texts WHERE id = ?`, id,
	).Scan(&ref.ID, &ref.Language, &ref.Text, &ref.Level, &ref.Topic, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Reference{}, fmt.Errorf("sqlite store: reference %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Reference{}, fmt.Errorf("sqlite store: get reference: %w", err)
	}
	if ref.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return store.Reference{}, fmt.Errorf("sqlite store: reference %q: bad timestamp: %w", id, err)
	}
	return ref, nil
}

// PutReference implements [store.ReferenceStore].
func (s *Store) PutReference(ctx context.Context, ref store.Reference) error {
	createdAt := ref.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reference_texts (id, language, text, level, topic, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			language = excluded.language,
			text = excluded.text,
			level = excluded.level,
			topic = excluded.topic`,
		ref.ID, ref.Language, ref.Text, ref.Level, ref.Topic,
		createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: put reference: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*types.AssessmentResult, error) {
	var (
		r         types.AssessmentResult
		counts    string
		words     string
		createdAt string
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
		&createdAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(counts), &r.ErrorCounts); err != nil {
		return nil, fmt.Errorf("decode error counts: %w", err)
	}
	if err := json.Unmarshal([]byte(words), &r.Words); err != nil {
		return nil, fmt.Errorf("decode words: %w", err)
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	r.CreatedAt = t
	return &r, nil
}
