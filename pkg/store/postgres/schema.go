// Package postgres provides a PostgreSQL-backed implementation of
// [store.ResultStore] and [store.ReferenceStore].
//
// Scores are stored in typed columns so they can be queried and charted
// directly. The word-level detail and the error histogram go into JSONB
// columns; they are only ever read back as a whole.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//
//	_ = s.SaveResult(ctx, result)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id               TEXT              PRIMARY KEY,
    user_id          TEXT              NOT NULL DEFAULT '',
    language         TEXT              NOT NULL,
    reference_text   TEXT              NOT NULL,
    pronunciation    DOUBLE PRECISION  NOT NULL,
    accuracy         DOUBLE PRECISION  NOT NULL,
    fluency          DOUBLE PRECISION  NOT NULL,
    completeness     DOUBLE PRECISION  NOT NULL,
    prosody          DOUBLE PRECISION  NOT NULL,
    prosody_assessed BOOLEAN           NOT NULL DEFAULT TRUE,
    error_counts     JSONB             NOT NULL DEFAULT '{}',
    words            JSONB             NOT NULL DEFAULT '[]',
    utterance_count  INTEGER           NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_assessments_user_created
    ON assessments (user_id, created_at DESC);
`

const ddlReferenceTexts = `
CREATE TABLE IF NOT EXISTS reference_texts (
    id          TEXT         PRIMARY KEY,
    language    TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    level       TEXT         NOT NULL DEFAULT '',
    topic       TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reference_texts_language
    ON reference_texts (language, level);
`

// Migrate creates or ensures all required tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlAssessments, ddlReferenceTexts} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
