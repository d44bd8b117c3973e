// Package report projects a scored session into the flat, display-ready
// [types.AssessmentResult].
package report

import (
	"maps"
	"math"
	"time"

	"github.com/MrWong99/elocute/internal/score"
	"github.com/MrWong99/elocute/pkg/types"
)

// Meta identifies the session a report belongs to.
type Meta struct {
	ID             string
	UserID         string
	Language       string
	ReferenceText  string
	UtteranceCount int
	CreatedAt      time.Time
}

// Build assembles the final result. Word records keep reconciled order, and
// every score is rounded to two decimals. Build does not retain words or agg.
func Build(meta Meta, words []types.RecognizedWord, agg score.Aggregate) *types.AssessmentResult {
	out := make([]types.WordResult, len(words))
	for i, w := range words {
		out[i] = Word(w)
	}
	s := agg.Scores
	return &types.AssessmentResult{
		ID:            meta.ID,
		UserID:        meta.UserID,
		Language:      meta.Language,
		ReferenceText: meta.ReferenceText,
		Scores: types.Scores{
			Pronunciation:   Round(s.Pronunciation),
			Accuracy:        Round(s.Accuracy),
			Fluency:         Round(s.Fluency),
			Completeness:    Round(s.Completeness),
			Prosody:         Round(s.Prosody),
			ProsodyAssessed: s.ProsodyAssessed,
		},
		Words:          out,
		ErrorCounts:    maps.Clone(agg.ErrorCounts),
		UtteranceCount: meta.UtteranceCount,
		CreatedAt:      meta.CreatedAt.UTC(),
	}
}

// Word flattens one reconciled word. Phoneme symbols and their scores are
// split into parallel lists; prosody flags become feedback strings.
func Word(w types.RecognizedWord) types.WordResult {
	r := types.WordResult{
		Word:          w.Word,
		AccuracyScore: Round(w.AccuracyScore),
		ErrorType:     w.ErrorType,
		Phonemes:      make([]string, len(w.Phonemes)),
		Scores:        make([]float64, len(w.Phonemes)),
	}
	for i, p := range w.Phonemes {
		r.Phonemes[i] = p.Phoneme
		r.Scores[i] = Round(p.AccuracyScore)
	}
	if p := w.Prosody; p.Any() {
		if p.UnexpectedBreak {
			r.Feedback = append(r.Feedback, types.ErrorUnexpectedBreak)
		}
		if p.MissingBreak {
			r.Feedback = append(r.Feedback, types.ErrorMissingBreak)
		}
		if p.Monotone {
			r.Feedback = append(r.Feedback, types.ErrorMonotone)
		}
	}
	return r
}

// Round rounds v to two decimals for display.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}
