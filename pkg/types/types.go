// Package types defines the shared types used across all Elocute packages.
//
// These types form the lingua franca between the recognizer providers, the
// reconciliation and scoring stages, the persistence layer and the HTTP API.
// Each package defines its own domain types; cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// ErrorType classifies how a single word deviates from the reference text.
type ErrorType string

const (
	// ErrorNone marks a word that was spoken as expected.
	ErrorNone ErrorType = "None"

	// ErrorMispronunciation marks a word the speaker attempted but pronounced
	// poorly.
	ErrorMispronunciation ErrorType = "Mispronunciation"

	// ErrorOmission marks a reference word the speaker skipped. Omissions are
	// never reported by the recognizer; they are synthesized during
	// reconciliation.
	ErrorOmission ErrorType = "Omission"

	// ErrorInsertion marks a recognized word that has no counterpart in the
	// reference text.
	ErrorInsertion ErrorType = "Insertion"
)

// Derived prosody error categories. They are counted alongside the primary
// [ErrorType] histogram but never replace a word's primary error type.
const (
	ErrorUnexpectedBreak = "UnexpectedBreak"
	ErrorMissingBreak    = "MissingBreak"
	ErrorMonotone        = "Monotone"
)

// IsValid reports whether e is one of the four primary error types.
func (e ErrorType) IsValid() bool {
	switch e {
	case ErrorNone, ErrorMispronunciation, ErrorOmission, ErrorInsertion:
		return true
	}
	return false
}

// Phoneme is a single phoneme-level score within a recognized word.
type Phoneme struct {
	// Phoneme is the phoneme symbol as reported by the speech service.
	Phoneme string

	// AccuracyScore is the phoneme accuracy in the range [0, 100].
	AccuracyScore float64
}

// ProsodyFeedback carries the per-word prosody conditions reported by the
// speech service. All flags are independent of each other and of the word's
// primary [ErrorType].
type ProsodyFeedback struct {
	// UnexpectedBreak is set when the speaker paused where no pause was expected.
	UnexpectedBreak bool

	// MissingBreak is set when the speaker did not pause where a pause was expected.
	MissingBreak bool

	// Monotone is set when the pitch contour around the word was flat.
	Monotone bool
}

// Any reports whether at least one prosody condition is flagged.
func (p *ProsodyFeedback) Any() bool {
	return p != nil && (p.UnexpectedBreak || p.MissingBreak || p.Monotone)
}

// RecognizedWord is one word of a recognized utterance or a word synthesized
// during reconciliation.
//
// Omission words carry only Word and ErrorType; their score is zero and their
// phoneme list is empty.
type RecognizedWord struct {
	// Word is the word text as recognized (or the reference token for omissions).
	Word string

	// AccuracyScore is the word-level accuracy in the range [0, 100].
	AccuracyScore float64

	// ErrorType classifies the word.
	ErrorType ErrorType

	// Phonemes holds the phoneme-level breakdown in spoken order.
	Phonemes []Phoneme

	// Prosody is the decoded prosody feedback. Nil when the service supplied none.
	Prosody *ProsodyFeedback

	// Offset is the start of the word relative to the start of the audio stream.
	Offset time.Duration

	// Duration is the spoken length of the word.
	Duration time.Duration
}

// Utterance is one recognized segment of a continuous recognition session.
// It is immutable once received.
type Utterance struct {
	// Text is the display text of the segment.
	Text string

	// Words holds the recognized words in spoken order.
	Words []RecognizedWord

	// FluencyScore is the utterance-level fluency in the range [0, 100].
	FluencyScore float64

	// ProsodyScore is the utterance-level prosody in the range [0, 100]. Nil when
	// the service did not assess prosody for this segment.
	ProsodyScore *float64

	// Duration is the summed duration of all words in the segment. It is the
	// weight of this utterance in the fluency average.
	Duration time.Duration
}

// WordDuration returns the sum of the word durations in u.
func (u Utterance) WordDuration() time.Duration {
	var d time.Duration
	for _, w := range u.Words {
		d += w.Duration
	}
	return d
}

// Scores holds the five aggregate scores of an assessment, each in [0, 100].
type Scores struct {
	Pronunciation float64 `json:"pronunciation"`
	Accuracy      float64 `json:"accuracy"`
	Fluency       float64 `json:"fluency"`
	Completeness  float64 `json:"completeness"`
	Prosody       float64 `json:"prosody"`

	// ProsodyAssessed is false when the service did not score prosody for the
	// session (unsupported locale or disabled). Prosody is then 0 and carries
	// no weight in Pronunciation.
	ProsodyAssessed bool `json:"prosody_assessed"`
}

// WordResult is the flat display record of one reconciled word.
type WordResult struct {
	Word          string    `json:"word"`
	AccuracyScore float64   `json:"accuracy_score"`
	ErrorType     ErrorType `json:"error_type"`
	Phonemes      []string  `json:"phonemes"`
	Scores        []float64 `json:"scores"`
	Feedback      []string  `json:"feedback,omitempty"`
}

// AssessmentResult is the final record of one assessment session. It is
// created once and never mutated afterwards; persistence sinks and the HTTP
// layer consume it read-only.
type AssessmentResult struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id,omitempty"`
	Language       string         `json:"language"`
	ReferenceText  string         `json:"reference_text"`
	Scores         Scores         `json:"scores"`
	Words          []WordResult   `json:"words"`
	ErrorCounts    map[string]int `json:"error_counts"`
	UtteranceCount int            `json:"utterance_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}
