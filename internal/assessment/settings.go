package assessment

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/elocute/internal/score"
)

// Default settings.
const (
	DefaultTimeout       = 2 * time.Minute
	DefaultChunkDuration = 100 * time.Millisecond
	DefaultLanguage      = "en-US"
)

// DefaultProsodyLocales lists the locales the speech service scores prosody
// for.
var DefaultProsodyLocales = []string{"en-US"}

// Settings are the tunables of an [Assessor]. They can be replaced at runtime
// with [Assessor.SetSettings]; a run uses the settings current at its start.
type Settings struct {
	// Weights are the composite score weights.
	Weights score.Weights

	// Timeout bounds a whole recognition run. Zero disables the bound.
	Timeout time.Duration

	// Reconcile enables alignment of recognized words against the reference.
	// When false the recognized words are scored as the service reported them.
	Reconcile bool

	// SubstitutionAware pairs phonetically similar replaced words as
	// mispronunciations instead of an insertion plus an omission.
	SubstitutionAware bool

	// Miscue is the miscue setting used when a request does not set one.
	Miscue bool

	// ChunkDuration is the length of audio sent per SendAudio call.
	ChunkDuration time.Duration

	// Pacing streams audio no faster than real time.
	Pacing bool

	// ProsodyLocales lists the locales prosody is requested for. An entry of
	// "*" matches every locale; an empty list disables prosody.
	ProsodyLocales []string

	// DefaultLanguage is used when neither the request nor the reference
	// passage names a locale.
	DefaultLanguage string
}

// DefaultSettings returns the settings a new [Assessor] starts with.
func DefaultSettings() Settings {
	return Settings{
		Weights:         score.DefaultWeights,
		Timeout:         DefaultTimeout,
		Reconcile:       true,
		Miscue:          true,
		ChunkDuration:   DefaultChunkDuration,
		ProsodyLocales:  slices.Clone(DefaultProsodyLocales),
		DefaultLanguage: DefaultLanguage,
	}
}

// Validate reports every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if err := s.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	if s.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", s.Timeout))
	}
	if s.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("chunk duration must be positive, got %s", s.ChunkDuration))
	}
	if s.DefaultLanguage == "" {
		errs = append(errs, errors.New("default language must not be empty"))
	}
	return errors.Join(errs...)
}

// ProsodyFor reports whether prosody is requested for language.
func (s Settings) ProsodyFor(language string) bool {
	for _, l := range s.ProsodyLocales {
		if l == "*" || strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}
