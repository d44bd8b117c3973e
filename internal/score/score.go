// Package score reduces recognized utterances and the reconciled word list to
// the five assessment scores and the error histogram.
//
// All averages guard their denominators: an empty input yields
// [ErrInsufficientData], never NaN or a zero score.
package score

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/elocute/internal/observe"
	"github.com/MrWong99/elocute/pkg/types"
)

// ErrInsufficientData is returned (wrapped) when a score cannot be computed
// because one of its denominators is zero.
var ErrInsufficientData = errors.New("score: insufficient data")

// Weights are the composite pronunciation score weights. They must be
// non-negative and sum to 1.
//
// When prosody was not assessed for a run, the Prosody weight is left out and
// the composite is the weighted mean of the other three scores, that is their
// weighted sum divided by 1 - Prosody. With the default weights this is
// (0.4*accuracy + 0.2*fluency + 0.2*completeness) / 0.8.
type Weights struct {
	Accuracy     float64 `yaml:"accuracy"     json:"accuracy"`
	Prosody      float64 `yaml:"prosody"      json:"prosody"`
	Fluency      float64 `yaml:"fluency"      json:"fluency"`
	Completeness float64 `yaml:"completeness" json:"completeness"`
}

// DefaultWeights weight accuracy twice as heavily as each other dimension.
var DefaultWeights = Weights{Accuracy: 0.4, Prosody: 0.2, Fluency: 0.2, Completeness: 0.2}

// weightTolerance absorbs float rounding in user-supplied weights.
const weightTolerance = 1e-6

// Validate reports whether w is usable.
func (w Weights) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"accuracy":     w.Accuracy,
		"prosody":      w.Prosody,
		"fluency":      w.Fluency,
		"completeness": w.Completeness,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("score: weight %s must be a non-negative number, got %v", name, v))
		}
	}
	if sum := w.Accuracy + w.Prosody + w.Fluency + w.Completeness; math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("score: weights must sum to 1, got %v", sum))
	}
	return errors.Join(errs...)
}

// IsZero reports whether no weight is set.
func (w Weights) IsZero() bool { return w == Weights{} }

// Composite returns the weighted pronunciation score. When prosody was not
// assessed, its weight is dropped and the remaining weights are renormalized.
func (w Weights) Composite(s types.Scores, prosodyAssessed bool) (float64, error) {
	if prosodyAssessed {
		return w.Accuracy*s.Accuracy + w.Prosody*s.Prosody + w.Fluency*s.Fluency + w.Completeness*s.Completeness, nil
	}
	rest := w.Accuracy + w.Fluency + w.Completeness
	if rest == 0 {
		return 0, fmt.Errorf("%w: composite depends on prosody only, which was not assessed", ErrInsufficientData)
	}
	return (w.Accuracy*s.Accuracy + w.Fluency*s.Fluency + w.Completeness*s.Completeness) / rest, nil
}

// Input is everything the aggregator needs about one finished session.
type Input struct {
	// Utterances in recognition order.
	Utterances []types.Utterance

	// Words is the reconciled word list, or the flattened recognized words when
	// reconciliation is disabled.
	Words []types.RecognizedWord

	// ReferenceCount is the number of reference tokens.
	ReferenceCount int

	// ProsodyAssessed is true when the session asked the service for prosody
	// scores. When false, prosody is neither averaged nor weighted.
	ProsodyAssessed bool
}

// Aggregate is the result of [Aggregator.Aggregate].
type Aggregate struct {
	Scores types.Scores

	// ErrorCounts maps every primary error type and every derived prosody
	// condition to its count. All keys are present.
	ErrorCounts map[string]int

	// ProsodyExcluded is the number of utterances left out of the prosody
	// average because they carried no prosody score.
	ProsodyExcluded int
}

// Option is a functional option for configuring an [Aggregator].
type Option func(*Aggregator)

// WithWeights sets the composite weights. Callers validate them first.
func WithWeights(w Weights) Option {
	return func(a *Aggregator) {
		a.weights = w
	}
}

// Aggregator computes assessment scores. It is read-only after construction
// and safe for concurrent use.
type Aggregator struct {
	weights Weights
}

// New returns an Aggregator using [DefaultWeights] unless overridden.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{weights: DefaultWeights}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Weights returns the composite weights in use.
func (a *Aggregator) Weights() Weights { return a.weights }

// Aggregate computes the five scores and the error histogram.
func (a *Aggregator) Aggregate(ctx context.Context, in Input) (Aggregate, error) {
	if len(in.Utterances) == 0 {
		return Aggregate{}, fmt.Errorf("%w: no utterances", ErrInsufficientData)
	}
	if in.ReferenceCount <= 0 {
		return Aggregate{}, fmt.Errorf("%w: empty reference", ErrInsufficientData)
	}

	accuracy, err := Accuracy(in.Words)
	if err != nil {
		return Aggregate{}, err
	}
	fluency, err := Fluency(in.Utterances)
	if err != nil {
		return Aggregate{}, err
	}
	s := types.Scores{
		Accuracy:        accuracy,
		Fluency:         fluency,
		Completeness:    Completeness(in.Words, in.ReferenceCount),
		ProsodyAssessed: in.ProsodyAssessed,
	}

	var excluded int
	if in.ProsodyAssessed {
		var prosody float64
		prosody, excluded, err = Prosody(in.Utterances)
		if err != nil {
			return Aggregate{}, err
		}
		if excluded > 0 {
			observe.Logger(ctx).Warn("score: utterances without prosody score excluded from average",
				"excluded", excluded,
				"utterances", len(in.Utterances),
			)
		}
		s.Prosody = prosody
	}

	s.Pronunciation, err = a.weights.Composite(s, in.ProsodyAssessed)
	if err != nil {
		return Aggregate{}, err
	}

	return Aggregate{
		Scores:          s,
		ErrorCounts:     Histogram(in.Words),
		ProsodyExcluded: excluded,
	}, nil
}

// Accuracy averages AccuracyScore over every word that is not an Insertion.
// Omissions count with their score of 0.
func Accuracy(words []types.RecognizedWord) (float64, error) {
	var sum float64
	var n int
	for _, w := range words {
		if w.ErrorType == types.ErrorInsertion {
			continue
		}
		sum += w.AccuracyScore
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no words eligible for accuracy", ErrInsufficientData)
	}
	return sum / float64(n), nil
}

// Fluency is the duration-weighted average of utterance fluency scores.
func Fluency(utts []types.Utterance) (float64, error) {
	var sum, total float64
	for _, u := range utts {
		d := u.Duration.Seconds()
		sum += u.FluencyScore * d
		total += d
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: zero total speech duration", ErrInsufficientData)
	}
	return sum / total, nil
}

// Completeness is the share of reference tokens matched by words whose error
// type is None, as a percentage clamped to [0, 100].
func Completeness(words []types.RecognizedWord, referenceCount int) float64 {
	if referenceCount <= 0 {
		return 0
	}
	var matched int
	for _, w := range words {
		if w.ErrorType == types.ErrorNone {
			matched++
		}
	}
	return min(100, float64(matched)/float64(referenceCount)*100)
}

// Prosody is the unweighted mean of the utterance prosody scores that are
// present. It returns the number of utterances skipped for lacking a score.
func Prosody(utts []types.Utterance) (mean float64, excluded int, err error) {
	var sum float64
	var n int
	for _, u := range utts {
		if u.ProsodyScore == nil {
			excluded++
			continue
		}
		sum += *u.ProsodyScore
		n++
	}
	if n == 0 {
		return 0, excluded, fmt.Errorf("%w: no utterance carries a prosody score", ErrInsufficientData)
	}
	return sum / float64(n), excluded, nil
}

// Histogram counts primary error types and derived prosody conditions. A word
// may add to several derived counters independently of its primary type.
func Histogram(words []types.RecognizedWord) map[string]int {
	h := map[string]int{
		string(types.ErrorNone):             0,
		string(types.ErrorMispronunciation): 0,
		string(types.ErrorOmission):         0,
		string(types.ErrorInsertion):        0,
		types.ErrorUnexpectedBreak:          0,
		types.ErrorMissingBreak:             0,
		types.ErrorMonotone:                 0,
	}
	for _, w := range words {
		h[string(w.ErrorType)]++
		if p := w.Prosody; p != nil {
			if p.UnexpectedBreak {
				h[types.ErrorUnexpectedBreak]++
			}
			if p.MissingBreak {
				h[types.ErrorMissingBreak]++
			}
			if p.Monotone {
				h[types.ErrorMonotone]++
			}
		}
	}
	return h
}
