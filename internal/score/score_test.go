package score

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/elocute/pkg/types"
)

func ptr(v float64) *float64 { return &v }

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func word(w string, acc float64, et types.ErrorType) types.RecognizedWord {
	return types.RecognizedWord{Word: w, AccuracyScore: acc, ErrorType: et}
}

func TestFluency_DurationWeighted(t *testing.T) {
	t.Parallel()
	got, err := Fluency([]types.Utterance{
		{FluencyScore: 80, Duration: 10 * time.Second},
		{FluencyScore: 100, Duration: 30 * time.Second},
	})
	if err != nil {
		t.Fatalf("Fluency: %v", err)
	}
	approx(t, "fluency", got, 95)
}

func TestFluency_ZeroDuration(t *testing.T) {
	t.Parallel()
	_, err := Fluency([]types.Utterance{{FluencyScore: 80}})
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestWeights_Composite(t *testing.T) {
	t.Parallel()
	s := types.Scores{Accuracy: 90, Prosody: 80, Fluency: 70, Completeness: 100}
	got, err := DefaultWeights.Composite(s, true)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	approx(t, "composite", got, 86)

	// Without prosody the remaining 0.8 is renormalized: (36+14+20)/0.8.
	got, err = DefaultWeights.Composite(s, false)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	approx(t, "composite without prosody", got, 87.5)

	if _, err := (Weights{Prosody: 1}).Composite(s, false); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("prosody-only weights err = %v", err)
	}
}

func TestWeights_Validate(t *testing.T) {
	t.Parallel()
	if err := DefaultWeights.Validate(); err != nil {
		t.Errorf("DefaultWeights invalid: %v", err)
	}
	bad := []Weights{
		{Accuracy: 0.5, Prosody: 0.5, Fluency: 0.5},
		{Accuracy: 1.2, Prosody: -0.2},
		{Accuracy: math.NaN(), Prosody: 1},
		{},
	}
	for _, w := range bad {
		if err := w.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", w)
		}
	}
	if !(Weights{}).IsZero() || DefaultWeights.IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestAccuracy_OmissionIncludedInsertionExcluded(t *testing.T) {
	t.Parallel()
	// the, quick(omitted), brown, fox
	got, err := Accuracy([]types.RecognizedWord{
		word("the", 90, types.ErrorNone),
		{Word: "quick", ErrorType: types.ErrorOmission},
		word("brown", 90, types.ErrorNone),
		word("fox", 90, types.ErrorNone),
		word("there", 100, types.ErrorInsertion),
	})
	if err != nil {
		t.Fatalf("Accuracy: %v", err)
	}
	approx(t, "accuracy", got, 67.5)
}

func TestAccuracy_NoEligibleWords(t *testing.T) {
	t.Parallel()
	_, err := Accuracy([]types.RecognizedWord{word("x", 50, types.ErrorInsertion)})
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestCompleteness_Bounded(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		words []types.RecognizedWord
		ref   int
		want  float64
	}{
		{
			name:  "over-recognition clamps",
			words: []types.RecognizedWord{word("a", 1, types.ErrorNone), word("a", 1, types.ErrorNone), word("a", 1, types.ErrorNone)},
			ref:   2,
			want:  100,
		},
		{
			name:  "partial",
			words: []types.RecognizedWord{word("a", 1, types.ErrorNone), {Word: "b", ErrorType: types.ErrorOmission}, word("c", 1, types.ErrorMispronunciation)},
			ref:   4,
			want:  25,
		},
		{name: "no words", ref: 3, want: 0},
		{name: "no reference", words: []types.RecognizedWord{word("a", 1, types.ErrorNone)}, ref: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Completeness(tt.words, tt.ref)
			if got < 0 || got > 100 {
				t.Fatalf("completeness %v out of bounds", got)
			}
			approx(t, "completeness", got, tt.want)
		})
	}
}

func TestProsody_ExcludesMissing(t *testing.T) {
	t.Parallel()
	mean, excluded, err := Prosody([]types.Utterance{
		{ProsodyScore: ptr(60)},
		{},
		{ProsodyScore: ptr(80)},
	})
	if err != nil {
		t.Fatalf("Prosody: %v", err)
	}
	approx(t, "prosody", mean, 70)
	if excluded != 1 {
		t.Errorf("excluded = %d, want 1", excluded)
	}

	if _, _, err := Prosody([]types.Utterance{{}, {}}); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("all missing err = %v, want ErrInsufficientData", err)
	}
}

func TestHistogram(t *testing.T) {
	t.Parallel()
	h := Histogram([]types.RecognizedWord{
		word("hello", 90, types.ErrorNone),
		{Word: "there", AccuracyScore: 80, ErrorType: types.ErrorInsertion, Prosody: &types.ProsodyFeedback{UnexpectedBreak: true, Monotone: true}},
		{Word: "big", ErrorType: types.ErrorOmission},
		{Word: "world", AccuracyScore: 40, ErrorType: types.ErrorMispronunciation, Prosody: &types.ProsodyFeedback{MissingBreak: true, Monotone: true}},
	})
	want := map[string]int{
		"None": 1, "Insertion": 1, "Omission": 1, "Mispronunciation": 1,
		"UnexpectedBreak": 1, "MissingBreak": 1, "Monotone": 2,
	}
	if len(h) != len(want) {
		t.Fatalf("histogram = %v", h)
	}
	for k, v := range want {
		if h[k] != v {
			t.Errorf("histogram[%s] = %d, want %d", k, h[k], v)
		}
	}
}

func TestAggregate_InsertionScenario(t *testing.T) {
	t.Parallel()
	words := []types.RecognizedWord{
		word("hello", 80, types.ErrorNone),
		word("there", 100, types.ErrorInsertion),
		word("world", 100, types.ErrorNone),
	}
	agg, err := New().Aggregate(context.Background(), Input{
		Utterances: []types.Utterance{
			{FluencyScore: 70, ProsodyScore: ptr(80), Duration: 2 * time.Second},
		},
		Words:           words,
		ReferenceCount:  2,
		ProsodyAssessed: true,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	approx(t, "accuracy", agg.Scores.Accuracy, 90)
	approx(t, "completeness", agg.Scores.Completeness, 100)
	approx(t, "fluency", agg.Scores.Fluency, 70)
	approx(t, "prosody", agg.Scores.Prosody, 80)
	approx(t, "pronunciation", agg.Scores.Pronunciation, 0.4*90+0.2*80+0.2*70+0.2*100)
	if agg.ErrorCounts["Insertion"] != 1 {
		t.Errorf("insertion count = %d", agg.ErrorCounts["Insertion"])
	}
}

func TestAggregate_CustomWeights(t *testing.T) {
	t.Parallel()
	a := New(WithWeights(Weights{Accuracy: 1}))
	agg, err := a.Aggregate(context.Background(), Input{
		Utterances:     []types.Utterance{{FluencyScore: 10, Duration: time.Second}},
		Words:          []types.RecognizedWord{word("a", 42, types.ErrorNone)},
		ReferenceCount: 1,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	approx(t, "pronunciation", agg.Scores.Pronunciation, 42)
	if agg.Scores.ProsodyAssessed || agg.Scores.Prosody != 0 {
		t.Errorf("prosody should be unassessed: %+v", agg.Scores)
	}
}

func TestAggregate_InsufficientData(t *testing.T) {
	t.Parallel()
	good := []types.Utterance{{FluencyScore: 90, ProsodyScore: ptr(90), Duration: time.Second}}
	words := []types.RecognizedWord{word("a", 90, types.ErrorNone)}

	tests := []struct {
		name string
		in   Input
	}{
		{name: "no utterances", in: Input{Words: words, ReferenceCount: 1, ProsodyAssessed: true}},
		{name: "no reference tokens", in: Input{Utterances: good, Words: words}},
		{name: "only insertions", in: Input{Utterances: good, Words: []types.RecognizedWord{word("a", 90, types.ErrorInsertion)}, ReferenceCount: 1}},
		{name: "zero duration", in: Input{Utterances: []types.Utterance{{FluencyScore: 90}}, Words: words, ReferenceCount: 1}},
		{name: "no prosody anywhere", in: Input{Utterances: []types.Utterance{{FluencyScore: 90, Duration: time.Second}}, Words: words, ReferenceCount: 1, ProsodyAssessed: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			agg, err := New().Aggregate(context.Background(), tt.in)
			if !errors.Is(err, ErrInsufficientData) {
				t.Fatalf("err = %v, want ErrInsufficientData", err)
			}
			if agg.ErrorCounts != nil || agg.Scores != (types.Scores{}) {
				t.Errorf("partial aggregate returned: %+v", agg)
			}
		})
	}
}
