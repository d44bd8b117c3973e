// Package reconcile aligns the words a recognizer produced against the
// reference token sequence and recovers the miscues the recognizer does not
// report on its own.
//
// Continuous recognition scores each segment in isolation, so words the
// speaker skipped never appear and extra words are rarely flagged. The
// Reconciler runs a sequence diff (difflib opcodes, reference = A, lowercased
// recognized words = B) and rewrites the word list:
//
//   - equal: recognized words are copied unchanged;
//   - insert, replace (B side): recognized words with error type None are
//     relabeled Insertion, every word in the range is kept;
//   - delete, replace (A side): one Omission word is synthesized per
//     reference token.
//
// A replace range therefore yields its insertions followed by its omissions,
// never a one-to-one substitution. The optional substitution-aware mode pairs
// equal-length replace ranges and keeps phonetically similar words as
// mispronunciations instead.
package reconcile

import (
	"strings"

	"github.com/MrWong99/elocute/pkg/types"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Reconciler].
type Option func(*Reconciler)

// WithSubstitutionAware enables pairing of equal-length replace ranges. A
// recognized word that sounds like its reference token is kept and marked
// Mispronunciation instead of producing an Insertion and an Omission.
// Disabled by default.
func WithSubstitutionAware(enabled bool) Option {
	return func(r *Reconciler) {
		r.substitution = enabled
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a pair whose
// Double Metaphone codes overlap to count as a substitution. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(r *Reconciler) {
		r.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a pair without
// phonetic overlap to count as a substitution. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Reconciler) {
		r.fuzzyThreshold = threshold
	}
}

// Reconciler rewrites recognized word lists against a reference. It is
// read-only after construction and safe for concurrent use.
type Reconciler struct {
	substitution      bool
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Reconciler configured with the supplied options.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Stats counts what a reconciliation did.
type Stats struct {
	// Kept is the number of recognized words inside equal ranges.
	Kept int
	// Inserted is the number of recognized words inside insert or replace
	// ranges that were not paired as substitutions.
	Inserted int
	// Omitted is the number of synthesized Omission words.
	Omitted int
	// Substituted is the number of recognized words paired with a reference
	// token in substitution-aware mode.
	Substituted int
}

// Recognized returns the number of recognized words accounted for.
func (s Stats) Recognized() int { return s.Kept + s.Inserted + s.Substituted }

// Reference returns the number of reference tokens accounted for.
func (s Stats) Reference() int { return s.Kept + s.Omitted + s.Substituted }

// Reconcile returns the reconciled word list. The input slices are not
// modified. len(result) == len(recognized) + number of omissions.
func (r *Reconciler) Reconcile(reference []string, recognized []types.RecognizedWord) []types.RecognizedWord {
	out, _ := r.ReconcileStats(reference, recognized)
	return out
}

// ReconcileStats is Reconcile that also reports per-category counts.
func (r *Reconciler) ReconcileStats(reference []string, recognized []types.RecognizedWord) ([]types.RecognizedWord, Stats) {
	b := make([]string, len(recognized))
	for i, w := range recognized {
		b[i] = strings.ToLower(w.Word)
	}

	var st Stats
	out := make([]types.RecognizedWord, 0, len(recognized)+len(reference))
	m := difflib.NewMatcher(reference, b)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			out = append(out, recognized[op.J1:op.J2]...)
			st.Kept += op.J2 - op.J1
		case 'r':
			if r.substitution && op.I2-op.I1 == op.J2-op.J1 {
				out = r.pairRange(out, &st, reference[op.I1:op.I2], recognized[op.J1:op.J2])
				continue
			}
			out = appendInsertions(out, recognized[op.J1:op.J2])
			st.Inserted += op.J2 - op.J1
			out = appendOmissions(out, reference[op.I1:op.I2])
			st.Omitted += op.I2 - op.I1
		case 'i':
			out = appendInsertions(out, recognized[op.J1:op.J2])
			st.Inserted += op.J2 - op.J1
		case 'd':
			out = appendOmissions(out, reference[op.I1:op.I2])
			st.Omitted += op.I2 - op.I1
		}
	}
	return out, st
}

// pairRange handles an equal-length replace range in substitution-aware mode.
func (r *Reconciler) pairRange(out []types.RecognizedWord, st *Stats, ref []string, rec []types.RecognizedWord) []types.RecognizedWord {
	for k, w := range rec {
		if r.Similar(ref[k], w.Word) {
			if w.ErrorType == types.ErrorNone {
				w.ErrorType = types.ErrorMispronunciation
			}
			out = append(out, w)
			st.Substituted++
			continue
		}
		out = appendInsertions(out, rec[k:k+1])
		out = appendOmissions(out, ref[k:k+1])
		st.Inserted++
		st.Omitted++
	}
	return out
}

func appendInsertions(out []types.RecognizedWord, words []types.RecognizedWord) []types.RecognizedWord {
	for _, w := range words {
		if w.ErrorType == types.ErrorNone {
			w.ErrorType = types.ErrorInsertion
		}
		out = append(out, w)
	}
	return out
}

func appendOmissions(out []types.RecognizedWord, tokens []string) []types.RecognizedWord {
	for _, tok := range tokens {
		out = append(out, types.RecognizedWord{Word: tok, ErrorType: types.ErrorOmission})
	}
	return out
}
