package reconcile

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Similar reports whether a recognized word plausibly is an attempt at the
// reference token. Words whose Double Metaphone codes overlap need a
// Jaro-Winkler score of at least the phonetic threshold; all other pairs need
// the higher fuzzy threshold.
func (r *Reconciler) Similar(reference, word string) bool {
	a := strings.ToLower(strings.TrimSpace(reference))
	b := strings.ToLower(strings.TrimSpace(word))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	jw := matchr.JaroWinkler(a, b, false)
	if codesOverlap(a, b) {
		return jw >= r.phoneticThreshold
	}
	return jw >= r.fuzzyThreshold
}

// codesOverlap reports whether the Double Metaphone codes of a and b share a
// code. Empty codes (no consonants, non-Latin script) never match.
func codesOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
