package tokenize

import (
	"strings"
	"unicode/utf8"
)

// maxMergeSpan caps how many adjacent segments may merge into one token.
const maxMergeSpan = 6

// applyVocabulary re-segments dictionary output towards the recognizer's
// vocabulary. It runs two passes over segs:
//
//  1. split: a segment that is not a vocabulary word but can be written
//     entirely as a sequence of vocabulary words is replaced by them;
//  2. merge: a run of adjacent segments whose concatenation is a vocabulary
//     word becomes that word (longest run wins, scanning left to right).
//
// The concatenation of the output always equals the concatenation of segs.
func applyVocabulary(segs []string, vocabulary []string) []string {
	if len(vocabulary) == 0 || len(segs) == 0 {
		return segs
	}
	vocab := make(map[string]struct{}, len(vocabulary))
	maxRunes := 0
	for _, w := range vocabulary {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		vocab[w] = struct{}{}
		maxRunes = max(maxRunes, utf8.RuneCountInString(w))
	}
	if len(vocab) == 0 {
		return segs
	}

	split := make([]string, 0, len(segs))
	for _, s := range segs {
		if _, ok := vocab[s]; ok {
			split = append(split, s)
			continue
		}
		if parts := decompose(s, vocab, maxRunes); parts != nil {
			split = append(split, parts...)
			continue
		}
		split = append(split, s)
	}

	out := make([]string, 0, len(split))
	for i := 0; i < len(split); {
		n := 1
		for span := min(maxMergeSpan, len(split)-i); span > 1; span-- {
			if _, ok := vocab[strings.Join(split[i:i+span], "")]; ok {
				n = span
				break
			}
		}
		out = append(out, strings.Join(split[i:i+n], ""))
		i += n
	}
	return out
}

// decompose returns the split of s into vocabulary words that uses the fewest
// words, preferring longer words first at equal count. It returns nil when s
// cannot be fully covered.
func decompose(s string, vocab map[string]struct{}, maxRunes int) []string {
	runes := []rune(s)
	n := len(runes)
	if n < 2 {
		return nil
	}
	// best[i] is the fewest words covering runes[i:]; next[i] is the end of the
	// first word in that cover.
	const inf = int(^uint(0) >> 1)
	best := make([]int, n+1)
	next := make([]int, n+1)
	for i := range n {
		best[i] = inf
	}
	for i := n - 1; i >= 0; i-- {
		for j := min(n, i+maxRunes); j > i; j-- {
			if best[j] == inf {
				continue
			}
			if _, ok := vocab[string(runes[i:j])]; ok && best[j]+1 < best[i] {
				best[i] = best[j] + 1
				next[i] = j
			}
		}
	}
	if best[0] == inf || best[0] < 2 {
		return nil
	}
	parts := make([]string, 0, best[0])
	for i := 0; i < n; i = next[i] {
		parts = append(parts, string(runes[i:next[i]]))
	}
	return parts
}
