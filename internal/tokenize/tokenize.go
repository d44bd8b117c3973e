// Package tokenize splits a reference text into the word sequence that the
// alignment stage compares against the recognized words.
//
// Space-delimited languages are lowercased, split on whitespace and stripped
// of surrounding punctuation. A token that is nothing but punctuation, such as
// a free-standing dash, is dropped rather than kept as an empty word, so it
// can never surface as an omission. Chinese and Japanese have no word delimiters, so
// they are segmented with a dictionary-based segmenter (gse for Chinese,
// kagome with the IPA dictionary for Japanese) and then re-segmented towards
// the recognizer's vocabulary so that both sequences share token boundaries.
package tokenize

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// ErrDictionary is returned (wrapped) when a segmentation dictionary cannot be
// loaded.
var ErrDictionary = errors.New("tokenize: dictionary unavailable")

// Script identifies the segmentation strategy for a language.
type Script int

const (
	// ScriptSpaced covers every language that separates words with whitespace.
	ScriptSpaced Script = iota
	// ScriptChinese covers Chinese variants.
	ScriptChinese
	// ScriptJapanese covers Japanese.
	ScriptJapanese
)

// ScriptOf returns the segmentation strategy for a BCP-47 language tag.
func ScriptOf(language string) Script {
	primary, _, _ := strings.Cut(strings.ToLower(language), "-")
	primary, _, _ = strings.Cut(primary, "_")
	switch primary {
	case "zh", "yue", "wuu", "cmn":
		return ScriptChinese
	case "ja":
		return ScriptJapanese
	default:
		return ScriptSpaced
	}
}

// IsLogographic reports whether language is written without word delimiters
// and therefore needs dictionary segmentation.
func IsLogographic(language string) bool {
	return ScriptOf(language) != ScriptSpaced
}

// Tokenizer produces reference token sequences. Dictionaries are loaded lazily
// on first use of each script and shared afterwards. A Tokenizer is safe for
// concurrent use.
type Tokenizer struct {
	zhOnce sync.Once
	zh     gse.Segmenter
	zhErr  error

	jaOnce sync.Once
	ja     *tokenizer.Tokenizer
	jaErr  error
}

// New returns a Tokenizer. No dictionary is loaded until needed.
func New() *Tokenizer {
	return &Tokenizer{}
}

// Tokenize splits text into lowercase reference tokens for language. For
// logographic languages, vocabulary (the words the recognizer produced) biases
// segmentation towards those words; it is ignored otherwise.
//
// The result depends only on (text, language, vocabulary) and re-tokenizing
// the same input yields the same tokens.
func (t *Tokenizer) Tokenize(text, language string, vocabulary []string) ([]string, error) {
	switch ScriptOf(language) {
	case ScriptChinese:
		segs, err := t.segmentChinese(text)
		if err != nil {
			return nil, err
		}
		return applyVocabulary(cleanSegments(segs), vocabulary), nil
	case ScriptJapanese:
		segs, err := t.segmentJapanese(text)
		if err != nil {
			return nil, err
		}
		return applyVocabulary(cleanSegments(segs), vocabulary), nil
	default:
		return splitSpaced(text), nil
	}
}

// splitSpaced lowercases, splits on whitespace and trims punctuation from both
// ends of every token. Tokens that are punctuation only are dropped.
func splitSpaced(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, isPunct)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// cleanSegments lowercases segments and drops whitespace and punctuation-only
// segments.
func cleanSegments(segs []string) []string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" || strings.IndexFunc(s, func(r rune) bool { return !isPunct(r) && !unicode.IsSpace(r) }) < 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func (t *Tokenizer) segmentChinese(text string) ([]string, error) {
	t.zhOnce.Do(func() {
		t.zh.SkipLog = true
		if err := t.zh.LoadDictEmbed(); err != nil {
			t.zhErr = fmt.Errorf("%w: gse: %v", ErrDictionary, err)
		}
	})
	if t.zhErr != nil {
		return nil, t.zhErr
	}
	return t.zh.Cut(text, true), nil
}

func (t *Tokenizer) segmentJapanese(text string) ([]string, error) {
	t.jaOnce.Do(func() {
		tk, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
		if err != nil {
			t.jaErr = fmt.Errorf("%w: kagome: %v", ErrDictionary, err)
			return
		}
		t.ja = tk
	})
	if t.jaErr != nil {
		return nil, t.jaErr
	}

	toks := t.ja.Tokenize(text)
	segs := make([]string, 0, len(toks))
	for _, tok := range toks {
		if pos := tok.POS(); len(pos) > 0 && pos[0] == "記号" {
			continue
		}
		segs = append(segs, tok.Surface)
	}
	return segs, nil
}
