package azure

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/MrWong99/elocute/pkg/types"
)

// RecognitionStatus is the status field of a speech.phrase message.
type RecognitionStatus string

// Known recognition statuses.
const (
	StatusSuccess               RecognitionStatus = "Success"
	StatusNoMatch               RecognitionStatus = "NoMatch"
	StatusInitialSilenceTimeout RecognitionStatus = "InitialSilenceTimeout"
	StatusBabbleTimeout         RecognitionStatus = "BabbleTimeout"
	StatusEndOfDictation        RecognitionStatus = "EndOfDictation"
	StatusError                 RecognitionStatus = "Error"
)

// Skippable reports whether a phrase with this status carries no utterance
// and no failure: silence, unrecognizable audio, or the end-of-dictation
// marker.
func (s RecognitionStatus) Skippable() bool {
	switch s {
	case StatusNoMatch, StatusInitialSilenceTimeout, StatusBabbleTimeout, StatusEndOfDictation:
		return true
	}
	return false
}

// ticks is a duration in the service's 100-nanosecond units.
type ticks int64

func (t ticks) duration() time.Duration { return time.Duration(t) * 100 }

// detailedResult is the speech.phrase body in "detailed" output format.
type detailedResult struct {
	RecognitionStatus RecognitionStatus `json:"RecognitionStatus"`
	DisplayText       string            `json:"DisplayText"`
	Offset            ticks             `json:"Offset"`
	Duration          ticks             `json:"Duration"`
	NBest             []nBest           `json:"NBest"`
}

type nBest struct {
	Display                 string          `json:"Display"`
	PronunciationAssessment *utteranceScore `json:"PronunciationAssessment"`
	Words                   []wordResult    `json:"Words"`
}

type utteranceScore struct {
	AccuracyScore     *float64 `json:"AccuracyScore"`
	FluencyScore      *float64 `json:"FluencyScore"`
	CompletenessScore *float64 `json:"CompletenessScore"`
	PronScore         *float64 `json:"PronScore"`
	ProsodyScore      *float64 `json:"ProsodyScore"`
}

type wordResult struct {
	Word                    string          `json:"Word"`
	Offset                  ticks           `json:"Offset"`
	Duration                ticks           `json:"Duration"`
	PronunciationAssessment *wordScore      `json:"PronunciationAssessment"`
	Phonemes                []phonemeResult `json:"Phonemes"`
}

type wordScore struct {
	AccuracyScore *float64      `json:"AccuracyScore"`
	ErrorType     string        `json:"ErrorType"`
	Feedback      *wordFeedback `json:"Feedback"`
}

type wordFeedback struct {
	Prosody *struct {
		Break *struct {
			ErrorTypes []string `json:"ErrorTypes"`
		} `json:"Break"`
		Intonation *struct {
			ErrorTypes []string `json:"ErrorTypes"`
		} `json:"Intonation"`
	} `json:"Prosody"`
}

type phonemeResult struct {
	Phoneme                 string `json:"Phoneme"`
	PronunciationAssessment *struct {
		AccuracyScore *float64 `json:"AccuracyScore"`
	} `json:"PronunciationAssessment"`
}

// Phrase is a decoded speech.phrase message.
type Phrase struct {
	Status RecognitionStatus

	// Utterance is populated only when Status is StatusSuccess.
	Utterance types.Utterance
}

// DecodeDetailedResult decodes a speech.phrase body. Successful phrases must
// carry an utterance-level fluency score and a word-level accuracy score for
// every word; anything missing yields an error wrapping
// [assess.ErrMalformedEvent]. Prosody scores and feedback are optional.
func DecodeDetailedResult(data []byte) (Phrase, error) {
	var res detailedResult
	if err := json.Unmarshal(data, &res); err != nil {
		return Phrase{}, fmt.Errorf("%w: %v", assess.ErrMalformedEvent, err)
	}
	if res.RecognitionStatus == "" {
		return Phrase{}, fmt.Errorf("%w: missing RecognitionStatus", assess.ErrMalformedEvent)
	}
	p := Phrase{Status: res.RecognitionStatus}
	if res.RecognitionStatus != StatusSuccess {
		return p, nil
	}

	if len(res.NBest) == 0 {
		return Phrase{}, fmt.Errorf("%w: no NBest alternatives", assess.ErrMalformedEvent)
	}
	best := res.NBest[0]
	if best.PronunciationAssessment == nil || best.PronunciationAssessment.FluencyScore == nil {
		return Phrase{}, fmt.Errorf("%w: missing FluencyScore", assess.ErrMalformedEvent)
	}

	words := make([]types.RecognizedWord, 0, len(best.Words))
	for i, w := range best.Words {
		rw, err := decodeWord(w)
		if err != nil {
			return Phrase{}, fmt.Errorf("%w: word %d (%q): %v", assess.ErrMalformedEvent, i, w.Word, err)
		}
		words = append(words, rw)
	}

	text := res.DisplayText
	if text == "" {
		text = best.Display
	}
	p.Utterance = types.Utterance{
		Text:         text,
		Words:        words,
		FluencyScore: *best.PronunciationAssessment.FluencyScore,
		ProsodyScore: best.PronunciationAssessment.ProsodyScore,
	}
	p.Utterance.Duration = p.Utterance.WordDuration()
	return p, nil
}

func decodeWord(w wordResult) (types.RecognizedWord, error) {
	if w.PronunciationAssessment == nil || w.PronunciationAssessment.AccuracyScore == nil {
		return types.RecognizedWord{}, errors.New("missing AccuracyScore")
	}
	pa := w.PronunciationAssessment
	rw := types.RecognizedWord{
		Word:          w.Word,
		AccuracyScore: *pa.AccuracyScore,
		ErrorType:     types.ErrorNone,
		Offset:        w.Offset.duration(),
		Duration:      w.Duration.duration(),
	}

	switch et := types.ErrorType(pa.ErrorType); {
	case et == "":
	case et.IsValid():
		rw.ErrorType = et
	case isProsodyError(pa.ErrorType):
		// Older service versions report prosody conditions as the word's error
		// type. Keep the primary type at None and carry the condition as feedback.
		rw.Prosody = &types.ProsodyFeedback{}
		applyProsodyError(rw.Prosody, pa.ErrorType)
	default:
		return types.RecognizedWord{}, fmt.Errorf("unknown ErrorType %q", pa.ErrorType)
	}

	if fb := pa.Feedback; fb != nil && fb.Prosody != nil {
		if rw.Prosody == nil {
			rw.Prosody = &types.ProsodyFeedback{}
		}
		if b := fb.Prosody.Break; b != nil {
			for _, e := range b.ErrorTypes {
				applyProsodyError(rw.Prosody, e)
			}
		}
		if in := fb.Prosody.Intonation; in != nil {
			for _, e := range in.ErrorTypes {
				applyProsodyError(rw.Prosody, e)
			}
		}
	}

	if len(w.Phonemes) > 0 {
		rw.Phonemes = make([]types.Phoneme, 0, len(w.Phonemes))
		for _, ph := range w.Phonemes {
			if ph.PronunciationAssessment == nil || ph.PronunciationAssessment.AccuracyScore == nil {
				return types.RecognizedWord{}, fmt.Errorf("phoneme %q: missing AccuracyScore", ph.Phoneme)
			}
			rw.Phonemes = append(rw.Phonemes, types.Phoneme{
				Phoneme:       ph.Phoneme,
				AccuracyScore: *ph.PronunciationAssessment.AccuracyScore,
			})
		}
	}
	return rw, nil
}

func isProsodyError(s string) bool {
	switch s {
	case types.ErrorUnexpectedBreak, types.ErrorMissingBreak, types.ErrorMonotone:
		return true
	}
	return false
}

func applyProsodyError(p *types.ProsodyFeedback, s string) {
	switch s {
	case types.ErrorUnexpectedBreak:
		p.UnexpectedBreak = true
	case types.ErrorMissingBreak:
		p.MissingBreak = true
	case types.ErrorMonotone:
		p.Monotone = true
	}
}
