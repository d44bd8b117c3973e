package azure

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/MrWong99/elocute/pkg/types"
)

const successPhrase = `{
  "RecognitionStatus": "Success",
  "Offset": 5000000,
  "Duration": 20000000,
  "DisplayText": "The fox jumps.",
  "NBest": [{
    "Display": "The fox jumps.",
    "PronunciationAssessment": {
      "AccuracyScore": 88, "FluencyScore": 80, "CompletenessScore": 100,
      "PronScore": 86.5, "ProsodyScore": 72.5
    },
    "Words": [
      {"Word": "the", "Offset": 5000000, "Duration": 2000000,
       "PronunciationAssessment": {"AccuracyScore": 95, "ErrorType": "None"},
       "Phonemes": [
         {"Phoneme": "dh", "PronunciationAssessment": {"AccuracyScore": 90}},
         {"Phoneme": "ah", "PronunciationAssessment": {"AccuracyScore": 100}}
       ]},
      {"Word": "fox", "Offset": 7000000, "Duration": 3000000,
       "PronunciationAssessment": {"AccuracyScore": 60, "ErrorType": "Mispronunciation",
         "Feedback": {"Prosody": {
           "Break": {"ErrorTypes": ["UnexpectedBreak"]},
           "Intonation": {"ErrorTypes": ["Monotone"]}
         }}}},
      {"Word": "jumps", "Offset": 10000000, "Duration": 5000000,
       "PronunciationAssessment": {"AccuracyScore": 100, "ErrorType": "None",
         "Feedback": {"Prosody": {"Break": {"ErrorTypes": ["None"]}}}}}
    ]
  }]
}`

func TestDecodeDetailedResult_Success(t *testing.T) {
	t.Parallel()
	ph, err := DecodeDetailedResult([]byte(successPhrase))
	if err != nil {
		t.Fatalf("DecodeDetailedResult: %v", err)
	}
	if ph.Status != StatusSuccess {
		t.Fatalf("status = %q", ph.Status)
	}

	u := ph.Utterance
	assertEqual(t, "text", "The fox jumps.", u.Text)
	if u.FluencyScore != 80 {
		t.Errorf("fluency = %v, want 80", u.FluencyScore)
	}
	if u.ProsodyScore == nil || *u.ProsodyScore != 72.5 {
		t.Errorf("prosody = %v, want 72.5", u.ProsodyScore)
	}
	if u.Duration != time.Second {
		t.Errorf("duration = %v, want 1s (sum of word durations)", u.Duration)
	}
	if len(u.Words) != 3 {
		t.Fatalf("words = %d, want 3", len(u.Words))
	}

	the := u.Words[0]
	if the.ErrorType != types.ErrorNone || the.AccuracyScore != 95 {
		t.Errorf("word 0 = %+v", the)
	}
	if the.Offset != 500*time.Millisecond || the.Duration != 200*time.Millisecond {
		t.Errorf("word 0 timing = %v/%v", the.Offset, the.Duration)
	}
	if len(the.Phonemes) != 2 || the.Phonemes[0].Phoneme != "dh" || the.Phonemes[1].AccuracyScore != 100 {
		t.Errorf("word 0 phonemes = %+v", the.Phonemes)
	}
	if the.Prosody != nil {
		t.Errorf("word 0 prosody = %+v, want nil", the.Prosody)
	}

	fox := u.Words[1]
	if fox.ErrorType != types.ErrorMispronunciation {
		t.Errorf("word 1 error type = %q", fox.ErrorType)
	}
	if fox.Prosody == nil || !fox.Prosody.UnexpectedBreak || !fox.Prosody.Monotone || fox.Prosody.MissingBreak {
		t.Errorf("word 1 prosody = %+v", fox.Prosody)
	}

	jumps := u.Words[2]
	if jumps.Prosody == nil || jumps.Prosody.Any() {
		t.Errorf("word 2 prosody = %+v, want present and clear", jumps.Prosody)
	}
}

func TestDecodeDetailedResult_LegacyProsodyErrorType(t *testing.T) {
	t.Parallel()
	body := `{"RecognitionStatus":"Success","NBest":[{"PronunciationAssessment":{"FluencyScore":50},
	  "Words":[{"Word":"hi","PronunciationAssessment":{"AccuracyScore":70,"ErrorType":"MissingBreak"}}]}]}`
	ph, err := DecodeDetailedResult([]byte(body))
	if err != nil {
		t.Fatalf("DecodeDetailedResult: %v", err)
	}
	w := ph.Utterance.Words[0]
	if w.ErrorType != types.ErrorNone || w.Prosody == nil || !w.Prosody.MissingBreak {
		t.Errorf("word = %+v", w)
	}
	if ph.Utterance.ProsodyScore != nil {
		t.Errorf("prosody score = %v, want nil", *ph.Utterance.ProsodyScore)
	}
}

func TestDecodeDetailedResult_NonSuccess(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status   RecognitionStatus
		skipable bool
	}{
		{StatusNoMatch, true},
		{StatusInitialSilenceTimeout, true},
		{StatusBabbleTimeout, true},
		{StatusEndOfDictation, true},
		{StatusError, false},
		{"TooManyRequests", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			ph, err := DecodeDetailedResult([]byte(`{"RecognitionStatus":"` + string(tt.status) + `","Offset":0}`))
			if err != nil {
				t.Fatalf("DecodeDetailedResult: %v", err)
			}
			if ph.Status != tt.status {
				t.Errorf("status = %q", ph.Status)
			}
			if got := ph.Status.Skippable(); got != tt.skipable {
				t.Errorf("Skippable() = %v, want %v", got, tt.skipable)
			}
			if len(ph.Utterance.Words) != 0 {
				t.Errorf("unexpected words: %v", ph.Utterance.Words)
			}
		})
	}
}

func TestDecodeDetailedResult_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: `{`, want: ""},
		{name: "no status", body: `{"DisplayText":"x"}`, want: "RecognitionStatus"},
		{name: "no nbest", body: `{"RecognitionStatus":"Success"}`, want: "NBest"},
		{
			name: "missing fluency",
			body: `{"RecognitionStatus":"Success","NBest":[{"PronunciationAssessment":{"AccuracyScore":1},"Words":[]}]}`,
			want: "FluencyScore",
		},
		{
			name: "missing word accuracy",
			body: `{"RecognitionStatus":"Success","NBest":[{"PronunciationAssessment":{"FluencyScore":1},
			  "Words":[{"Word":"a","PronunciationAssessment":{"ErrorType":"None"}}]}]}`,
			want: "AccuracyScore",
		},
		{
			name: "missing phoneme accuracy",
			body: `{"RecognitionStatus":"Success","NBest":[{"PronunciationAssessment":{"FluencyScore":1},
			  "Words":[{"Word":"a","PronunciationAssessment":{"AccuracyScore":1},"Phonemes":[{"Phoneme":"ah"}]}]}]}`,
			want: "phoneme",
		},
		{
			name: "unknown error type",
			body: `{"RecognitionStatus":"Success","NBest":[{"PronunciationAssessment":{"FluencyScore":1},
			  "Words":[{"Word":"a","PronunciationAssessment":{"AccuracyScore":1,"ErrorType":"Weird"}}]}]}`,
			want: "Weird",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeDetailedResult([]byte(tt.body))
			if !errors.Is(err, assess.ErrMalformedEvent) {
				t.Fatalf("err = %v, want ErrMalformedEvent", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want mention of %q", err, tt.want)
			}
		})
	}
}
