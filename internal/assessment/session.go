package assessment

import (
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/MrWong99/elocute/pkg/types"
)

// ErrSessionDone is returned by [Session.Add] after the session finished.
var ErrSessionDone = errors.New("assessment: session already finished")

// Session accumulates the utterances of one recognition run. The consumer
// goroutine appends to it while the run is live; once [Session.Done] is
// closed the accumulated state is frozen and may be read without further
// coordination.
//
// A Session is owned by a single [Assessor.Assess] call and is never shared
// between runs.
type Session struct {
	mu         sync.Mutex
	utterances []types.Utterance
	cancel     *assess.CancelError

	done     chan struct{}
	doneOnce sync.Once

	language string
	miscue   bool
}

// NewSession returns an empty, running Session.
func NewSession(language string, miscue bool) *Session {
	return &Session{
		done:     make(chan struct{}),
		language: language,
		miscue:   miscue,
	}
}

// Language returns the recognition locale.
func (s *Session) Language() string { return s.language }

// Miscue reports whether miscue detection was requested.
func (s *Session) Miscue() bool { return s.miscue }

// Add appends u in recognition order.
func (s *Session) Add(u types.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return ErrSessionDone
	default:
	}
	s.utterances = append(s.utterances, u)
	return nil
}

// Cancel records the service cancellation. Only the first cancellation is
// kept. Cancel does not finish the session: the event stream still closes
// afterwards.
func (s *Session) Cancel(c *assess.CancelError) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		s.cancel = c
	}
}

// Finish marks the session as done. It is safe to call more than once and
// from several goroutines.
func (s *Session) Finish() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		close(s.done)
	})
}

// Done returns a channel that is closed once the session finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Utterances returns a copy of the accumulated utterances.
func (s *Session) Utterances() []types.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.utterances)
}

// Cancellation returns the recorded cancellation, or nil.
func (s *Session) Cancellation() *assess.CancelError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel
}

// RecognizedWords flattens the words of all utterances in order.
func (s *Session) RecognizedWords() []types.RecognizedWord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, u := range s.utterances {
		n += len(u.Words)
	}
	out := make([]types.RecognizedWord, 0, n)
	for _, u := range s.utterances {
		out = append(out, u.Words...)
	}
	return out
}
