// Package mock provides test doubles for the assess package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// SessionConfig. Use Session to feed controlled events and inspect which audio
// chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession(8)
//	sess.EventsCh <- assess.Event{Kind: assess.EventRecognized, Utterance: u}
//	close(sess.EventsCh)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartSession(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/elocute/pkg/provider/assess"
)

// StartSessionCall records a single invocation of Provider.StartSession.
type StartSessionCall struct {
	// Ctx is the context passed to StartSession.
	Ctx context.Context
	// Cfg is the SessionConfig passed to StartSession.
	Cfg assess.SessionConfig
}

// Provider is a mock implementation of assess.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartSession. If nil,
	// StartSession returns a new Session whose event channel is already closed.
	Session assess.SessionHandle

	// StartSessionErr, if non-nil, is returned as the error from StartSession.
	StartSessionErr error

	// StartSessionCalls records every call to StartSession.
	StartSessionCalls []StartSessionCall
}

// StartSession records the call and returns Session, StartSessionErr.
func (p *Provider) StartSession(ctx context.Context, cfg assess.SessionConfig) (assess.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartSessionCalls = append(p.StartSessionCalls, StartSessionCall{Ctx: ctx, Cfg: cfg})
	if p.StartSessionErr != nil {
		return nil, p.StartSessionErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession(0)
	close(s.EventsCh)
	return s, nil
}

// Calls returns a copy of the recorded StartSession calls. Thread-safe.
func (p *Provider) Calls() []StartSessionCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartSessionCall, len(p.StartSessionCalls))
	copy(out, p.StartSessionCalls)
	return out
}

// Ensure Provider implements assess.Provider at compile time.
var _ assess.Provider = (*Provider)(nil)

// Session is a mock implementation of assess.SessionHandle.
// Callers own EventsCh: they send the events the consumer should receive and
// close it to signal that the session stopped.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events().
	EventsCh chan assess.Event

	// OnEndAudio, if non-nil, is invoked (outside the lock) by EndAudio. Tests
	// use it to emit events and close EventsCh only once all audio was sent.
	OnEndAudio func()

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// EndAudioErr, if non-nil, is returned by EndAudio.
	EndAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// AudioChunks records a copy of every chunk passed to SendAudio in order.
	AudioChunks [][]byte

	// EndAudioCallCount is the number of times EndAudio was called.
	EndAudioCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with an EventsCh of the given buffer size.
func NewSession(buffer int) *Session {
	return &Session{EventsCh: make(chan assess.Event, buffer)}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.AudioChunks = append(s.AudioChunks, cp)
	return s.SendAudioErr
}

// EndAudio records the call, runs OnEndAudio and returns EndAudioErr.
func (s *Session) EndAudio() error {
	s.mu.Lock()
	s.EndAudioCallCount++
	hook := s.OnEndAudio
	err := s.EndAudioErr
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// Events returns EventsCh.
func (s *Session) Events() <-chan assess.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// SentBytes returns the total number of audio bytes received. Thread-safe.
func (s *Session) SentBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.AudioChunks {
		n += len(c)
	}
	return n
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements assess.SessionHandle at compile time.
var _ assess.SessionHandle = (*Session)(nil)
