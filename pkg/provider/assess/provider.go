// Package assess defines the Provider interface for pronunciation-assessment
// speech backends.
//
// An assessment provider wraps a continuous speech-recognition service that
// scores the speaker against a reference text. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// a stream of [Event] values: one EventRecognized per recognized utterance and
// at most one terminal EventCanceled. The Events channel is closed when the
// service reports that the session has stopped; a closed channel is the only
// "done" signal consumers need.
//
// Implementations must be safe for concurrent use. Audio input and event
// output are goroutine-safe by construction.
package assess

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/elocute/pkg/types"
)

// ErrMalformedEvent is returned (wrapped) when a recognized-utterance payload
// is missing expected score fields. Providers fail fast with this error rather
// than defaulting missing scores to zero.
var ErrMalformedEvent = errors.New("assess: malformed recognition event")

// ErrRecognitionCanceled is matched by every [CancelError] via errors.Is.
var ErrRecognitionCanceled = errors.New("assess: recognition canceled")

// ErrSessionClosed is returned by SendAudio and EndAudio after Close.
var ErrSessionClosed = errors.New("assess: session is closed")

// SessionConfig describes the audio format and assessment parameters for a new
// recognition session.
type SessionConfig struct {
	// Language is the BCP-47 locale for recognition (e.g., "en-US", "zh-CN").
	Language string

	// ReferenceText is the text the speaker is expected to read.
	ReferenceText string

	// EnableMiscue asks the service to flag omissions and insertions. Services
	// rarely honour it across segment boundaries in continuous mode, so the
	// assessor also reconciles locally; both are skipped when it is false.
	EnableMiscue bool

	// EnableProsody asks the service to assess prosody (breaks, intonation).
	EnableProsody bool

	// SampleRate is the audio sample rate in Hz. 16000 is the only rate every
	// backend accepts.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int
}

// EventKind discriminates the [Event] variants.
type EventKind int

const (
	// EventRecognized carries one recognized utterance.
	EventRecognized EventKind = iota

	// EventCanceled reports that the service aborted the session. It is always
	// the last event before the channel closes.
	EventCanceled
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventRecognized:
		return "recognized"
	case EventCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Event is a single message on a session's event stream.
type Event struct {
	Kind EventKind

	// Utterance is set when Kind is EventRecognized.
	Utterance types.Utterance

	// Cancel is set when Kind is EventCanceled.
	Cancel *CancelError
}

// CancelError describes why a recognition session was canceled by the service.
type CancelError struct {
	// Reason is the cancellation reason (e.g., "Error", "EndOfStream").
	Reason string

	// Code is the service-specific error code, if any.
	Code string

	// Details is the human-readable error detail reported by the service.
	Details string

	// Err is the underlying cause when the session was aborted locally, for
	// example [ErrMalformedEvent]. Nil for service-side cancellations.
	Err error
}

// Error implements error.
func (e *CancelError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("recognition canceled: %s (%s): %s", e.Reason, e.Code, e.Details)
	}
	return fmt.Sprintf("recognition canceled: %s: %s", e.Reason, e.Details)
}

// Is makes every CancelError match [ErrRecognitionCanceled].
func (e *CancelError) Is(target error) bool {
	return target == ErrRecognitionCanceled
}

// Unwrap returns the local cause, if any.
func (e *CancelError) Unwrap() error { return e.Err }

// SessionHandle represents an open continuous-recognition session. It is an
// interface so that test code can provide mock implementations without a live
// service connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the implementation.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes. The chunk must match
	// the SampleRate and Channels agreed in SessionConfig (16-bit samples).
	SendAudio(chunk []byte) error

	// EndAudio signals that no more audio will follow. The service finishes
	// recognizing buffered audio and then stops the session, which closes the
	// Events channel.
	EndAudio() error

	// Events returns the read-only event stream. The channel is closed when the
	// session stops, whether normally or after an EventCanceled.
	Events() <-chan Event

	// Close stops continuous recognition and releases all resources. After
	// Close returns, the Events channel is closed. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any pronunciation-assessment backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously.
type Provider interface {
	// StartSession opens a new continuous-recognition session. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unsupported configuration, or ctx already cancelled).
	StartSession(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
