package resilience

import (
	"context"

	"github.com/MrWong99/elocute/pkg/provider/assess"
)

// AssessFallback implements [assess.Provider] with automatic failover across
// multiple speech-assessment backends. Each backend has its own circuit
// breaker.
//
// Failover covers session start only. Once audio has been streamed into a
// session, a mid-session cancellation is reported to the caller through the
// event stream like any other.
type AssessFallback struct {
	group *FallbackGroup[assess.Provider]
}

// Compile-time interface assertion.
var _ assess.Provider = (*AssessFallback)(nil)

// NewAssessFallback creates an [AssessFallback] with primary as the preferred
// backend.
func NewAssessFallback(primary assess.Provider, primaryName string, cfg FallbackConfig) *AssessFallback {
	return &AssessFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional assessment provider as a fallback.
func (f *AssessFallback) AddFallback(name string, provider assess.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *AssessFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Healthy reports whether at least one backend would accept a new session.
func (f *AssessFallback) Healthy() bool {
	return f.group.Healthy()
}

// StartSession opens a recognition session against the first healthy
// provider. If the primary fails to start the session, subsequent fallbacks
// are tried.
func (f *AssessFallback) StartSession(ctx context.Context, cfg assess.SessionConfig) (assess.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p assess.Provider) (assess.SessionHandle, error) {
		return p.StartSession(ctx, cfg)
	})
}
