// Package assessment runs a pronunciation assessment end to end.
//
// An [Assessor] opens a recognition session with an [assess.Provider], streams
// the learner's audio into it and collects the recognized utterances until the
// session's event stream closes. The collected words are then reconciled with
// the tokenized reference text, scored and turned into an immutable
// [types.AssessmentResult], which is handed to the configured result store.
//
// Audio streaming and event collection run concurrently in an errgroup; the
// event stream closing is the only completion signal.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/elocute/internal/observe"
	"github.com/MrWong99/elocute/internal/reconcile"
	"github.com/MrWong99/elocute/internal/reference"
	"github.com/MrWong99/elocute/internal/report"
	"github.com/MrWong99/elocute/internal/score"
	"github.com/MrWong99/elocute/internal/tokenize"
	"github.com/MrWong99/elocute/pkg/audio"
	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/MrWong99/elocute/pkg/store"
	"github.com/MrWong99/elocute/pkg/types"
)

var (
	// ErrTimeout is returned when the recognition run exceeds the configured
	// timeout.
	ErrTimeout = errors.New("assessment: timed out waiting for recognition")

	// ErrNoSpeech is returned when the session ended normally without a
	// single recognized utterance. It matches [score.ErrInsufficientData].
	ErrNoSpeech = fmt.Errorf("assessment: no speech detected: %w", score.ErrInsufficientData)

	// ErrInvalidRequest is returned (wrapped) for requests that cannot be
	// assessed at all.
	ErrInvalidRequest = errors.New("assessment: invalid request")
)

// Outcome classifies the error returned by [Assessor.Assess] as one of the
// observe.Status* labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return observe.StatusOK
	case errors.Is(err, ErrTimeout):
		return observe.StatusTimeout
	case errors.Is(err, ErrInvalidRequest):
		return observe.StatusInvalid
	case errors.Is(err, assess.ErrMalformedEvent):
		return observe.StatusMalformed
	case errors.Is(err, assess.ErrRecognitionCanceled):
		return observe.StatusCanceled
	case errors.Is(err, ErrNoSpeech):
		return observe.StatusNoSpeech
	case errors.Is(err, score.ErrInsufficientData):
		return observe.StatusInsufficient
	default:
		return observe.StatusError
	}
}

// Request describes one assessment.
type Request struct {
	// UserID identifies the learner. Optional; stored with the result.
	UserID string

	// Language is the BCP-47 recognition locale. Empty selects the reference
	// passage's language or the configured default.
	Language string

	// ReferenceText is the text the learner read. When empty, ReferenceID is
	// resolved through the configured [reference.Provider].
	ReferenceText string

	// ReferenceID names a stored reference passage.
	ReferenceID string

	// Audio is the recording. Its format is passed to the speech service
	// unchanged.
	Audio audio.Source

	// EnableMiscue overrides the configured miscue setting when non-nil.
	EnableMiscue *bool
}

// Option is a functional option for [New].
type Option func(*Assessor)

// WithSettings replaces the default settings. Invalid settings make [New]
// fail.
func WithSettings(s Settings) Option {
	return func(a *Assessor) { a.initial = s }
}

// WithStore sets the sink every finished result is saved to.
func WithStore(st store.ResultStore) Option {
	return func(a *Assessor) { a.store = st }
}

// WithReferences sets the provider used to resolve [Request.ReferenceID].
func WithReferences(p reference.Provider) Option {
	return func(a *Assessor) { a.references = p }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assessor) { a.metrics = m }
}

// WithTokenizer overrides the reference tokenizer.
func WithTokenizer(t *tokenize.Tokenizer) Option {
	return func(a *Assessor) { a.tokenizer = t }
}

// WithProviderName sets the name used in provider metrics.
func WithProviderName(name string) Option {
	return func(a *Assessor) { a.providerName = name }
}

// Assessor runs assessments against a speech provider. It is safe for
// concurrent use; every call to Assess owns its own [Session].
type Assessor struct {
	provider     assess.Provider
	providerName string
	store        store.ResultStore
	references   reference.Provider
	tokenizer    *tokenize.Tokenizer
	metrics      *observe.Metrics

	initial  Settings
	settings atomic.Pointer[Settings]

	newID func() string
	now   func() time.Time
}

// New returns an Assessor that recognizes speech with p.
func New(p assess.Provider, opts ...Option) (*Assessor, error) {
	if p == nil {
		return nil, errors.New("assessment: provider must not be nil")
	}
	a := &Assessor{
		provider:     p,
		providerName: "assess",
		initial:      DefaultSettings(),
		newID:        uuid.NewString,
		now:          time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.tokenizer == nil {
		a.tokenizer = tokenize.New()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if err := a.SetSettings(a.initial); err != nil {
		return nil, err
	}
	return a, nil
}

// Settings returns the current settings.
func (a *Assessor) Settings() Settings {
	return *a.settings.Load()
}

// SetSettings validates s and makes it the settings for subsequent runs.
// Runs already in progress keep the settings they started with.
func (a *Assessor) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("assessment: settings: %w", err)
	}
	a.settings.Store(&s)
	return nil
}

// Assess runs one assessment and returns its result. The result has already
// been handed to the result store when Assess returns.
func (a *Assessor) Assess(ctx context.Context, req Request) (*types.AssessmentResult, error) {
	start := time.Now()
	set := a.Settings()

	ctx, span := observe.StartSpan(ctx, "assessment.Assess",
		trace.WithAttributes(
			observe.AttrUserID.String(req.UserID),
			observe.AttrReferenceID.String(req.ReferenceID),
		),
	)
	defer span.End()
	if req.UserID != "" {
		ctx = observe.WithLogAttrs(ctx, "user_id", req.UserID)
	}

	res, language, err := a.assess(ctx, set, req)

	outcome := Outcome(err)
	a.metrics.RecordAssessment(ctx, language, outcome, time.Since(start), audio.SourceDuration(req.Audio))
	span.SetAttributes(observe.AttrLanguage.String(language))
	observe.FinishSpan(span, outcome, err)
	log := observe.Logger(ctx)
	if err != nil {
		log.Warn("assessment failed",
			"language", language,
			"outcome", outcome,
			"duration", time.Since(start),
			"err", err,
		)
		return nil, err
	}

	log.Info("assessment complete",
		"id", res.ID,
		"language", language,
		"pronunciation", res.Scores.Pronunciation,
		"utterances", res.UtteranceCount,
		"duration", time.Since(start),
	)
	return res, nil
}

// assess returns the resolved language alongside the result so that failures
// are attributed to the right locale.
func (a *Assessor) assess(ctx context.Context, set Settings, req Request) (*types.AssessmentResult, string, error) {
	language := req.Language
	if req.Audio == nil {
		return nil, language, fmt.Errorf("%w: no audio", ErrInvalidRequest)
	}
	if !req.Audio.Format().Valid() {
		return nil, language, fmt.Errorf("%w: unsupported audio format %s", ErrInvalidRequest, req.Audio.Format())
	}

	text := req.ReferenceText
	if text == "" && req.ReferenceID != "" {
		ref, err := a.resolveReference(ctx, req.ReferenceID)
		if err != nil {
			return nil, language, err
		}
		text = ref.Text
		if language == "" {
			language = ref.Language
		}
	}
	if language == "" {
		language = set.DefaultLanguage
	}
	if strings.TrimSpace(text) == "" {
		return nil, language, fmt.Errorf("%w: reference text is empty", ErrInvalidRequest)
	}

	miscue := set.Miscue
	if req.EnableMiscue != nil {
		miscue = *req.EnableMiscue
	}
	prosody := set.ProsodyFor(language)

	ctx = observe.WithLogAttrs(ctx, "language", language)
	sess := NewSession(language, miscue)
	cfg := assess.SessionConfig{
		Language:      language,
		ReferenceText: text,
		EnableMiscue:  miscue,
		EnableProsody: prosody,
		SampleRate:    req.Audio.Format().SampleRate,
		Channels:      req.Audio.Format().Channels,
	}
	if err := a.recognize(ctx, set, cfg, req.Audio, sess); err != nil {
		return nil, language, err
	}

	utts := sess.Utterances()
	if c := sess.Cancellation(); c != nil {
		a.metrics.RecordCancellation(ctx, cancelCode(c))
		observe.Logger(ctx).Warn("recognition canceled",
			"reason", c.Reason,
			"code", c.Code,
			"details", c.Details,
			"utterances", len(utts),
		)
		if errors.Is(c, assess.ErrMalformedEvent) {
			return nil, language, fmt.Errorf("assessment: %w", c)
		}
		if len(utts) == 0 {
			return nil, language, fmt.Errorf("assessment: %w", errors.Join(score.ErrInsufficientData, c))
		}
	}
	if len(utts) == 0 {
		return nil, language, ErrNoSpeech
	}
	a.metrics.RecordUtterances(ctx, language, len(utts))

	res, err := a.score(ctx, set, sess, text, prosody)
	if err != nil {
		return nil, language, err
	}
	res.UserID = req.UserID

	if a.store != nil {
		if err := a.store.SaveResult(ctx, res); err != nil {
			observe.Logger(ctx).Error("failed to save assessment result", "id", res.ID, "err", err)
		}
	}
	a.metrics.RecordScores(ctx, res.Scores)
	a.metrics.RecordErrorCounts(ctx, res.ErrorCounts)
	return res, language, nil
}

func (a *Assessor) resolveReference(ctx context.Context, id string) (store.Reference, error) {
	if a.references == nil {
		return store.Reference{}, fmt.Errorf("%w: reference %q requested but no reference provider configured", ErrInvalidRequest, id)
	}
	ref, err := a.references.Reference(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Reference{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err != nil {
		return store.Reference{}, fmt.Errorf("assessment: resolve reference %q: %w", id, err)
	}
	return ref, nil
}

// recognize runs the recognition session to completion. It returns nil when
// the event stream closed, whatever the session outcome; cancellations are
// recorded on sess.
func (a *Assessor) recognize(ctx context.Context, set Settings, cfg assess.SessionConfig, src audio.Source, sess *Session) error {
	runCtx := ctx
	if set.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, set.Timeout)
		defer cancel()
	}

	handle, err := a.provider.StartSession(runCtx, cfg)
	if err != nil {
		a.metrics.RecordProviderError(ctx, a.providerName, "assess")
		if timedOut(ctx, runCtx) {
			return fmt.Errorf("%w after %s", ErrTimeout, set.Timeout)
		}
		return fmt.Errorf("assessment: start session: %w", err)
	}
	a.metrics.RecordProviderRequest(ctx, a.providerName, "assess", "started")
	a.metrics.ActiveSessions.Add(ctx, 1)
	closeHandle := sync.OnceFunc(func() {
		if err := handle.Close(); err != nil {
			observe.Logger(ctx).Debug("close recognition session", "err", err)
		}
	})
	defer func() {
		a.metrics.ActiveSessions.Add(ctx, -1)
		closeHandle()
	}()

	var sendErr error
	g, gctx := errgroup.WithContext(runCtx)
	// A producer blocked in SendAudio is released by closing the handle once
	// the run is over.
	go func() {
		select {
		case <-gctx.Done():
		case <-sess.Done():
		}
		closeHandle()
	}()
	g.Go(func() error {
		sendErr = a.stream(gctx, set, handle, src, sess)
		return nil
	})
	g.Go(func() error {
		return collect(gctx, handle, sess)
	})
	err = g.Wait()
	sess.Finish()

	switch {
	case err == nil:
	case timedOut(ctx, runCtx):
		return fmt.Errorf("%w after %s", ErrTimeout, set.Timeout)
	default:
		return fmt.Errorf("assessment: %w", err)
	}

	if sendErr != nil && sess.Cancellation() == nil && len(sess.Utterances()) == 0 {
		return fmt.Errorf("assessment: stream audio: %w", sendErr)
	}
	return nil
}

// stream sends src to the session in chunks and then marks the end of the
// audio. It stops early once the session finished.
func (a *Assessor) stream(ctx context.Context, set Settings, h assess.SessionHandle, src audio.Source, sess *Session) error {
	size := src.Format().Bytes(set.ChunkDuration)

	var tick <-chan time.Time
	if set.Pacing {
		t := time.NewTicker(set.ChunkDuration)
		defer t.Stop()
		tick = t.C
	}

	var sent int
	for {
		chunk, err := audio.ReadChunk(src, size)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
		if err := h.SendAudio(chunk); err != nil {
			if errors.Is(err, assess.ErrSessionClosed) && isDone(sess.Done()) {
				return nil
			}
			observe.Logger(ctx).Warn("send audio failed; waiting for the session to stop", "sent_bytes", sent, "err", err)
			return err
		}
		sent += len(chunk)

		if tick != nil {
			select {
			case <-tick:
			case <-sess.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			select {
			case <-sess.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
	if err := h.EndAudio(); err != nil {
		return fmt.Errorf("end audio: %w", err)
	}
	observe.Logger(ctx).Debug("audio stream complete", "sent_bytes", sent)
	return nil
}

// collect drains the event stream into sess until the stream closes.
func collect(ctx context.Context, h assess.SessionHandle, sess *Session) error {
	events := h.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				sess.Finish()
				return nil
			}
			switch ev.Kind {
			case assess.EventRecognized:
				if err := sess.Add(ev.Utterance); err != nil {
					return err
				}
				observe.Logger(ctx).Debug("utterance recognized",
					"text", ev.Utterance.Text,
					"words", len(ev.Utterance.Words),
				)
			case assess.EventCanceled:
				sess.Cancel(ev.Cancel)
			}
		}
	}
}

// score reconciles, aggregates and builds the report for a finished session.
func (a *Assessor) score(ctx context.Context, set Settings, sess *Session, text string, prosody bool) (*types.AssessmentResult, error) {
	recognized := sess.RecognizedWords()
	vocabulary := make([]string, len(recognized))
	for i, w := range recognized {
		vocabulary[i] = w.Word
	}

	tokens, err := a.tokenizer.Tokenize(text, sess.Language(), vocabulary)
	if err != nil {
		return nil, fmt.Errorf("assessment: %w", err)
	}

	words := recognized
	if set.Reconcile && sess.Miscue() {
		var stats reconcile.Stats
		rec := reconcile.New(reconcile.WithSubstitutionAware(set.SubstitutionAware))
		words, stats = rec.ReconcileStats(tokens, recognized)
		observe.Logger(ctx).Debug("words reconciled",
			"reference", len(tokens),
			"recognized", len(recognized),
			"kept", stats.Kept,
			"inserted", stats.Inserted,
			"omitted", stats.Omitted,
			"substituted", stats.Substituted,
		)
	}

	utts := sess.Utterances()
	agg, err := score.New(score.WithWeights(set.Weights)).Aggregate(ctx, score.Input{
		Utterances:      utts,
		Words:           words,
		ReferenceCount:  len(tokens),
		ProsodyAssessed: prosody,
	})
	if err != nil {
		return nil, fmt.Errorf("assessment: %w", err)
	}

	return report.Build(report.Meta{
		ID:             a.newID(),
		Language:       sess.Language(),
		ReferenceText:  text,
		UtteranceCount: len(utts),
		CreatedAt:      a.now(),
	}, words, agg), nil
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func timedOut(parent, run context.Context) bool {
	return parent.Err() == nil && errors.Is(run.Err(), context.DeadlineExceeded)
}

func cancelCode(c *assess.CancelError) string {
	if c.Code != "" {
		return c.Code
	}
	if c.Reason != "" {
		return c.Reason
	}
	return "unknown"
}
