package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/elocute/internal/observe"
	"github.com/MrWong99/elocute/pkg/provider/llm"
	"github.com/MrWong99/elocute/pkg/store"
	"github.com/MrWong99/elocute/pkg/types"
)

var (
	// ErrInvalidPassage is returned (wrapped) when the LLM reply is not a
	// usable passage.
	ErrInvalidPassage = errors.New("reference: invalid generated passage")

	// ErrInvalidRequest is returned (wrapped) when a [GenerateRequest] fails
	// validation.
	ErrInvalidRequest = errors.New("reference: invalid request")
)

// Default generation parameters.
const (
	defaultWords       = 40
	maxWords           = 200
	defaultTemperature = 0.8
)

const systemPrompt = `You write short reading passages for language learners who practise pronunciation by reading them aloud.
Write natural, self-contained prose in the requested language. Use vocabulary and grammar suitable for the requested CEFR level.
Avoid lists, headings, quotation marks, numerals and abbreviations: every word must be pronounceable as written.
Reply with a single JSON object of the form {"title": "...", "text": "..."} and nothing else.`

// GenerateRequest describes the passage to write.
type GenerateRequest struct {
	// Language is the BCP-47 locale of the passage. Required.
	Language string

	// Level is the CEFR level (A1 … C2). Required.
	Level string

	// Topic is an optional subject hint.
	Topic string

	// Words is the approximate passage length. Zero selects a default.
	Words int
}

// Validate normalises r in place and reports missing or invalid fields.
func (r *GenerateRequest) Validate() error {
	var errs []error
	if r.Language == "" {
		errs = append(errs, errors.New("language is required"))
	}
	r.Level = strings.ToUpper(r.Level)
	if !ValidLevel(r.Level) {
		errs = append(errs, fmt.Errorf("level %q is not a CEFR level", r.Level))
	}
	if r.Words == 0 {
		r.Words = defaultWords
	}
	if r.Words < 0 || r.Words > maxWords {
		errs = append(errs, fmt.Errorf("words must be between 1 and %d", maxWords))
	}
	return errors.Join(errs...)
}

// passage is the JSON object the model is asked to reply with.
type passage struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// GeneratorOption is a functional option for [NewGenerator].
type GeneratorOption func(*Generator)

// WithStore persists every generated passage in st.
func WithStore(st store.ReferenceStore) GeneratorOption {
	return func(g *Generator) { g.store = st }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) GeneratorOption {
	return func(g *Generator) { g.temperature = t }
}

// Generator asks an LLM to write reading passages. It is safe for concurrent
// use.
type Generator struct {
	llm         llm.Provider
	store       store.ReferenceStore
	temperature float64
	metrics     *observe.Metrics
	newID       func() string
	now         func() time.Time
}

// NewGenerator returns a Generator backed by p.
func NewGenerator(p llm.Provider, opts ...GeneratorOption) *Generator {
	g := &Generator{
		llm:         p,
		temperature: defaultTemperature,
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Generate writes a new passage. When a store is configured the passage is
// saved before it is returned, so its ID can be used for an assessment right
// away.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (store.Reference, error) {
	if err := req.Validate(); err != nil {
		return store.Reference{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	ctx, span := observe.StartSpan(ctx, "reference.Generate",
		trace.WithAttributes(observe.AttrLanguage.String(req.Language)),
	)
	defer span.End()

	ref, err := g.generate(ctx, req)
	if err != nil {
		observe.FinishSpan(span, observe.StatusError, err)
		return store.Reference{}, err
	}
	span.SetAttributes(observe.AttrReferenceID.String(ref.ID))
	observe.FinishSpan(span, observe.StatusOK, nil)
	return ref, nil
}

func (g *Generator) generate(ctx context.Context, req GenerateRequest) (store.Reference, error) {
	start := time.Now()
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []types.Message{{Role: "user", Content: prompt(req)}},
		Temperature:  g.temperature,
		MaxTokens:    req.Words * 4,
		JSON:         true,
	})
	g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		g.metrics.RecordProviderError(ctx, "llm", "llm")
		return store.Reference{}, fmt.Errorf("reference: generate: %w", err)
	}
	g.metrics.RecordProviderRequest(ctx, "llm", "llm", "ok")

	text, err := parsePassage(resp.Content)
	if err != nil {
		return store.Reference{}, err
	}

	ref := store.Reference{
		ID:        g.newID(),
		Language:  req.Language,
		Text:      text,
		Level:     req.Level,
		Topic:     req.Topic,
		CreatedAt: g.now().UTC(),
	}
	if g.store != nil {
		if err := g.store.PutReference(ctx, ref); err != nil {
			return store.Reference{}, fmt.Errorf("reference: store generated passage: %w", err)
		}
	}

	observe.Logger(ctx).Info("reference passage generated",
		"id", ref.ID,
		"language", ref.Language,
		"level", ref.Level,
		"tokens", resp.Usage.TotalTokens,
	)
	return ref, nil
}

func prompt(req GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s\nCEFR level: %s\nLength: about %d words\n", req.Language, req.Level, req.Words)
	if req.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	}
	return b.String()
}

// parsePassage extracts the passage text from the model reply. Replies wrapped
// in a Markdown code fence are accepted.
func parsePassage(content string) (string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var p passage
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPassage, err)
	}
	text := strings.Join(strings.Fields(p.Text), " ")
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrInvalidPassage)
	}
	return text, nil
}
