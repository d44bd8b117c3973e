// Package app wires the Elocute subsystems into a running service.
//
// New connects the result store, loads reference passages, wraps the
// configured providers in failover groups and builds the assessor and HTTP
// server. Run serves until the context is cancelled and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithResultStore,
// WithReferenceStore, ...). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/elocute/internal/assessment"
	"github.com/MrWong99/elocute/internal/config"
	"github.com/MrWong99/elocute/internal/health"
	"github.com/MrWong99/elocute/internal/observe"
	"github.com/MrWong99/elocute/internal/reference"
	"github.com/MrWong99/elocute/internal/resilience"
	"github.com/MrWong99/elocute/internal/server"
	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/MrWong99/elocute/pkg/provider/llm"
	"github.com/MrWong99/elocute/pkg/store"
	"github.com/MrWong99/elocute/pkg/store/file"
	"github.com/MrWong99/elocute/pkg/store/postgres"
	"github.com/MrWong99/elocute/pkg/store/sqlite"
)

// Named pairs a provider with the label used in logs, metrics and breaker
// status.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds the instantiated providers in preference order: the first
// entry of each slice is the primary, the rest are fallbacks. Populated by
// main.go via the config registry.
type Providers struct {
	Assess []Named[assess.Provider]
	LLM    []Named[llm.Provider]
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics        *observe.Metrics
	results        store.ResultStore
	refStore       store.ReferenceStore
	references     reference.Provider
	assess         *resilience.AssessFallback
	llm            *resilience.LLMFallback
	assessor       *assessment.Assessor
	generator      *reference.Generator
	checkers       []health.Checker
	metricsHandler http.Handler
	httpServer     *http.Server
	level          *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithResultStore injects a result store instead of opening one from config.
func WithResultStore(s store.ResultStore) Option {
	return func(a *App) { a.results = s }
}

// WithReferenceStore injects a reference store instead of opening one from
// config.
func WithReferenceStore(s store.ReferenceStore) Option {
	return func(a *App) { a.refStore = s }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics, usually promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets [App.ApplyConfig] adjust the verbosity of the handler
// that reads v.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Reference passages ────────────────────────────────────────────
	if err := a.initReferences(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init references: %w", err)
	}

	// ── 3. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 4. Assessor + generator ──────────────────────────────────────────
	if err := a.initAssessor(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init assessor: %w", err)
	}

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend unless one was injected. Precedence
// is postgres, sqlite, then the JSON-lines results file.
func (a *App) initStore(ctx context.Context) error {
	if a.results != nil {
		if p, ok := a.results.(store.Pinger); ok {
			a.checkers = append(a.checkers, health.Store("store", p))
		}
		return nil
	}

	sc := a.cfg.Store
	switch sc.Backend() {
	case "postgres":
		st, err := postgres.NewStore(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.results = st
		a.setRefStore(st)
		a.checkers = append(a.checkers, health.Store("store", st))
		a.closers = append(a.closers, func() error { st.Close(); return nil })
	case "sqlite":
		st, err := sqlite.Open(ctx, sc.SQLitePath)
		if err != nil {
			return err
		}
		a.results = st
		a.setRefStore(st)
		a.checkers = append(a.checkers, health.Store("store", st))
		a.closers = append(a.closers, st.Close)
	case "file":
		st, err := file.NewStore(sc.ResultsFile)
		if err != nil {
			return err
		}
		a.results = st
	default:
		slog.Warn("no store configured; results are not persisted")
		return nil
	}
	slog.Info("store ready", "backend", sc.Backend())
	return nil
}

func (a *App) setRefStore(st store.ReferenceStore) {
	if a.refStore == nil {
		a.refStore = st
	}
}

// initReferences builds the lookup chain: passages from the references file
// first, then the database.
func (a *App) initReferences(ctx context.Context) error {
	var chain reference.Chain
	if path := a.cfg.References.File; path != "" {
		static, err := reference.LoadFile(path)
		if err != nil {
			return err
		}
		chain = append(chain, static)
		if a.cfg.References.Seed && a.refStore != nil {
			if err := static.Seed(ctx, a.refStore); err != nil {
				return err
			}
			slog.Info("reference passages seeded", "count", len(static.All()))
		}
	}
	if a.refStore != nil {
		chain = append(chain, reference.FromStore(a.refStore))
	}
	if len(chain) > 0 {
		a.references = chain
	}
	return nil
}

// initProviders wraps the configured providers in failover groups.
func (a *App) initProviders() error {
	if a.providers == nil || len(a.providers.Assess) == 0 {
		return errors.New("no assessment provider configured")
	}

	primary := a.providers.Assess[0]
	a.assess = resilience.NewAssessFallback(primary.Provider, primary.Name, a.fallbackConfig("assess"))
	for _, fb := range a.providers.Assess[1:] {
		a.assess.AddFallback(fb.Name, fb.Provider)
	}
	a.checkers = append(a.checkers, health.Providers("assess", a.assess.Healthy))

	if len(a.providers.LLM) > 0 {
		primary := a.providers.LLM[0]
		a.llm = resilience.NewLLMFallback(primary.Provider, primary.Name, a.fallbackConfig("llm"))
		for _, fb := range a.providers.LLM[1:] {
			a.llm.AddFallback(fb.Name, fb.Provider)
		}
		a.checkers = append(a.checkers, health.Providers("llm", a.llm.Healthy))
	}
	return nil
}

func (a *App) fallbackConfig(kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		OnFailure: func(name string, err error) {
			a.metrics.RecordProviderError(context.Background(), name, kind)
			slog.Warn("provider failure", "kind", kind, "provider", name, "err", err)
		},
	}
}

func (a *App) initAssessor() error {
	opts := []assessment.Option{
		assessment.WithSettings(a.cfg.Assessment.Settings()),
		assessment.WithMetrics(a.metrics),
		assessment.WithProviderName(a.providers.Assess[0].Name),
	}
	if a.results != nil {
		opts = append(opts, assessment.WithStore(a.results))
	}
	if a.references != nil {
		opts = append(opts, assessment.WithReferences(a.references))
	}
	assessor, err := assessment.New(a.assess, opts...)
	if err != nil {
		return err
	}
	a.assessor = assessor

	if a.llm != nil {
		genOpts := []reference.GeneratorOption{reference.WithMetrics(a.metrics)}
		if a.refStore != nil {
			genOpts = append(genOpts, reference.WithStore(a.refStore))
		}
		a.generator = reference.NewGenerator(a.llm, genOpts...)
	}
	return nil
}

func (a *App) initServer() {
	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
		server.WithHealth(health.New(a.checkers...)),
	}
	if a.results != nil {
		opts = append(opts, server.WithResults(a.results))
	}
	if a.generator != nil {
		opts = append(opts, server.WithGenerator(a.generator))
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsHandler))
	}
	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           server.New(a.assessor, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Assessor returns the assessor, for one-shot use without the HTTP server.
func (a *App) Assessor() *assessment.Assessor { return a.assessor }

// Handler returns the instrumented HTTP handler.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a changed config: the log
// level and the assessment settings. It is a [config.ApplyFunc]. Sections
// that need a restart are only logged.
func (a *App) ApplyConfig(d config.ConfigDiff, new *config.Config) {
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AssessmentChanged {
		if err := a.assessor.SetSettings(new.Assessment.Settings()); err != nil {
			slog.Error("assessment settings rejected", "err", err)
		} else {
			slog.Info("assessment settings reloaded", "fields", d.AssessmentFields)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// Cancellation returns ctx.Err(); call Shutdown afterwards to drain requests.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", a.httpServer.Addr, "tls", a.cfg.Server.TLS != nil)
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains in-flight requests and closes the store. It respects the
// context deadline: if ctx expires first, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before it failed.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
