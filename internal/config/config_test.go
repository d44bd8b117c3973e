package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/elocute/internal/assessment"
	"github.com/MrWong99/elocute/internal/config"
	"github.com/MrWong99/elocute/internal/score"
	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/MrWong99/elocute/pkg/provider/llm"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  max_upload_bytes: 1048576

providers:
  assess:
    name: azure
    api_key: az-test
    options:
      region: westeurope
  assess_fallbacks:
    - name: azure
      api_key: az-test-2
      options:
        region: northeurope
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini

assessment:
  timeout: 45s
  reconcile: false
  substitution_aware: true
  miscue: false
  chunk_duration: 200ms
  pacing: true
  prosody_locales: ["en-US", "en-GB"]
  default_language: en-GB
  weights:
    accuracy: 0.5
    prosody: 0.1
    fluency: 0.2
    completeness: 0.2

store:
  sqlite_path: /var/lib/elocute/elocute.db

references:
  file: references.yaml
  seed: true

telemetry:
  service_name: elocute-test
  sample_ratio: 0.25
`

const minimalYAML = `
providers:
  assess:
    name: azure
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.MaxUploadBytes != 1<<20 {
		t.Errorf("server.max_upload_bytes: got %d", cfg.Server.MaxUploadBytes)
	}
	if got := cfg.Providers.Assess.Label(); got != "azure/westeurope" {
		t.Errorf("providers.assess label: got %q", got)
	}
	if len(cfg.Providers.AssessFallbacks) != 1 || cfg.Providers.AssessFallbacks[0].Label() != "azure/northeurope" {
		t.Errorf("providers.assess_fallbacks: got %+v", cfg.Providers.AssessFallbacks)
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("providers.llm.model: got %q", cfg.Providers.LLM.Model)
	}
	if cfg.Store.Backend() != "sqlite" {
		t.Errorf("store backend: got %q, want sqlite", cfg.Store.Backend())
	}
	if cfg.Telemetry.SampleRatio != 0.25 || cfg.Telemetry.ServiceName != "elocute-test" {
		t.Errorf("telemetry: got %+v", cfg.Telemetry)
	}

	s := cfg.Assessment.Settings()
	want := assessment.Settings{
		Weights:           score.Weights{Accuracy: 0.5, Prosody: 0.1, Fluency: 0.2, Completeness: 0.2},
		Timeout:           45 * time.Second,
		Reconcile:         false,
		SubstitutionAware: true,
		Miscue:            false,
		ChunkDuration:     200 * time.Millisecond,
		Pacing:            true,
		ProsodyLocales:    []string{"en-US", "en-GB"},
		DefaultLanguage:   "en-GB",
	}
	if s.Weights != want.Weights || s.Timeout != want.Timeout || s.Reconcile != want.Reconcile ||
		s.SubstitutionAware != want.SubstitutionAware || s.Miscue != want.Miscue ||
		s.ChunkDuration != want.ChunkDuration || s.Pacing != want.Pacing ||
		s.DefaultLanguage != want.DefaultLanguage || len(s.ProsodyLocales) != 2 {
		t.Errorf("Settings() = %+v, want %+v", s, want)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Settings().Validate() = %v", err)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Server.MaxUploadBytes != config.DefaultMaxUploadBytes {
		t.Errorf("max_upload_bytes: got %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Store.Backend() != "" {
		t.Errorf("store backend: got %q, want none", cfg.Store.Backend())
	}

	s := cfg.Assessment.Settings()
	d := assessment.DefaultSettings()
	if s.Weights != d.Weights || s.Timeout != d.Timeout || !s.Reconcile || !s.Miscue || s.ChunkDuration != d.ChunkDuration {
		t.Errorf("Settings() = %+v, want defaults %+v", s, d)
	}
}

func TestAssessmentSettings_ZeroTimeoutDisables(t *testing.T) {
	yaml := minimalYAML + `
assessment:
  timeout: 0s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Assessment.Settings().Timeout; got != 0 {
		t.Errorf("timeout: got %s, want 0", got)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yaml := minimalYAML + `
speakers: []
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := minimalYAML + `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_UnknownAssess(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateAssess(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_UnknownLLM(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredAssess(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubAssess{}
	var gotEntry config.ProviderEntry
	reg.RegisterAssess("stub", func(e config.ProviderEntry) (assess.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateAssess(config.ProviderEntry{Name: "stub", APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.APIKey != "k" {
		t.Errorf("factory received entry %+v", gotEntry)
	}
	if names := reg.Names("assess"); len(names) != 1 || names[0] != "stub" {
		t.Errorf("Names(assess) = %v", names)
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubLLM{}
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

// ── Stub implementations (satisfy interfaces for the compiler) ────────────────

// stubLLM implements llm.Provider.
type stubLLM struct{}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}

// stubAssess implements assess.Provider.
type stubAssess struct{}

func (s *stubAssess) StartSession(_ context.Context, _ assess.SessionConfig) (assess.SessionHandle, error) {
	return nil, nil
}
