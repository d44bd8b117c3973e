package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"assess": {"azure"},
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset server and telemetry fields. Assessment defaults
// are applied by [AssessmentConfig.Settings].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.Assess.Name == "" {
		errs = append(errs, errors.New("providers.assess.name is required"))
	}
	validateProviderName("assess", cfg.Providers.Assess.Name)
	for i, fb := range cfg.Providers.AssessFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.assess_fallbacks[%d].name is required", i))
		}
		validateProviderName("assess", fb.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; reference passage generation will not be available")
	}

	// Assessment
	a := cfg.Assessment
	if a.Timeout != nil && *a.Timeout < 0 {
		errs = append(errs, fmt.Errorf("assessment.timeout %s must not be negative", *a.Timeout))
	}
	if a.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("assessment.chunk_duration %s must not be negative", a.ChunkDuration))
	}
	if a.Weights != nil {
		if err := a.Weights.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("assessment.weights: %w", err))
		}
	}

	// Store
	if cfg.Store.PostgresDSN != "" && (cfg.Store.SQLitePath != "" || cfg.Store.ResultsFile != "") {
		slog.Warn("several stores configured; using postgres", "backend", cfg.Store.Backend())
	} else if cfg.Store.SQLitePath != "" && cfg.Store.ResultsFile != "" {
		slog.Warn("several stores configured; using sqlite", "backend", cfg.Store.Backend())
	}
	if cfg.References.Seed && cfg.References.File == "" {
		errs = append(errs, errors.New("references.seed requires references.file"))
	}
	if cfg.References.Seed && cfg.Store.Backend() != "postgres" && cfg.Store.Backend() != "sqlite" {
		errs = append(errs, errors.New("references.seed requires a postgres or sqlite store"))
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
