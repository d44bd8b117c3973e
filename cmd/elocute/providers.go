package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/elocute/internal/app"
	"github.com/MrWong99/elocute/internal/config"
	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/MrWong99/elocute/pkg/provider/assess/azure"
	"github.com/MrWong99/elocute/pkg/provider/llm"
	"github.com/MrWong99/elocute/pkg/provider/llm/anyllm"
	"github.com/MrWong99/elocute/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Assessment ────────────────────────────────────────────────────────────
	reg.RegisterAssess("azure", func(entry config.ProviderEntry) (assess.Provider, error) {
		var opts []azure.Option
		if entry.BaseURL != "" {
			opts = append(opts, azure.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, azure.WithLanguage(lang))
		}
		return azure.New(entry.APIKey, optString(entry.Options, "region"), opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native SDK for JSON mode and organisation headers.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if v := optString(entry.Options, "timeout"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("openai: options.timeout: %w", err)
			}
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends go through any-llm and share the same pattern:
	// optional APIKey + optional BaseURL. Local servers such as ollama only
	// need the BaseURL.
	for _, providerName := range anyllm.Supported {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	for _, kind := range []string{"assess", "llm"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// The primary comes first in each list, followed by its fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	for _, entry := range append([]config.ProviderEntry{cfg.Providers.Assess}, cfg.Providers.AssessFallbacks...) {
		p, err := reg.CreateAssess(entry)
		if err != nil {
			return nil, fmt.Errorf("create assess provider %q: %w", entry.Label(), err)
		}
		ps.Assess = append(ps.Assess, app.Named[assess.Provider]{Name: entry.Label(), Provider: p})
		slog.Info("provider created", "kind", "assess", "name", entry.Label())
	}

	if cfg.Providers.LLM.Name == "" {
		return ps, nil
	}
	for _, entry := range append([]config.ProviderEntry{cfg.Providers.LLM}, cfg.Providers.LLMFallbacks...) {
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not available, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Label(), err)
		}
		ps.LLM = append(ps.LLM, app.Named[llm.Provider]{Name: entry.Label(), Provider: p})
		slog.Info("provider created", "kind", "llm", "name", entry.Label(), "model", entry.Model)
	}
	return ps, nil
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
