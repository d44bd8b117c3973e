// Command elocute is the entry point for the Elocute pronunciation-assessment
// service. "elocute serve" runs the HTTP API; "elocute assess" scores a single
// WAV recording and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/elocute/internal/app"
	"github.com/MrWong99/elocute/internal/assessment"
	"github.com/MrWong99/elocute/internal/config"
	"github.com/MrWong99/elocute/internal/observe"
	"github.com/MrWong99/elocute/pkg/audio"
	"github.com/MrWong99/elocute/pkg/types"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "elocute: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "elocute",
		Short:         "Pronunciation assessment service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(newServeCmd(&configPath), newAssessCmd(&configPath))
	return root
}

// loadConfig reads the config file and installs the matching default logger.
func loadConfig(path string, level *slog.LevelVar) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
		}
		return nil, err
	}
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(os.Stderr, level))
	return cfg, nil
}

// ── serve ─────────────────────────────────────────────────────────────────────

func newServeCmd(configPath *string) *cobra.Command {
	var watchInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP assessment API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath, watchInterval)
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "watch-interval", 5*time.Second, "how often the config file is checked for changes (0 disables)")
	return cmd
}

func runServe(ctx context.Context, configPath string, watchInterval time.Duration) error {
	level := new(slog.LevelVar)
	cfg, err := loadConfig(configPath, level)
	if err != nil {
		return err
	}
	slog.Info("elocute starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Registerer:     reg,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	registry := config.NewRegistry()
	registerBuiltinProviders(registry)
	providers, err := buildProviders(cfg, registry)
	if err != nil {
		return err
	}

	printStartupSummary(os.Stdout, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(level),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if watchInterval > 0 {
		watcher, err := config.NewWatcher(configPath, application.ApplyConfig, config.WithInterval(watchInterval))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
			go reloadOnHangup(ctx, watcher)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// reloadOnHangup re-reads the config on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			d, err := w.Reload()
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "err", err)
				continue
			}
			if d.Empty() {
				slog.Info("config reloaded, nothing changed")
			}
		}
	}
}

// ── assess ────────────────────────────────────────────────────────────────────

type assessFlags struct {
	audioPath   string
	text        string
	referenceID string
	language    string
	userID      string
	noMiscue    bool
}

func newAssessCmd(configPath *string) *cobra.Command {
	var f assessFlags

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Assess one WAV recording and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.text == "" && f.referenceID == "" {
				return errors.New("one of --text or --reference-id is required")
			}
			level := new(slog.LevelVar)
			cfg, err := loadConfig(*configPath, level)
			if err != nil {
				return err
			}
			registry := config.NewRegistry()
			registerBuiltinProviders(registry)
			providers, err := buildProviders(cfg, registry)
			if err != nil {
				return err
			}
			application, err := app.New(cmd.Context(), cfg, providers, app.WithLogLevel(level))
			if err != nil {
				return fmt.Errorf("initialise application: %w", err)
			}
			defer application.Shutdown(context.Background())

			return runAssess(cmd.Context(), application.Assessor(), f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.audioPath, "audio", "", "path to the WAV recording")
	cmd.Flags().StringVar(&f.text, "text", "", "reference text the speaker read")
	cmd.Flags().StringVar(&f.referenceID, "reference-id", "", "ID of a stored reference passage")
	cmd.Flags().StringVar(&f.language, "language", "", "BCP-47 recognition locale (default from config)")
	cmd.Flags().StringVar(&f.userID, "user", "", "learner ID stored with the result")
	cmd.Flags().BoolVar(&f.noMiscue, "no-miscue", false, "disable omission and insertion detection")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

// assessor is the part of [assessment.Assessor] the assess command needs.
type assessor interface {
	Assess(ctx context.Context, req assessment.Request) (*types.AssessmentResult, error)
}

func runAssess(ctx context.Context, a assessor, f assessFlags, out io.Writer) error {
	file, err := os.Open(f.audioPath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	src, err := audio.NewWAVSource(file, audio.Speech)
	if err != nil {
		return fmt.Errorf("read audio %q: %w", f.audioPath, err)
	}

	req := assessment.Request{
		UserID:        f.userID,
		Language:      f.language,
		ReferenceText: f.text,
		ReferenceID:   f.referenceID,
		Audio:         src,
	}
	if f.noMiscue {
		off := false
		req.EnableMiscue = &off
	}

	res, err := a.Assess(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         Elocute startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "Assess", cfg.Providers.Assess.Label(), "")
	fmt.Fprintf(w, "║  %-12s    : %-19d ║\n", "Fallbacks", len(cfg.Providers.AssessFallbacks))
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	store := cfg.Store.Backend()
	if store == "" {
		store = "(none)"
	}
	printProvider(w, "Store", store, "")
	s := cfg.Assessment.Settings()
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Timeout", s.Timeout)
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Language", s.DefaultLanguage)
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
