// Command simi runs the Simi voice business assistant: a realtime voice
// session bridged to the dashboard state, plus the HTTP, WebSocket and MCP
// surfaces that drive it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/simi/internal/app"
	"github.com/MrWong99/simi/internal/config"
	"github.com/MrWong99/simi/internal/observe"
	"github.com/MrWong99/simi/pkg/audio/capture"
	"github.com/MrWong99/simi/pkg/audio/device"
	"github.com/MrWong99/simi/pkg/provider/live"
	geminilive "github.com/MrWong99/simi/pkg/provider/live/gemini"
	livemock "github.com/MrWong99/simi/pkg/provider/live/mock"
	"github.com/MrWong99/simi/pkg/provider/llm"
	"github.com/MrWong99/simi/pkg/provider/llm/anyllm"
	"github.com/MrWong99/simi/pkg/provider/llm/genai"
	llmmock "github.com/MrWong99/simi/pkg/provider/llm/mock"
	"github.com/MrWong99/simi/pkg/provider/llm/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config is expanded")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "simi: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Created before the config so the loader's warnings are visible. The
	// level is set once the config is known and follows hot reloads.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		if application != nil {
			application.ApplyConfig(old, next)
		}
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "simi: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "simi: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	level.Set(app.ParseLevel(cfg.Server.LogLevel))

	slog.Info("simi starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Audio ─────────────────────────────────────────────────────────────────
	audio, closers, err := openAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to open audio devices", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})),
		app.WithWatcher(watcher),
		app.WithVersion(version),
		app.WithCloser(func() error { return shutdownTelemetry(context.Background()) }),
	}
	for _, c := range closers {
		opts = append(opts, app.WithCloser(c))
	}

	application, err = app.New(cfg, providers, audio, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider implementations that ship with
// simi into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────
	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})
	reg.RegisterLive("mock", func(config.ProviderEntry) (live.Provider, error) {
		return &livemock.Provider{}, nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []genai.Option
		if entry.BaseURL != "" {
			opts = append(opts, genai.WithBaseURL(entry.BaseURL))
		}
		p, err := genai.New(ctx, entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// anyllm covers every backend any-llm-go knows (anthropic, ollama,
	// mistral, groq, ...). The backend name comes from options.backend.
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New(entry.Option("backend"), entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{ProviderName: "mock", Responses: []string{entry.Option("response")}}, nil
	})
}

// buildProviders instantiates the live provider and the content chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (app.Providers, error) {
	var ps app.Providers

	if cfg.Providers.Live.Name != "" {
		p, err := reg.CreateLive(cfg.Providers.Live)
		if err != nil {
			return ps, fmt.Errorf("providers.live: %w", err)
		}
		ps.Live = p
	}

	chain, err := reg.CreateLLMChain(cfg.Providers.LLM)
	if err != nil {
		return ps, err
	}
	ps.LLM = chain
	return ps, nil
}

// ── Audio wiring ──────────────────────────────────────────────────────────────

// openAudio opens the configured devices. With device "none" the microphone
// always refuses and the speaker is a clock-only sink. When no backend is
// compiled in, the speaker falls back to the same sink and the microphone
// reports the failure when a session starts.
func openAudio(cfg config.AudioConfig) (app.Audio, []func() error, error) {
	headless := func(mic capture.Source) (app.Audio, []func() error, error) {
		spk := device.NullSpeaker(cfg.OutputSampleRate, cfg.FramesPerBuffer)
		return app.Audio{Microphone: mic, Speaker: spk.Output()}, []func() error{spk.Close}, nil
	}

	if cfg.Device == config.DeviceNone {
		return headless(device.NoMicrophone{})
	}

	mic := &device.Microphone{
		SampleRate:      cfg.InputSampleRate,
		Channels:        cfg.InputChannels,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}

	terminate, err := device.Init()
	if err != nil {
		return app.Audio{}, nil, err
	}

	spk, err := device.OpenSpeaker(cfg.OutputSampleRate, cfg.FramesPerBuffer)
	if errors.Is(err, device.ErrUnavailable) {
		slog.Warn("audio backend unavailable, playback runs headless", "err", err)
		audio, closers, _ := headless(mic)
		return audio, append([]func() error{terminate}, closers...), nil
	}
	if err != nil {
		_ = terminate()
		return app.Audio{}, nil, fmt.Errorf("open speaker: %w", err)
	}
	// Closers run in reverse order: the speaker closes before PortAudio terminates.
	return app.Audio{Microphone: mic, Speaker: spk.Output()}, []func() error{terminate, spk.Close}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Simi  startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", providerLabel(cfg.Providers.Live.Name, cfg.Providers.Live.Model))
	printRow("Voice", cfg.Persona.Voice)
	for i, e := range cfg.Providers.LLM {
		printRow(fmt.Sprintf("Content #%d", i+1), providerLabel(e.Name, e.Model))
	}
	if len(ps.LLM) == 0 {
		printRow("Content", "(fallbacks only)")
	}
	printRow("Audio", string(cfg.Audio.Device))
	if cfg.MCP.Enabled {
		printRow("MCP", cfg.MCP.Path)
	} else {
		printRow("MCP", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	switch {
	case name == "":
		return "(not configured)"
	case model != "":
		return name + " / " + model
	default:
		return name
	}
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}
