// Package app wires the simi subsystems into a running application shell.
//
// The App owns the state [Store], the voice [SessionManager], the content
// helper, the MCP command bridge and the HTTP API. New builds everything from
// the config, Run serves until the context ends, and Shutdown tears down in
// order.
//
// For tests, inject collaborators through functional options (WithMetrics,
// WithDispatcher, ...) and drive the API through [App.Handler].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/simi/internal/command"
	"github.com/MrWong99/simi/internal/config"
	"github.com/MrWong99/simi/internal/content"
	"github.com/MrWong99/simi/internal/health"
	"github.com/MrWong99/simi/internal/mcp"
	"github.com/MrWong99/simi/internal/observe"
	"github.com/MrWong99/simi/internal/resilience"
	"github.com/MrWong99/simi/pkg/audio/capture"
	"github.com/MrWong99/simi/pkg/audio/playback"
	"github.com/MrWong99/simi/pkg/provider/live"
	"github.com/MrWong99/simi/pkg/provider/llm"
)

// shutdownTimeout bounds the graceful shutdown started by Run.
const shutdownTimeout = 10 * time.Second

// Providers holds the backends built by main via the config registry.
type Providers struct {
	// Live is the realtime voice provider. Nil disables voice sessions.
	Live live.Provider

	// LLM is the content fallback chain in priority order. Empty means every
	// content operation returns its fallback.
	LLM []llm.Provider
}

// Audio holds the device endpoints.
type Audio struct {
	Microphone capture.Source
	Speaker    playback.Output
}

// App owns every subsystem's lifetime.
type App struct {
	providers Providers
	audio     Audio

	mu  sync.RWMutex
	cfg *config.Config

	store    *Store
	disp     *command.Dispatcher
	sessions *SessionManager
	llm      *resilience.LLMFallback
	content  *content.Helper
	mcp      *mcp.Server
	health   *health.Handler

	metrics        *observe.Metrics
	metricsHandler http.Handler
	log            *slog.Logger
	level          *slog.LevelVar
	watcher        *config.Watcher
	version        string

	srv      *http.Server
	closing  chan struct{}
	closers  []func() error
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics injects the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetricsHandler replaces the /metrics handler. Defaults to
// promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithWatcher runs w alongside the HTTP server and applies its reloads.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithDispatcher injects the command dispatcher, e.g. with deterministic ids.
func WithDispatcher(d *command.Dispatcher) Option {
	return func(a *App) { a.disp = d }
}

// WithVersion sets the version reported over MCP.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithCloser registers fn to run during Shutdown, after the HTTP server has
// stopped. Closers run in reverse registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New builds the App. It does not start serving.
func New(cfg *config.Config, providers Providers, audio Audio, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		audio:     audio,
		version:   "dev",
		closing:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. State ─────────────────────────────────────────────────────────
	a.store = NewStore(a.disp, a.metrics)

	// ── 2. Voice sessions ────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Provider:         providers.Live,
		Microphone:       audio.Microphone,
		Speaker:          audio.Speaker,
		Store:            a.store,
		Live:             a.liveConfig,
		ChunkSize:        cfg.Audio.ChunkSize,
		OutputSampleRate: cfg.Audio.OutputSampleRate,
		Metrics:          a.metrics,
		Logger:           a.log,
	})

	// ── 3. Content ───────────────────────────────────────────────────────
	var contentLLM llm.Provider
	if len(providers.LLM) > 0 {
		a.llm = resilience.NewLLMFallback(resilience.FallbackConfig{}, providers.LLM...)
		contentLLM = a.llm
	}
	a.content = content.New(contentLLM,
		content.WithInstructions(cfg.Persona.Instructions),
		content.WithMetrics(a.metrics),
		content.WithLogger(a.log),
	)

	// ── 4. MCP bridge ────────────────────────────────────────────────────
	if cfg.MCP.Enabled {
		a.mcp = mcp.NewServer(a.store, a.version, a.log)
	}

	// ── 5. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Store returns the state store.
func (a *App) Store() *Store { return a.store }

// Sessions returns the voice session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// liveConfig builds the realtime session configuration from the current
// persona.
func (a *App) liveConfig() live.SessionConfig {
	cfg := a.Config()
	return live.SessionConfig{
		Instructions:        cfg.Persona.Instructions,
		Tools:               command.Declarations(),
		ResponseModality:    live.ModalityAudio,
		VoiceName:           cfg.Persona.Voice,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// ApplyConfig takes over the hot-reloadable parts of next. Persona and voice
// changes apply to the next voice session; provider changes need a restart.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if !d.Any() {
		return
	}

	a.mu.Lock()
	cfg := *a.cfg
	cfg.Persona = next.Persona
	cfg.Server.LogLevel = next.Server.LogLevel
	a.cfg = &cfg
	a.mu.Unlock()

	if d.PersonaChanged || d.VoiceChanged {
		a.log.Info("persona updated, applies to the next voice session",
			"voice", next.Persona.Voice, "instructions_changed", d.PersonaChanged)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LLMChanged {
		a.log.Warn("providers.llm changed; restart to apply")
	}
}

// ParseLevel maps a config level to slog.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (a *App) checkers() []health.Checker {
	return []health.Checker{
		{Name: "live", Check: func(context.Context) error {
			if a.providers.Live == nil {
				return errors.New("no live provider configured")
			}
			return nil
		}},
		{Name: "content", Check: func(context.Context) error {
			if a.llm == nil {
				return nil
			}
			group := a.llm.Group()
			for _, name := range group.Names() {
				if group.Breaker(name).State() != resilience.StateOpen {
					return nil
				}
			}
			return fmt.Errorf("all %d llm circuit breakers open", group.Len())
		}},
	}
}

// Run serves HTTP and, when configured, polls the config file. It blocks until
// ctx is cancelled or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.srv.Addr)
		var err error
		if tls := a.Config().Server.TLS; tls != nil {
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	return g.Wait()
}

// Shutdown stops the voice session, drains HTTP and runs the closers. It is
// safe to call more than once; later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		close(a.closing)
		if _, err := a.sessions.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := a.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		for _, fn := range slices.Backward(a.closers) {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
		a.log.Info("app stopped")
	})
	return a.stopErr
}
