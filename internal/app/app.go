// Package app wires the voice subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the context store,
// the storefront catalog, the processing pipeline, the speech adapter and
// the conversation manager; Run serves the context API; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithContextStore,
// WithCatalog, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/figuro/voice/internal/config"
	"github.com/figuro/voice/internal/contextapi"
	"github.com/figuro/voice/internal/contextstore"
	"github.com/figuro/voice/internal/contextstore/httpclient"
	"github.com/figuro/voice/internal/contextstore/memstore"
	"github.com/figuro/voice/internal/contextstore/postgres"
	"github.com/figuro/voice/internal/contextstore/redisstore"
	"github.com/figuro/voice/internal/conversation"
	"github.com/figuro/voice/internal/health"
	"github.com/figuro/voice/internal/observe"
	"github.com/figuro/voice/internal/pattern"
	"github.com/figuro/voice/internal/pipeline"
	"github.com/figuro/voice/internal/resilience"
	"github.com/figuro/voice/internal/respond"
	"github.com/figuro/voice/internal/shop"
	shopstore "github.com/figuro/voice/internal/shop/memstore"
	"github.com/figuro/voice/internal/speech"
	"github.com/figuro/voice/pkg/audio"
	"github.com/figuro/voice/pkg/provider/nlu"
	"github.com/figuro/voice/pkg/provider/stt"
	"github.com/figuro/voice/pkg/provider/stt/unsupported"
	"github.com/figuro/voice/pkg/provider/tts"
)

// Providers holds one value per provider slot. Nil means the provider is
// not configured. Populated by main.go via the config registry.
type Providers struct {
	// NLU is the remote tier of the pipeline, usually a
	// [resilience.NLUFallback] over the configured chain.
	NLU nlu.Provider

	// TTS synthesizes replies to audio URLs.
	TTS tts.Provider

	// LocalVoice speaks when remote synthesis fails.
	LocalVoice tts.LocalVoice

	// Recognizer captures voice input. Nil selects the unsupported
	// recognizer, leaving text input only.
	Recognizer stt.Recognizer

	// Player plays synthesized audio.
	Player audio.Player

	// Health probes the voice API, if one is configured.
	Health func(ctx context.Context) (string, error)
}

// Catalog is the storefront backend the synthesizer acts on.
// *shop/memstore.Store implements it.
type Catalog interface {
	shop.ProductSearcher
	shop.CartMutator
	shop.OrderLookup
	shop.CategoryLister
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	log       *slog.Logger

	store        contextstore.Store
	catalog      Catalog
	mirror       conversation.Mirror
	table        *pattern.Table
	pipeline     *pipeline.Pipeline
	speech       *speech.Adapter
	conversation *conversation.Manager
	health       *health.Handler
	server       *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithContextStore injects a context store instead of creating one from config.
func WithContextStore(s contextstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCatalog injects the storefront catalog instead of loading one.
func WithCatalog(c Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithMirror injects the local history mirror.
func WithMirror(m conversation.Mirror) Option {
	return func(a *App) { a.mirror = m }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go. New connects to the configured context store,
// so it fails fast on an unreachable database.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	// ── 1. Context store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init context store: %w", err)
	}

	// ── 2. Catalog ───────────────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. Speech ────────────────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 5. Conversation ──────────────────────────────────────────────────
	a.initConversation()

	// ── 6. Health ────────────────────────────────────────────────────────
	a.initHealth()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	cs := a.cfg.ContextStore
	switch cs.Backend {
	case config.BackendPostgres:
		s, err := postgres.NewStore(ctx, cs.DSN)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, func() error {
			s.Close()
			return nil
		})
	case config.BackendRedis:
		var opts []redisstore.Option
		if cs.KeyPrefix != "" {
			opts = append(opts, redisstore.WithPrefix(cs.KeyPrefix))
		}
		s, err := redisstore.NewStore(ctx, cs.DSN, opts...)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	case config.BackendHTTP:
		c, err := httpclient.New(cs.DSN)
		if err != nil {
			return err
		}
		a.store = c
	case config.BackendMemory, "":
		a.store = memstore.New()
	default:
		return fmt.Errorf("unknown backend %q", cs.Backend)
	}
	a.log.Info("context store ready", "backend", cs.Backend)
	return nil
}

func (a *App) initCatalog() error {
	if a.catalog != nil {
		return nil
	}
	var (
		s   *shopstore.Store
		err error
	)
	if path := a.cfg.Shop.CatalogFile; path != "" {
		s, err = shopstore.Open(path)
	} else {
		s, err = shopstore.Default()
	}
	if err != nil {
		return err
	}
	a.catalog = s
	return nil
}

func (a *App) initPipeline() error {
	var err error
	if path := a.cfg.NLU.PatternsFile; path != "" {
		a.table, err = pattern.LoadTableFile(path)
	} else {
		a.table, err = pattern.DefaultTable()
	}
	if err != nil {
		return err
	}

	helpers := shop.NewHelpers(a.catalog, a.catalog, a.catalog, shop.WithCategories(a.catalog))
	synth := respond.New(helpers, respond.WithLogger(a.log))

	a.pipeline = pipeline.New(a.providers.NLU, pattern.NewMatcher(a.table), synth,
		pipeline.WithMinConfidence(a.cfg.NLU.RemoteMinConfidence),
		pipeline.WithTTS(enabled(a.cfg.Voice.EnableTTS)),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.log),
	)
	return nil
}

func (a *App) initSpeech() error {
	rec := a.providers.Recognizer
	if rec == nil {
		rec = unsupported.Recognizer{}
	}
	opts := []speech.Option{
		speech.WithMetrics(a.metrics),
		speech.WithLogger(a.log),
	}
	if a.providers.TTS != nil {
		opts = append(opts, speech.WithSynthesizer(a.providers.TTS))
	}
	if a.providers.LocalVoice != nil {
		opts = append(opts, speech.WithLocalVoice(a.providers.LocalVoice))
	}
	if a.providers.Player != nil {
		opts = append(opts, speech.WithPlayer(a.providers.Player))
	}
	if base := a.cfg.Voice.APIBaseURL; base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parse api base url: %w", err)
		}
		opts = append(opts, speech.WithAPIBase(u))
	}
	a.speech = speech.New(rec, opts...)
	return nil
}

func (a *App) initConversation() {
	if a.mirror == nil {
		if path := a.cfg.Conversation.MirrorPath; path != "" {
			a.mirror = conversation.NewFileMirror(path, a.cfg.Conversation.SeenPath)
		} else {
			a.mirror = conversation.NoopMirror{}
		}
	}
	a.conversation = conversation.New(a.pipeline, a.speech,
		conversation.WithStore(a.store, a.cfg.Voice.UserID),
		conversation.WithMirror(a.mirror),
		conversation.WithLanguage(a.cfg.Voice.Language),
		conversation.WithVoiceSpeed(a.cfg.Voice.VoiceSpeed),
		conversation.WithGoodbyeDelay(a.cfg.Voice.GoodbyeCloseDelay),
		conversation.WithVoiceOutput(enabled(a.cfg.Voice.VoiceOutput)),
		conversation.WithMetrics(a.metrics),
		conversation.WithLogger(a.log),
	)
	a.closers = append(a.closers, func() error {
		a.conversation.Close()
		return nil
	})
}

// breakerReporter is implemented by the resilience fallback wrappers.
type breakerReporter interface {
	BreakerStates() map[string]resilience.State
}

func (a *App) initHealth() {
	var checkers []health.Checker
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("context_store", p))
	}
	if b, ok := a.providers.NLU.(breakerReporter); ok {
		checkers = append(checkers, health.Breakers("nlu", b.BreakerStates))
	}
	if b, ok := a.providers.TTS.(breakerReporter); ok {
		checkers = append(checkers, health.Breakers("tts", b.BreakerStates))
	}
	if a.providers.Health != nil {
		checkers = append(checkers, health.Remote("voice_api", a.providers.Health))
	}
	a.health = health.New(checkers...)
}

func enabled(p *bool) bool { return p == nil || *p }

// ─── Accessors ───────────────────────────────────────────────────────────────

// Conversation returns the session manager driven by the chat front end.
func (a *App) Conversation() *conversation.Manager { return a.conversation }

// Pipeline returns the processing pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Store returns the context store.
func (a *App) Store() contextstore.Store { return a.store }

// ApplyConfig applies the hot-reloadable parts of a new configuration.
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) {
	if d.LanguageChanged {
		a.conversation.SetLanguage(cfg.Voice.Language)
	}
	if d.VoiceSpeedChanged {
		a.conversation.SetVoiceSpeed(cfg.Voice.VoiceSpeed)
	}
	if d.VoiceOutputChanged {
		a.conversation.SetVoiceOutput(enabled(cfg.Voice.VoiceOutput))
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// Handler returns the HTTP surface: the context API, the health probes and
// the Prometheus scrape endpoint, wrapped in the metrics middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	contextapi.New(a.store, contextapi.WithMetrics(a.metrics), contextapi.WithLogger(a.log)).Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves [App.Handler] on cfg.Server.ListenAddr and blocks until ctx
// is cancelled or the listener fails. A cancelled ctx yields ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()
	a.log.Info("context api listening", "addr", ln.Addr().String())

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

// Shutdown stops the HTTP server and runs the closers in order. If ctx
// expires first, the remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				a.log.Warn("http shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
