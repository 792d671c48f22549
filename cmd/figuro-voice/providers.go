package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/figuro/voice/internal/app"
	"github.com/figuro/voice/internal/config"
	"github.com/figuro/voice/internal/observe"
	"github.com/figuro/voice/internal/resilience"
	"github.com/figuro/voice/pkg/audio/player"
	"github.com/figuro/voice/pkg/audio/portaudio"
	"github.com/figuro/voice/pkg/provider/nlu"
	nluopenai "github.com/figuro/voice/pkg/provider/nlu/openai"
	nluremote "github.com/figuro/voice/pkg/provider/nlu/remote"
	"github.com/figuro/voice/pkg/provider/stt"
	"github.com/figuro/voice/pkg/provider/stt/deepgram"
	"github.com/figuro/voice/pkg/provider/stt/native"
	"github.com/figuro/voice/pkg/provider/stt/whisper"
	"github.com/figuro/voice/pkg/provider/tts"
	"github.com/figuro/voice/pkg/provider/tts/espeak"
	ttsremote "github.com/figuro/voice/pkg/provider/tts/remote"
)

// builtinProviders maps provider kinds to the implementations that ship
// with figuro-voice. Used for startup logging.
var builtinProviders = map[string][]string{
	"nlu":         {"remote", "openai"},
	"tts":         {"remote"},
	"local_voice": {"espeak"},
	"stt":         {"whisper", "deepgram"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── NLU ───────────────────────────────────────────────────────────────────

	reg.RegisterNLU("remote", func(entry config.ProviderEntry) (nlu.Provider, error) {
		var opts []nluremote.Option
		if entry.APIKey != "" {
			opts = append(opts, nluremote.WithAPIKey(entry.APIKey))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, nluremote.WithTimeout(d))
		}
		return nluremote.New(baseURL(entry, cfg), opts...)
	})

	reg.RegisterNLU("openai", func(entry config.ProviderEntry) (nlu.Provider, error) {
		var opts []nluopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, nluopenai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, nluopenai.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, nluopenai.WithMaxRetries(n))
		}
		return nluopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("remote", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsremote.Option
		if entry.APIKey != "" {
			opts = append(opts, ttsremote.WithAPIKey(entry.APIKey))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ttsremote.WithTimeout(d))
		}
		return ttsremote.New(baseURL(entry, cfg), opts...)
	})

	reg.RegisterLocalVoice("espeak", func(entry config.ProviderEntry) (tts.LocalVoice, error) {
		var opts []espeak.Option
		if bin := optString(entry.Options, "binary"); bin != "" {
			opts = append(opts, espeak.WithBinary(bin))
		}
		return espeak.New(opts...), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// fallbackConfig returns the breaker template for a provider chain of kind,
// reporting transitions and call outcomes to the default metrics.
func fallbackConfig(kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				observe.DefaultMetrics().RecordBreakerTransition(name, to.String())
			},
		},
		Logger: slog.Default(),
		OnResult: func(backend string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			observe.DefaultMetrics().RecordProviderRequest(context.Background(), backend, kind, status)
		},
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// The NLU and TTS lists become fallback chains guarded by circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry, withAudio bool) (*app.Providers, error) {
	ps := &app.Providers{}

	// ── NLU chain ─────────────────────────────────────────────────────────────
	var nluChain *resilience.NLUFallback
	for _, entry := range cfg.Providers.NLU {
		p, err := reg.CreateNLU(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider, skipping", "kind", "nlu", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create nlu provider %q: %w", entry.Name, err)
		}
		if r, ok := p.(*nluremote.Provider); ok && ps.Health == nil {
			ps.Health = func(ctx context.Context) (string, error) {
				h, err := r.Health(ctx)
				return h.Status, err
			}
		}
		if nluChain == nil {
			nluChain = resilience.NewNLUFallback(p, entry.Name, fallbackConfig("nlu"))
		} else {
			nluChain.AddFallback(entry.Name, p)
		}
		slog.Info("provider created", "kind", "nlu", "name", entry.Name)
	}
	if nluChain != nil {
		ps.NLU = nluChain
	}

	// ── TTS chain ─────────────────────────────────────────────────────────────
	var ttsChain *resilience.TTSFallback
	for _, entry := range cfg.Providers.TTS {
		p, err := reg.CreateTTS(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider, skipping", "kind", "tts", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		if ttsChain == nil {
			ttsChain = resilience.NewTTSFallback(p, entry.Name, fallbackConfig("tts"))
		} else {
			ttsChain.AddFallback(entry.Name, p)
		}
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}
	if ttsChain != nil {
		ps.TTS = ttsChain
	}

	if !withAudio {
		return ps, nil
	}

	// ── Local voice ───────────────────────────────────────────────────────────
	if name := cfg.Providers.LocalVoice.Name; name != "" {
		v, err := reg.CreateLocalVoice(cfg.Providers.LocalVoice)
		if err != nil {
			return nil, fmt.Errorf("create local voice %q: %w", name, err)
		}
		ps.LocalVoice = v
		slog.Info("provider created", "kind", "local_voice", "name", name)
	}

	// ── Audio and recognition ─────────────────────────────────────────────────
	ps.Player = player.New()
	if name := cfg.Providers.STT.Name; name != "" && name != "unsupported" {
		tr, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		rec, err := native.New(portaudio.New(), tr, native.WithLogger(slog.Default()))
		if err != nil {
			return nil, fmt.Errorf("create recognizer: %w", err)
		}
		ps.Recognizer = rec
		slog.Info("provider created", "kind", "stt", "name", name)
	}
	return ps, nil
}

// baseURL returns the entry's base URL, defaulting to the voice API.
func baseURL(entry config.ProviderEntry, cfg *config.Config) string {
	if entry.BaseURL != "" {
		return entry.BaseURL
	}
	return cfg.Voice.APIBaseURL
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes integers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	n, ok := opts[key].(int)
	return n, ok
}

// optDuration parses a duration option such as "5s". Invalid values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
