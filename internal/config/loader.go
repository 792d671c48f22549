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
	"nlu":         {"remote", "openai"},
	"tts":         {"remote"},
	"local_voice": {"espeak"},
	"stt":         {"whisper", "deepgram", "unsupported"},
}

// Environment variables applied over the file by [Load]. A non-empty value
// wins over the file.
const (
	EnvAPIBaseURL     = "FIGURO_API_BASE_URL"
	EnvRemoteAPIKey   = "FIGURO_API_KEY"
	EnvOpenAIAPIKey   = "FIGURO_OPENAI_API_KEY"
	EnvDeepgramKey    = "FIGURO_DEEPGRAM_API_KEY"
	EnvDatabaseDSN    = "FIGURO_DATABASE_DSN"
	EnvContextBackend = "FIGURO_CONTEXT_BACKEND"
	EnvUserID         = "FIGURO_USER_ID"
	EnvLogLevel       = "FIGURO_LOG_LEVEL"
)

// Load reads the YAML configuration file at path, applies the FIGURO_*
// environment overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, nil)
}

// Default returns the configuration used when no file is given: defaults
// plus the environment overrides.
func Default() (*Config, error) {
	cfg := &Config{}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the FIGURO_* variables found by lookup onto cfg.
// API keys are only applied to entries of the matching provider.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}
	if v := get(EnvAPIBaseURL); v != "" {
		cfg.Voice.APIBaseURL = v
	}
	if v := get(EnvUserID); v != "" {
		cfg.Voice.UserID = v
	}
	if v := get(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v := get(EnvContextBackend); v != "" {
		cfg.ContextStore.Backend = Backend(v)
	}
	if v := get(EnvDatabaseDSN); v != "" {
		cfg.ContextStore.DSN = v
	}
	if v := get(EnvOpenAIAPIKey); v != "" {
		setKey(cfg.Providers.NLU, "openai", v)
	}
	if v := get(EnvRemoteAPIKey); v != "" {
		setKey(cfg.Providers.NLU, "remote", v)
		setKey(cfg.Providers.TTS, "remote", v)
	}
	if v := get(EnvDeepgramKey); v != "" && cfg.Providers.STT.Name == "deepgram" {
		cfg.Providers.STT.APIKey = v
	}
}

func setKey(entries []ProviderEntry, name, key string) {
	for i := range entries {
		if entries[i].Name == name {
			entries[i].APIKey = key
		}
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
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Voice
	if cfg.Voice.Language != "" && !cfg.Voice.Language.Valid() {
		errs = append(errs, fmt.Errorf("voice.language %q is not supported; valid values: vi-VN, en-US", cfg.Voice.Language))
	}
	if s := cfg.Voice.VoiceSpeed; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("voice.voice_speed %.2f is out of range [0.5, 2.0]", s))
	}
	if cfg.Voice.GoodbyeCloseDelay < 0 {
		errs = append(errs, fmt.Errorf("voice.goodbye_close_delay %s must not be negative", cfg.Voice.GoodbyeCloseDelay))
	}

	// NLU
	if c := cfg.NLU.RemoteMinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("nlu.remote_min_confidence %.2f is out of range [0, 1]", c))
	}

	// Providers
	errs = append(errs, validateChain("nlu", cfg.Providers.NLU, cfg.Voice.APIBaseURL)...)
	errs = append(errs, validateChain("tts", cfg.Providers.TTS, cfg.Voice.APIBaseURL)...)
	validateProviderName("local_voice", cfg.Providers.LocalVoice.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.BaseURL == "" {
		errs = append(errs, errors.New("providers.stt: whisper requires base_url"))
	}

	// Context store
	switch b := cfg.ContextStore.Backend; {
	case b == "" || b == BackendMemory:
	case !b.IsValid():
		errs = append(errs, fmt.Errorf("context_store.backend %q is invalid; valid values: memory, postgres, redis, http", b))
	case cfg.ContextStore.DSN == "":
		errs = append(errs, fmt.Errorf("context_store.dsn is required when backend is %s", b))
	}

	if cfg.Conversation.SeenPath != "" && cfg.Conversation.SeenPath == cfg.Conversation.MirrorPath {
		errs = append(errs, errors.New("conversation.seen_path must differ from conversation.mirror_path"))
	}

	return errors.Join(errs...)
}

// validateChain checks one ordered fallback list. Names double as breaker
// names, so they must be unique.
func validateChain(kind string, entries []ProviderEntry, apiBase string) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, e.Name, kind, prev))
		}
		seen[e.Name] = i
		if e.Name == "remote" && e.BaseURL == "" && apiBase == "" {
			errs = append(errs, fmt.Errorf("%s: remote requires base_url or voice.api_base_url", prefix))
		}
		validateProviderName(kind, e.Name)
	}
	return errs
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
