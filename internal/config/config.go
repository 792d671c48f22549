// Package config provides the configuration schema, loader, and provider
// registry for the Figuro voice service.
package config

import (
	"time"

	"github.com/figuro/voice/pkg/types"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Backend selects the conversation context store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendHTTP     Backend = "http"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendMemory, BackendPostgres, BackendRedis, BackendHTTP:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Voice        VoiceConfig        `yaml:"voice"`
	Providers    ProvidersConfig    `yaml:"providers"`
	NLU          NLUConfig          `yaml:"nlu"`
	ContextStore ContextStoreConfig `yaml:"context_store"`
	Conversation ConversationConfig `yaml:"conversation"`
	Shop         ShopConfig         `yaml:"shop"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the context API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, receives a copy of the log output with size-based
	// rotation.
	LogFile string `yaml:"log_file"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// VoiceConfig holds the settings of a conversation session.
type VoiceConfig struct {
	// APIBaseURL is the storefront API that serves the voice endpoints and
	// relative audio URLs (e.g., "https://figuro.vn/api").
	APIBaseURL string `yaml:"api_base_url"`

	// Language is the initial recognition and reply language.
	Language types.Language `yaml:"language"`

	// VoiceSpeed is the speaking rate in [0.5, 2.0]. 1.0 is normal.
	VoiceSpeed float64 `yaml:"voice_speed"`

	// GoodbyeCloseDelay is how long a session stays open after a goodbye.
	GoodbyeCloseDelay time.Duration `yaml:"goodbye_close_delay"`

	// EnableTTS asks the remote NLU backend for an audio URL. Default true.
	EnableTTS *bool `yaml:"enable_tts"`

	// VoiceOutput speaks replies aloud. Default true.
	VoiceOutput *bool `yaml:"voice_output"`

	// UserID identifies the shopper to the context store. Default "anonymous".
	UserID string `yaml:"user_id"`
}

// ProvidersConfig declares the provider implementations. NLU and TTS are
// ordered fallback lists; the first entry is the primary.
type ProvidersConfig struct {
	NLU        []ProviderEntry `yaml:"nlu"`
	TTS        []ProviderEntry `yaml:"tts"`
	LocalVoice ProviderEntry   `yaml:"local_voice"`
	STT        ProviderEntry   `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "remote", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Remote providers
	// fall back to voice.api_base_url.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// NLUConfig tunes the processing pipeline.
type NLUConfig struct {
	// PatternsFile replaces the built-in intent and entity pattern tables.
	PatternsFile string `yaml:"patterns_file"`

	// RemoteMinConfidence is the lowest remote confidence accepted without
	// consulting local matching. Default 0.6.
	RemoteMinConfidence float64 `yaml:"remote_min_confidence"`
}

// ContextStoreConfig selects where conversation context is persisted.
type ContextStoreConfig struct {
	// Backend is one of memory, postgres, redis or http. Default memory.
	Backend Backend `yaml:"backend"`

	// DSN is the connection string: a PostgreSQL DSN, a redis:// URL or the
	// base URL of a context API, depending on Backend.
	DSN string `yaml:"dsn"`

	// KeyPrefix namespaces Redis keys. Ignored by other backends.
	KeyPrefix string `yaml:"key_prefix"`
}

// ConversationConfig locates the local history mirror.
type ConversationConfig struct {
	// MirrorPath is the JSON file holding the local copy of the history.
	// Empty disables the mirror.
	MirrorPath string `yaml:"mirror_path"`

	// SeenPath records that the first-use hint was shown.
	SeenPath string `yaml:"seen_path"`
}

// ShopConfig locates the product catalog.
type ShopConfig struct {
	// CatalogFile replaces the built-in catalog.
	CatalogFile string `yaml:"catalog_file"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultVoiceSpeed          = 1.0
	DefaultGoodbyeCloseDelay   = 2 * time.Second
	DefaultRemoteMinConfidence = 0.6
)

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Voice.Language == "" {
		cfg.Voice.Language = types.DefaultLanguage
	}
	if cfg.Voice.VoiceSpeed == 0 {
		cfg.Voice.VoiceSpeed = DefaultVoiceSpeed
	}
	if cfg.Voice.GoodbyeCloseDelay == 0 {
		cfg.Voice.GoodbyeCloseDelay = DefaultGoodbyeCloseDelay
	}
	if cfg.Voice.EnableTTS == nil {
		cfg.Voice.EnableTTS = ptr(true)
	}
	if cfg.Voice.VoiceOutput == nil {
		cfg.Voice.VoiceOutput = ptr(true)
	}
	if cfg.NLU.RemoteMinConfidence == 0 {
		cfg.NLU.RemoteMinConfidence = DefaultRemoteMinConfidence
	}
	if cfg.ContextStore.Backend == "" {
		cfg.ContextStore.Backend = BackendMemory
	}
	if cfg.Conversation.MirrorPath != "" && cfg.Conversation.SeenPath == "" {
		cfg.Conversation.SeenPath = cfg.Conversation.MirrorPath + ".seen"
	}
}

func ptr[T any](v T) *T { return &v }
