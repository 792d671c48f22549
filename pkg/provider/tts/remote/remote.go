// Package remote provides a tts.Provider backed by the Figuro voice agent
// service (POST /voice/text-to-speech).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/figuro/voice/pkg/provider/tts"
	"github.com/figuro/voice/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 15 * time.Second
	ttsEndpoint    = "/voice/text-to-speech"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Default 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// Provider calls the voice agent synthesis endpoint.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New returns a Provider for the service at baseURL, e.g.
// "http://localhost:8000/api".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("remote tts: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type synthRequest struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	VoiceSpeed float64 `json:"voice_speed"`
}

type synthResponse struct {
	AudioURL string `json:"audio_url"`
}

// Synthesize implements [tts.Provider]. A response without audio_url is an
// error.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (string, error) {
	lang := req.Language
	if lang == "" {
		lang = types.DefaultLanguage
	}
	data, err := json.Marshal(synthRequest{Text: req.Text, Language: string(lang), VoiceSpeed: req.EffectiveRate()})
	if err != nil {
		return "", fmt.Errorf("remote tts: marshal request: %w", err)
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("remote tts: create request: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		hr.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(hr)
	if err != nil {
		return "", fmt.Errorf("remote tts: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("remote tts: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	var out synthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("remote tts: decode response: %w", err)
	}
	if out.AudioURL == "" {
		return "", errors.New("remote tts: response has no audio_url")
	}
	return out.AudioURL, nil
}
