// Package remote provides an nlu.Provider backed by the Figuro voice agent
// HTTP service.
//
// Endpoints used:
//
//   - POST /voice/process-text        classify text, optionally synthesize
//   - GET  /voice/supported-languages list accepted languages
//   - GET  /voice/health              liveness of the voice service
//
// The provider returns the service's answer as-is. Defaulting of missing
// fields is left to the caller (see nlu.Normalize).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/figuro/voice/pkg/provider/nlu"
	"github.com/figuro/voice/pkg/types"
)

var (
	_ nlu.Provider       = (*Provider)(nil)
	_ nlu.LanguageLister = (*Provider)(nil)
)

const (
	defaultTimeout    = 10 * time.Second
	processEndpoint   = "/voice/process-text"
	languagesEndpoint = "/voice/supported-languages"
	healthEndpoint    = "/voice/health"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Default 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client. Its timeout is kept as-is.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// Provider talks to the voice agent service at a base URL such as
// "http://localhost:8000/api". It is safe for concurrent use.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New returns a Provider for the service at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
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

// BaseURL returns the service base URL without a trailing slash.
func (p *Provider) BaseURL() string { return p.baseURL }

type processRequest struct {
	Text      string `json:"text"`
	Language  string `json:"language"`
	EnableTTS bool   `json:"enable_tts"`
}

type languagesResponse struct {
	Languages []types.SupportedLanguage `json:"languages"`
}

// HealthStatus is the body of GET /voice/health.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Process implements [nlu.Provider].
func (p *Provider) Process(ctx context.Context, req nlu.Request) (types.VoiceResult, error) {
	lang := req.Language
	if lang == "" {
		lang = types.DefaultLanguage
	}
	data, err := json.Marshal(processRequest{Text: req.Text, Language: string(lang), EnableTTS: req.EnableTTS})
	if err != nil {
		return types.VoiceResult{}, fmt.Errorf("remote: marshal process request: %w", err)
	}

	var out types.VoiceResult
	if err := p.do(ctx, http.MethodPost, processEndpoint, data, &out); err != nil {
		return types.VoiceResult{}, err
	}
	out.Tier = types.TierRemote
	return out, nil
}

// SupportedLanguages implements [nlu.LanguageLister]. Any failure yields
// [types.DefaultLanguages].
func (p *Provider) SupportedLanguages(ctx context.Context) []types.SupportedLanguage {
	var out languagesResponse
	if err := p.do(ctx, http.MethodGet, languagesEndpoint, nil, &out); err != nil || len(out.Languages) == 0 {
		return append([]types.SupportedLanguage(nil), types.DefaultLanguages...)
	}
	return out.Languages
}

// Health queries the service health endpoint. Missing fields default to
// status "unknown" and version "1.0.0".
func (p *Provider) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	if err := p.do(ctx, http.MethodGet, healthEndpoint, nil, &out); err != nil {
		return HealthStatus{}, err
	}
	if out.Status == "" {
		out.Status = "unknown"
	}
	if out.Version == "" {
		out.Version = "1.0.0"
	}
	return out, nil
}

func (p *Provider) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, rd)
	if err != nil {
		return fmt.Errorf("remote: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote: %s %s returned status %d", method, endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("remote: decode %s response: %w", endpoint, err)
	}
	return nil
}
