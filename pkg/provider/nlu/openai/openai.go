// Package openai provides an nlu.Provider that classifies storefront
// utterances with an OpenAI chat model in JSON mode.
//
// The model is told the closed intent set and asked for a single JSON object
// {intent, entities, confidence, response_text}. Anything it returns outside
// the intent set is mapped to unknown, so the pipeline treats it as a weak
// answer and falls back to local matching.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/figuro/voice/pkg/provider/nlu"
	"github.com/figuro/voice/pkg/types"
)

var _ nlu.Provider = (*Provider)(nil)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Provider implements nlu.Provider using the OpenAI chat completions API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. for an
// OpenAI-compatible local server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries a failed request. Default 1.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: 1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// classification is the JSON object the model is instructed to return.
type classification struct {
	Intent       string         `json:"intent"`
	Entities     []types.Entity `json:"entities"`
	Confidence   float64        `json:"confidence"`
	ResponseText string         `json:"response_text"`
}

// Process implements [nlu.Provider].
func (p *Provider) Process(ctx context.Context, req nlu.Request) (types.VoiceResult, error) {
	start := time.Now()
	lang := req.Language
	if lang == "" {
		lang = types.DefaultLanguage
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt(lang)),
			oai.UserMessage(req.Text),
		},
		Temperature: param.NewOpt(0.0),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return types.VoiceResult{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.VoiceResult{}, errors.New("openai: empty choices in response")
	}

	c, err := parseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		return types.VoiceResult{}, err
	}
	return types.VoiceResult{
		Transcript:       req.Text,
		Intent:           types.ParseIntent(c.Intent),
		Entities:         c.Entities,
		Confidence:       clamp01(c.Confidence),
		ResponseText:     c.ResponseText,
		ProcessingTimeMS: int(time.Since(start).Milliseconds()),
		Tier:             types.TierRemote,
	}, nil
}

func parseClassification(content string) (classification, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var c classification
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		return classification{}, fmt.Errorf("openai: decode classification: %w", err)
	}
	valid := c.Entities[:0]
	for _, e := range c.Entities {
		switch e.Type {
		case types.EntityProduct, types.EntityQuantity, types.EntityColor:
		default:
			continue
		}
		if strings.TrimSpace(e.Value) == "" {
			continue
		}
		e.Confidence = clamp01(e.Confidence)
		valid = append(valid, e)
		if len(valid) == 3 {
			break
		}
	}
	c.Entities = valid
	return c, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func systemPrompt(lang types.Language) string {
	intents := make([]string, 0, 7)
	for _, in := range types.Intents() {
		intents = append(intents, string(in))
	}
	return fmt.Sprintf(`You are the intent classifier of Figuro, an online shop for anime and manga figures.
Classify the customer's message into exactly one intent from: %s.
Extract at most three entities of type "product" (figure or character name), "quantity" or "color".
Reply in %s with one short helpful sentence.
Answer with a single JSON object and nothing else:
{"intent": string, "entities": [{"type": string, "value": string, "confidence": number}], "confidence": number between 0 and 1, "response_text": string}`,
		strings.Join(intents, ", "), lang)
}
