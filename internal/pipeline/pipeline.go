// Package pipeline turns one utterance into a [types.VoiceResult] through
// three strictly sequential tiers:
//
//  1. remote: a remote NLU provider. Its answer is accepted when the call
//     succeeds, the intent is known and the confidence reaches the
//     threshold (0.6 by default).
//  2. enhanced: local pattern matching plus the action-aware response
//     synthesizer. It runs when the remote tier fails or is weak. A weak
//     remote answer is only replaced when the local intent is known, and
//     the replacement keeps the remote audio URL.
//  3. mock: a substring keyword table with canned replies. It runs only
//     when the enhanced tier fails or panics.
//
// [Pipeline.Process] never returns an error and always yields an intent
// from the closed set with a non-empty reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/figuro/voice/internal/observe"
	"github.com/figuro/voice/internal/respond"
	"github.com/figuro/voice/pkg/provider/nlu"
	"github.com/figuro/voice/pkg/types"
)

// DefaultMinConfidence is the lowest remote confidence that is accepted
// without consulting the local tier.
const DefaultMinConfidence = 0.6

// Nominal processing times stamped by the local tiers.
const (
	enhancedProcessingMS = 200
	mockProcessingMS     = 100
	mockConfidence       = 0.5
)

// Analyzer classifies text and extracts entities. *pattern.Matcher
// satisfies it.
type Analyzer interface {
	Analyze(text string) (types.Intent, []types.Entity)
}

// Responder produces the reply for a classified utterance.
// *respond.Synthesizer satisfies it.
type Responder interface {
	RespondWithAction(ctx context.Context, utterance string, intent types.Intent, entities []types.Entity) (respond.Reply, error)
}

// Pipeline runs the tiered fallback chain. It is safe for concurrent use
// as long as its collaborators are.
type Pipeline struct {
	remote    nlu.Provider
	analyzer  Analyzer
	responder Responder

	minConfidence float64
	enableTTS     bool
	metrics       *observe.Metrics
	log           *slog.Logger
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMinConfidence sets the remote acceptance threshold.
func WithMinConfidence(c float64) Option {
	return func(p *Pipeline) { p.minConfidence = c }
}

// WithTTS controls whether the remote tier is asked for an audio URL.
// Enabled by default.
func WithTTS(enabled bool) Option {
	return func(p *Pipeline) { p.enableTTS = enabled }
}

// WithMetrics records tier outcomes on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New builds a Pipeline. A nil remote skips the remote tier.
func New(remote nlu.Provider, analyzer Analyzer, responder Responder, opts ...Option) *Pipeline {
	p := &Pipeline{
		remote:        remote,
		analyzer:      analyzer,
		responder:     responder,
		minConfidence: DefaultMinConfidence,
		enableTTS:     true,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Process classifies u and produces the reply. It makes a single attempt
// per tier and never returns an error.
func (p *Pipeline) Process(ctx context.Context, u types.Utterance) types.VoiceResult {
	start := time.Now()
	if u.Language == "" {
		u.Language = types.DefaultLanguage
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.process")
	defer span.End()

	res := p.run(ctx, u)

	span.SetAttributes(
		attribute.String("figuro.tier", string(res.Tier)),
		attribute.String("figuro.intent", string(res.Intent)),
		attribute.Float64("figuro.confidence", res.Confidence),
	)
	p.metrics.RecordPipeline(ctx, string(res.Tier), time.Since(start))
	observe.LoggerWith(p.log, ctx).Debug("utterance processed",
		"tier", res.Tier,
		"intent", res.Intent,
		"confidence", res.Confidence,
		"source", u.Source,
	)
	return res
}

func (p *Pipeline) run(ctx context.Context, u types.Utterance) types.VoiceResult {
	var (
		weak    types.VoiceResult
		hasWeak bool
	)

	if p.remote == nil {
		p.metrics.RecordTier(ctx, string(types.TierRemote), observe.OutcomeSkipped)
	} else {
		res, err := p.processRemote(ctx, u)
		switch {
		case err != nil:
			p.metrics.RecordTier(ctx, string(types.TierRemote), observe.OutcomeError)
			p.log.Warn("pipeline: remote tier failed, using local matching", "err", err)
		case res.Intent == types.IntentUnknown || res.Confidence < p.minConfidence:
			p.metrics.RecordTier(ctx, string(types.TierRemote), observe.OutcomeWeak)
			weak, hasWeak = res, true
		default:
			p.metrics.RecordTier(ctx, string(types.TierRemote), observe.OutcomeAccepted)
			return res
		}
	}

	res, err := p.processEnhanced(ctx, u)
	if err != nil {
		p.metrics.RecordTier(ctx, string(types.TierEnhanced), observe.OutcomeError)
		p.log.Error("pipeline: enhanced tier failed, using keyword fallback", "err", err)
		p.metrics.RecordTier(ctx, string(types.TierMock), observe.OutcomeAccepted)
		return processMock(u)
	}
	if hasWeak {
		if res.Intent == types.IntentUnknown {
			p.metrics.RecordTier(ctx, string(types.TierEnhanced), observe.OutcomeWeak)
			return weak
		}
		res.AudioURL = weak.AudioURL
	}
	p.metrics.RecordTier(ctx, string(types.TierEnhanced), observe.OutcomeAccepted)
	return res
}

func (p *Pipeline) processRemote(ctx context.Context, u types.Utterance) (types.VoiceResult, error) {
	start := time.Now()
	res, err := p.remote.Process(ctx, nlu.Request{
		Text:      u.Text,
		Language:  u.Language,
		EnableTTS: p.enableTTS,
	})
	p.metrics.NLUDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return types.VoiceResult{}, fmt.Errorf("pipeline: remote: %w", err)
	}
	res = nlu.Normalize(res, u.Text, respond.Respond(types.IntentUnknown, nil))
	res.Tier = types.TierRemote
	return res, nil
}

// processEnhanced runs the local tier. A panic in a collaborator is
// reported as an error so the keyword tier can take over.
func (p *Pipeline) processEnhanced(ctx context.Context, u types.Utterance) (res types.VoiceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: enhanced: panic: %v", r)
		}
	}()
	if p.analyzer == nil || p.responder == nil {
		return types.VoiceResult{}, errors.New("pipeline: enhanced: matcher or synthesizer not configured")
	}

	intent, entities := p.analyzer.Analyze(u.Text)
	reply, err := p.responder.RespondWithAction(ctx, u.Text, intent, entities)
	if err != nil {
		return types.VoiceResult{}, fmt.Errorf("pipeline: enhanced: %w", err)
	}
	text := reply.Text
	if text == "" {
		text = respond.Respond(intent, entities)
	}
	if entities == nil {
		entities = []types.Entity{}
	}
	return types.VoiceResult{
		Transcript:             u.Text,
		Intent:                 types.ParseIntent(string(intent)),
		Entities:               entities,
		Confidence:             reply.Confidence,
		ResponseText:           text,
		ProcessingTimeMS:       enhancedProcessingMS,
		ProductRecommendations: reply.Recommendations,
		Tier:                   types.TierEnhanced,
	}, nil
}

// mockKeywords is checked in order; the first intent with a keyword
// contained in the lowercased text wins.
var mockKeywords = []struct {
	intent   types.Intent
	keywords []string
}{
	{types.IntentCreateOrder, []string{"đặt", "mua", "order"}},
	{types.IntentCancelOrder, []string{"hủy", "cancel"}},
	{types.IntentCheckOrderStatus, []string{"kiểm tra", "trạng thái", "status"}},
	{types.IntentGetProductInfo, []string{"thông tin", "giá", "info", "price"}},
	{types.IntentGreeting, []string{"chào", "hello", "hi"}},
	{types.IntentGoodbye, []string{"tạm biệt", "bye"}},
}

func mockIntent(text string) types.Intent {
	lower := strings.ToLower(text)
	for _, k := range mockKeywords {
		for _, kw := range k.keywords {
			if strings.Contains(lower, kw) {
				return k.intent
			}
		}
	}
	return types.IntentUnknown
}

func processMock(u types.Utterance) types.VoiceResult {
	intent := mockIntent(u.Text)
	return types.VoiceResult{
		Transcript:       u.Text,
		Intent:           intent,
		Entities:         []types.Entity{},
		Confidence:       mockConfidence,
		ResponseText:     respond.Respond(intent, nil),
		ProcessingTimeMS: mockProcessingMS,
		Tier:             types.TierMock,
	}
}
