// Package observe wires OpenTelemetry metrics and tracing for the Figuro
// voice service, plus the HTTP middleware and trace-aware logger that tie
// them to slog.
//
// Instruments live in [Metrics]. Production code uses [DefaultMetrics],
// which binds to the global meter provider installed by [InitProvider];
// tests build their own with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/figuro/voice"

// Pipeline tier outcomes recorded on [Metrics.PipelineTier].
const (
	OutcomeAccepted = "accepted"
	OutcomeWeak     = "weak"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// Metrics holds every instrument the service records.
type Metrics struct {
	// PipelineDuration is the end-to-end latency of one pipeline run, by
	// the tier that produced the result.
	PipelineDuration metric.Float64Histogram

	// PipelineTier counts tier attempts by tier and outcome.
	PipelineTier metric.Int64Counter

	// NLUDuration, TTSDuration and STTDuration track provider call latency.
	NLUDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram
	STTDuration metric.Float64Histogram

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by breaker
	// name and target state.
	BreakerTransitions metric.Int64Counter

	// ConversationTurns counts appended turns by role.
	ConversationTurns metric.Int64Counter

	// ActiveSessions is the number of open conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ContextStoreOps counts context store operations by op and status.
	ContextStoreOps metric.Int64Counter

	// HTTPRequestDuration tracks API latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.PipelineDuration, "figuro.pipeline.duration", "Latency of one utterance through the processing pipeline."},
		{&met.NLUDuration, "figuro.nlu.duration", "Latency of remote NLU calls."},
		{&met.TTSDuration, "figuro.tts.duration", "Latency of speech synthesis."},
		{&met.STTDuration, "figuro.stt.duration", "Latency of speech recognition."},
		{&met.HTTPRequestDuration, "figuro.http.request.duration", "HTTP request latency by method and route."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.PipelineTier, "figuro.pipeline.tier", "Pipeline tier attempts by tier and outcome."},
		{&met.ProviderRequests, "figuro.provider.requests", "Provider calls by provider, kind and status."},
		{&met.BreakerTransitions, "figuro.breaker.transitions", "Circuit breaker state changes by breaker and state."},
		{&met.ConversationTurns, "figuro.conversation.turns", "Conversation turns appended by role."},
		{&met.ContextStoreOps, "figuro.context_store.ops", "Context store operations by op and status."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("figuro.active_sessions",
		metric.WithDescription("Number of open conversation sessions."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] bound to
// [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTier counts one pipeline tier attempt.
func (m *Metrics) RecordTier(ctx context.Context, tier, outcome string) {
	m.PipelineTier.Add(ctx, 1, metric.WithAttributes(Attr("tier", tier), Attr("outcome", outcome)))
}

// RecordPipeline records the latency of a finished pipeline run.
func (m *Metrics) RecordPipeline(ctx context.Context, tier string, d time.Duration) {
	m.PipelineDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("tier", tier)))
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordBreakerTransition counts one breaker state change. Its signature
// matches the breaker's state-change hook once the state is stringified.
func (m *Metrics) RecordBreakerTransition(name, to string) {
	m.BreakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		Attr("breaker", name),
		Attr("state", to),
	))
}

// RecordTurn counts one appended conversation turn.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.ConversationTurns.Add(ctx, 1, metric.WithAttributes(Attr("role", role)))
}

// RecordStoreOp counts one context store operation.
func (m *Metrics) RecordStoreOp(ctx context.Context, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ContextStoreOps.Add(ctx, 1, metric.WithAttributes(Attr("op", op), Attr("status", status)))
}
