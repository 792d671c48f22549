package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the data point whose attribute key equals
// value, and whether such a point exists.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(Attr(key, "").Key); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestHistograms(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPipeline(ctx, "remote", 120*time.Millisecond)
	m.RecordPipeline(ctx, "remote", 80*time.Millisecond)
	m.NLUDuration.Record(ctx, 0.1)
	m.TTSDuration.Record(ctx, 0.2)
	m.STTDuration.Record(ctx, 0.3)
	m.HTTPRequestDuration.Record(ctx, 0.01)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want uint64
	}{
		{"figuro.pipeline.duration", 2},
		{"figuro.nlu.duration", 1},
		{"figuro.tts.duration", 1},
		{"figuro.stt.duration", 1},
		{"figuro.http.request.duration", 1},
	}
	for _, tc := range tests {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Errorf("metric %q not found", tc.name)
			continue
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 {
			t.Errorf("metric %q has no histogram data", tc.name)
			continue
		}
		if got := hist.DataPoints[0].Count; got != tc.want {
			t.Errorf("%s count = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRecordTier(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordTier(ctx, "remote", OutcomeError)
	m.RecordTier(ctx, "enhanced", OutcomeAccepted)
	m.RecordTier(ctx, "enhanced", OutcomeAccepted)

	rm := collect(t, reader)
	if got, ok := sumWhere(t, rm, "figuro.pipeline.tier", "outcome", OutcomeAccepted); !ok || got != 2 {
		t.Errorf("accepted = %d (found %v), want 2", got, ok)
	}
	if got, ok := sumWhere(t, rm, "figuro.pipeline.tier", "outcome", OutcomeError); !ok || got != 1 {
		t.Errorf("error = %d (found %v), want 1", got, ok)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "remote", "nlu", "ok")
	m.RecordBreakerTransition("remote", "open")
	m.RecordTurn(ctx, "user")
	m.RecordTurn(ctx, "user")
	m.RecordStoreOp(ctx, "append", nil)
	m.RecordStoreOp(ctx, "append", errors.New("down"))
	m.ActiveSessions.Add(ctx, 1)

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"figuro.provider.requests", "provider", "remote", 1},
		{"figuro.breaker.transitions", "state", "open", 1},
		{"figuro.conversation.turns", "role", "user", 2},
		{"figuro.context_store.ops", "status", "ok", 1},
		{"figuro.context_store.ops", "status", "error", 1},
	}
	for _, tc := range tests {
		got, ok := sumWhere(t, rm, tc.metric, tc.key, tc.value)
		if !ok || got != tc.want {
			t.Errorf("%s{%s=%s} = %d (found %v), want %d", tc.metric, tc.key, tc.value, got, ok, tc.want)
		}
	}

	met := findMetric(rm, "figuro.active_sessions")
	if met == nil {
		t.Fatal("active sessions not found")
	}
	if sum := met.Data.(metricdata.Sum[int64]); len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions = %+v, want 1", sum.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
