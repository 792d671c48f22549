package resilience

import (
	"context"

	"github.com/figuro/voice/pkg/provider/tts"
)

var _ tts.Provider = (*TTSFallback)(nil)

// TTSFallback implements [tts.Provider] over several remote synthesis
// backends, each behind its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// NewTTSFallback returns a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a lower-priority backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Backends returns the backend names in priority order.
func (f *TTSFallback) Backends() []string { return f.group.Names() }

// BreakerStates returns the breaker state per backend.
func (f *TTSFallback) BreakerStates() map[string]State { return f.group.States() }

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (string, error) {
		return p.Synthesize(ctx, req)
	})
}
