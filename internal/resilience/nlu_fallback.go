package resilience

import (
	"context"
	"slices"

	"github.com/figuro/voice/pkg/provider/nlu"
	"github.com/figuro/voice/pkg/types"
)

var (
	_ nlu.Provider       = (*NLUFallback)(nil)
	_ nlu.LanguageLister = (*NLUFallback)(nil)
)

// NLUFallback implements [nlu.Provider] over several remote NLU backends,
// each behind its own circuit breaker.
type NLUFallback struct {
	group *FallbackGroup[nlu.Provider]
}

// NewNLUFallback returns an [NLUFallback] with primary as the preferred
// backend.
func NewNLUFallback(primary nlu.Provider, primaryName string, cfg FallbackConfig) *NLUFallback {
	return &NLUFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a lower-priority backend.
func (f *NLUFallback) AddFallback(name string, p nlu.Provider) {
	f.group.AddFallback(name, p)
}

// Backends returns the backend names in priority order.
func (f *NLUFallback) Backends() []string { return f.group.Names() }

// BreakerStates returns the breaker state per backend.
func (f *NLUFallback) BreakerStates() map[string]State { return f.group.States() }

// Process implements [nlu.Provider].
func (f *NLUFallback) Process(ctx context.Context, req nlu.Request) (types.VoiceResult, error) {
	return ExecuteWithResult(ctx, f.group, func(p nlu.Provider) (types.VoiceResult, error) {
		return p.Process(ctx, req)
	})
}

// SupportedLanguages asks the first backend that can list languages. Without
// one the built-in pair is returned.
func (f *NLUFallback) SupportedLanguages(ctx context.Context) []types.SupportedLanguage {
	for _, e := range f.group.entries {
		if l, ok := e.value.(nlu.LanguageLister); ok {
			return l.SupportedLanguages(ctx)
		}
	}
	return slices.Clone(types.DefaultLanguages)
}
