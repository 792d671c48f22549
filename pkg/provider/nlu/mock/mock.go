// Package mock provides a test double for the nlu.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: types.VoiceResult{Intent: types.IntentGreeting, Confidence: 0.9}}
//	res, _ := p.Process(ctx, nlu.Request{Text: "xin chào"})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/figuro/voice/pkg/provider/nlu"
	"github.com/figuro/voice/pkg/types"
)

var _ nlu.Provider = (*Provider)(nil)

// Provider is a mock implementation of nlu.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Process.
	Result types.VoiceResult
	// Err, if non-nil, is returned by Process instead of Result.
	Err error
	// Delay, if positive, makes Process wait before answering or until ctx
	// is done.
	Delay time.Duration
	// Func, if set, overrides Result and Err.
	Func func(ctx context.Context, req nlu.Request) (types.VoiceResult, error)

	// Calls records every request passed to Process.
	Calls []nlu.Request
}

// Process implements [nlu.Provider].
func (p *Provider) Process(ctx context.Context, req nlu.Request) (types.VoiceResult, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	res, err, delay, fn := p.Result, p.Err, p.Delay, p.Func
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return types.VoiceResult{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return types.VoiceResult{}, err
	}
	return res, nil
}

// CallCount returns the number of Process calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
