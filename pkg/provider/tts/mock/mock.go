// Package mock provides test doubles for the tts.Provider and tts.LocalVoice
// interfaces.
//
// Example:
//
//	p := &mock.Provider{AudioURL: "/static/a.mp3"}
//	v := &mock.LocalVoice{}
package mock

import (
	"context"
	"sync"

	"github.com/figuro/voice/pkg/provider/tts"
)

var (
	_ tts.Provider   = (*Provider)(nil)
	_ tts.LocalVoice = (*LocalVoice)(nil)
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// AudioURL is returned by Synthesize.
	AudioURL string
	// Err, if non-nil, is returned instead of AudioURL.
	Err error

	// Calls records every request passed to Synthesize.
	Calls []tts.Request
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(_ context.Context, req tts.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return "", p.Err
	}
	return p.AudioURL, nil
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LocalVoice is a mock implementation of tts.LocalVoice.
type LocalVoice struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Say.
	Err error
	// Block makes Say wait until ctx is done.
	Block bool

	// Calls records every request passed to Say.
	Calls []tts.Request
}

// Say implements [tts.LocalVoice].
func (v *LocalVoice) Say(ctx context.Context, req tts.Request) error {
	v.mu.Lock()
	v.Calls = append(v.Calls, req)
	err, block := v.Err, v.Block
	v.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// CallCount returns the number of Say calls.
func (v *LocalVoice) CallCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.Calls)
}
