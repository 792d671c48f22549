// Package tts defines the speech synthesis interfaces used by the voice
// client.
//
// A [Provider] is a remote service that turns text into a playable audio
// clip and returns its URL. A [LocalVoice] speaks text directly on the host
// and is the last resort when no remote clip can be played.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/figuro/voice/pkg/types"
)

// Request describes one utterance to synthesize.
type Request struct {
	Text     string
	Language types.Language
	// Rate is the speaking speed, 1.0 being normal. Zero means 1.0.
	Rate float64
}

// EffectiveRate returns Rate, or 1.0 when unset.
func (r Request) EffectiveRate() float64 {
	if r.Rate <= 0 {
		return 1.0
	}
	return r.Rate
}

// Provider synthesizes speech remotely.
type Provider interface {
	// Synthesize returns the URL of an audio clip speaking req.Text. The URL
	// may be relative to the service base.
	Synthesize(ctx context.Context, req Request) (audioURL string, err error)
}

// LocalVoice speaks text on the local audio device. Say blocks until the
// utterance finishes or ctx is done.
type LocalVoice interface {
	Say(ctx context.Context, req Request) error
}
