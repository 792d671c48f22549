// Package nlu defines the Provider interface for remote natural-language
// understanding backends.
//
// A Provider takes typed or transcribed text and returns a complete
// [types.VoiceResult]: intent, entities, confidence and the reply text,
// optionally with a synthesized audio URL. The processing pipeline treats a
// Provider as its first tier and falls back to local matching whenever the
// call fails or comes back unsure.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
package nlu

import (
	"context"

	"github.com/figuro/voice/pkg/types"
)

// Request is one text-processing call.
type Request struct {
	Text     string
	Language types.Language
	// EnableTTS asks the backend to synthesize the reply and return its
	// audio URL.
	EnableTTS bool
}

// Provider is the abstraction over any remote NLU backend.
type Provider interface {
	// Process classifies req.Text and produces a reply. Implementations
	// return an error for transport failures and malformed responses; an
	// unsure classification is reported through the result's Intent and
	// Confidence, not as an error.
	Process(ctx context.Context, req Request) (types.VoiceResult, error)
}

// LanguageLister is implemented by providers that can report the languages
// they accept.
type LanguageLister interface {
	SupportedLanguages(ctx context.Context) []types.SupportedLanguage
}

// Normalize fills the fields a backend left empty, the way every caller of
// the voice service expects: transcript defaults to the input text, intent
// to unknown, confidence to 0.8, reply text to fallbackReply and processing
// time to 100ms. Unknown intents are mapped to [types.IntentUnknown].
func Normalize(r types.VoiceResult, text, fallbackReply string) types.VoiceResult {
	if r.Transcript == "" {
		r.Transcript = text
	}
	r.Intent = types.ParseIntent(string(r.Intent))
	if r.Entities == nil {
		r.Entities = []types.Entity{}
	}
	if r.Confidence == 0 {
		r.Confidence = 0.8
	}
	if r.ResponseText == "" {
		r.ResponseText = fallbackReply
	}
	if r.ProcessingTimeMS == 0 {
		r.ProcessingTimeMS = 100
	}
	return r
}
