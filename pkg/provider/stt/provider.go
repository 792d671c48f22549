// Package stt defines the speech-to-text abstractions of the voice client.
//
// A [Transcriber] turns one complete utterance of PCM audio into text; it is
// implemented by remote engines (whisper.cpp server, Deepgram). A
// [Recognizer] is the single-shot capability the speech adapter drives: it
// owns capture, decides when the user stopped talking and returns one
// transcript. stt/native builds a Recognizer from a microphone and a
// Transcriber; stt/unsupported is the Recognizer of devices without one.
package stt

import (
	"context"
	"errors"
	"strings"

	"github.com/figuro/voice/pkg/audio"
	"github.com/figuro/voice/pkg/types"
)

// ErrNoSpeech is returned when capture ended without any speech.
var ErrNoSpeech = errors.New("stt: no speech detected")

// Transcriber converts one utterance to text.
//
// Implementations must be safe for concurrent use.
type Transcriber interface {
	// Transcribe returns the text spoken in pcm, 16-bit little-endian PCM in
	// format f. An empty string means nothing intelligible was said.
	Transcribe(ctx context.Context, pcm []byte, f audio.Format, lang types.Language) (string, error)
}

// Recognizer captures and transcribes a single utterance.
type Recognizer interface {
	// Recognize blocks until one utterance has been transcribed, capture
	// fails or ctx is done. Device resources are released before it
	// returns.
	Recognize(ctx context.Context, lang types.Language) (string, error)
}

// BaseLanguage returns the primary subtag of lang ("vi" for "vi-VN"), the
// form most engines take.
func BaseLanguage(lang types.Language) string {
	base, _, _ := strings.Cut(string(lang), "-")
	return base
}
