// Package native implements stt.Recognizer on top of a local microphone and
// an stt.Transcriber.
//
// Capture starts immediately. Leading silence is discarded; once speech
// has been heard, capture ends after a run of silence or when the utterance
// reaches its maximum length. The microphone is closed before the audio is
// sent for transcription.
package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/figuro/voice/pkg/audio"
	"github.com/figuro/voice/pkg/provider/stt"
	"github.com/figuro/voice/pkg/types"
)

var _ stt.Recognizer = (*Recognizer)(nil)

const (
	defaultRMSThreshold = 300.0
	defaultEndSilence   = 600 * time.Millisecond
	defaultMaxDuration  = 10 * time.Second
	defaultNoSpeech     = 8 * time.Second
)

// Recognizer captures one utterance per Recognize call.
type Recognizer struct {
	mic audio.Microphone
	tr  stt.Transcriber

	threshold  float64
	endSilence time.Duration
	maxLen     time.Duration
	noSpeech   time.Duration
	log        *slog.Logger
}

// Option configures a [Recognizer].
type Option func(*Recognizer)

// WithRMSThreshold sets the frame energy, in 16-bit sample units, above
// which a frame counts as speech. Default 300.
func WithRMSThreshold(v float64) Option {
	return func(r *Recognizer) { r.threshold = v }
}

// WithEndSilence sets how much silence after speech ends the utterance.
// Default 600ms.
func WithEndSilence(d time.Duration) Option {
	return func(r *Recognizer) { r.endSilence = d }
}

// WithMaxDuration caps the captured utterance. Default 10s.
func WithMaxDuration(d time.Duration) Option {
	return func(r *Recognizer) { r.maxLen = d }
}

// WithNoSpeechTimeout sets how long to wait for speech to begin before
// giving up with [stt.ErrNoSpeech]. Default 8s.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.noSpeech = d }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recognizer) { r.log = l }
}

// New returns a Recognizer capturing from mic and transcribing with tr.
func New(mic audio.Microphone, tr stt.Transcriber, opts ...Option) (*Recognizer, error) {
	if mic == nil || tr == nil {
		return nil, errors.New("native: microphone and transcriber are required")
	}
	r := &Recognizer{
		mic:        mic,
		tr:         tr,
		threshold:  defaultRMSThreshold,
		endSilence: defaultEndSilence,
		maxLen:     defaultMaxDuration,
		noSpeech:   defaultNoSpeech,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize implements [stt.Recognizer].
func (r *Recognizer) Recognize(ctx context.Context, lang types.Language) (string, error) {
	in, err := r.mic.Open(ctx, audio.SpeechFormat)
	if err != nil {
		return "", fmt.Errorf("native: open microphone: %w", err)
	}
	pcm, format, err := r.capture(ctx, in)
	_ = in.Close()
	if err != nil {
		return "", err
	}

	speech := audio.ToSpeech(pcm, format)
	r.log.Debug("native: utterance captured", "duration", audio.SpeechFormat.Duration(len(speech)))
	text, err := r.tr.Transcribe(ctx, speech, audio.SpeechFormat, lang)
	if err != nil {
		return "", fmt.Errorf("native: transcribe: %w", err)
	}
	if text == "" {
		return "", stt.ErrNoSpeech
	}
	return text, nil
}

// capture reads frames until the utterance is complete.
func (r *Recognizer) capture(ctx context.Context, in audio.InputStream) ([]byte, audio.Format, error) {
	f := in.Format()
	var (
		buf      []byte
		speaking bool
		silence  time.Duration
		waited   time.Duration
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, f, err
		}
		frame, err := in.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil, f, ctx.Err()
			}
			return nil, f, fmt.Errorf("native: read microphone: %w", err)
		}
		d := f.Duration(len(frame))

		switch {
		case audio.RMS(frame) >= r.threshold:
			speaking = true
			silence = 0
			buf = append(buf, frame...)
		case speaking:
			silence += d
			buf = append(buf, frame...)
			if silence >= r.endSilence {
				return buf, f, nil
			}
		default:
			waited += d
			if waited >= r.noSpeech {
				return nil, f, stt.ErrNoSpeech
			}
		}
		if speaking && f.Duration(len(buf)) >= r.maxLen {
			return buf, f, nil
		}
	}
}
