// Package audio defines the device-facing audio abstractions of the voice
// client: a [Microphone] that yields 16-bit PCM frames and a [Player] that
// plays an encoded clip to the speaker.
//
// Concrete devices live in subpackages (audio/portaudio, audio/player) so
// that code depending only on the interfaces does not link cgo audio
// libraries. Both interfaces transfer ownership of the device for the
// duration of a call: a stream must be closed and a playback must return
// before the device is used again.
package audio

import (
	"context"
	"errors"
	"io"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the format speech recognizers expect: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPer returns the number of 16-bit PCM bytes covering d.
func (f Format) BytesPer(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(f.Channels) * 2 * int64(d) / int64(time.Second))
}

// Duration returns the playing time of n bytes of 16-bit PCM.
func (f Format) Duration(n int) time.Duration {
	bps := f.SampleRate * f.Channels * 2
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// ErrStreamClosed is returned by [InputStream.Read] after Close.
var ErrStreamClosed = errors.New("audio: stream closed")

// Microphone opens capture streams on an input device.
type Microphone interface {
	// Open starts capturing from the default input device. Frames are
	// delivered as 16-bit little-endian PCM in the returned stream's
	// Format, which may differ from the requested one when the device
	// does not support it.
	Open(ctx context.Context, want Format) (InputStream, error)
}

// InputStream is an open capture stream. It is used by one goroutine.
type InputStream interface {
	// Read blocks until the next frame is available.
	Read() ([]byte, error)
	// Format is the actual format of the frames.
	Format() Format
	// Close stops capture and releases the device. It is idempotent.
	Close() error
}

// Encoding identifies the container of an encoded clip.
type Encoding string

const (
	EncodingMP3 Encoding = "mp3"
	EncodingWAV Encoding = "wav"
)

// Player plays encoded audio clips on the output device.
type Player interface {
	// Play decodes r and blocks until playback finishes, ctx is done or
	// Stop is called. Stopping is not an error.
	Play(ctx context.Context, r io.Reader, enc Encoding) error
	// Stop interrupts the current playback, if any.
	Stop()
}
