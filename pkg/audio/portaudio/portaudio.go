// Package portaudio captures microphone audio through PortAudio.
package portaudio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/figuro/voice/pkg/audio"
)

var _ audio.Microphone = (*Microphone)(nil)

// DefaultFrame is the capture period of one frame.
const DefaultFrame = 20 * time.Millisecond

// Microphone opens the default PortAudio input device.
type Microphone struct {
	frame time.Duration
}

// Option configures a [Microphone].
type Option func(*Microphone)

// WithFrameDuration sets the capture period. Default 20ms.
func WithFrameDuration(d time.Duration) Option {
	return func(m *Microphone) { m.frame = d }
}

// New returns a Microphone. PortAudio is initialised per stream, so
// constructing one does not touch the device.
func New(opts ...Option) *Microphone {
	m := &Microphone{frame: DefaultFrame}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open implements [audio.Microphone]. Only mono capture is requested; the
// sample rate falls back to the device default when the requested one is
// rejected.
func (m *Microphone) Open(ctx context.Context, want audio.Format) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	s, err := m.open(want.SampleRate)
	if err != nil {
		dev, derr := portaudio.DefaultInputDevice()
		if derr != nil {
			_ = portaudio.Terminate()
			return nil, fmt.Errorf("portaudio: open %d Hz: %w", want.SampleRate, err)
		}
		s, err = m.open(int(dev.DefaultSampleRate))
		if err != nil {
			_ = portaudio.Terminate()
			return nil, fmt.Errorf("portaudio: open device default rate: %w", err)
		}
	}
	if err := s.stream.Start(); err != nil {
		_ = s.stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start: %w", err)
	}
	return s, nil
}

func (m *Microphone) open(rate int) (*stream, error) {
	n := int(int64(rate) * int64(m.frame) / int64(time.Second))
	buf := make([]int16, n)
	st, err := portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
	if err != nil {
		return nil, err
	}
	return &stream{
		stream: st,
		buf:    buf,
		format: audio.Format{SampleRate: rate, Channels: 1},
	}, nil
}

type stream struct {
	stream *portaudio.Stream
	buf    []int16
	format audio.Format

	mu     sync.Mutex
	closed bool
}

func (s *stream) Format() audio.Format { return s.format }

func (s *stream) Read() ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, audio.ErrStreamClosed
	}
	if err := s.stream.Read(); err != nil {
		return nil, fmt.Errorf("portaudio: read: %w", err)
	}
	return audio.Int16ToPCM16(s.buf), nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.Stop()
	err := s.stream.Close()
	_ = portaudio.Terminate()
	return err
}
