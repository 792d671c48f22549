// Package mock provides test doubles for the audio.Microphone and
// audio.Player interfaces.
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/figuro/voice/pkg/audio"
)

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Player     = (*Player)(nil)
)

// Microphone replays scripted frames.
type Microphone struct {
	mu sync.Mutex

	// Frames are returned by successive Read calls. After the last frame
	// Read delivers 10ms of silence at a time until the stream is closed,
	// like an idle device.
	Frames [][]byte
	// StreamFormat is reported by the stream. Defaults to audio.SpeechFormat.
	StreamFormat audio.Format
	// OpenErr, if set, is returned by Open.
	OpenErr error
	// ReadErr, if set, is returned by Read once the frames are used up.
	ReadErr error

	// OpenCalls counts Open calls; Closed counts closed streams.
	OpenCalls int
	Closed    int
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, _ audio.Format) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	f := m.StreamFormat
	if f.SampleRate == 0 {
		f = audio.SpeechFormat
	}
	return &stream{mic: m, frames: append([][]byte(nil), m.Frames...), format: f, done: make(chan struct{})}, nil
}

// ClosedCount returns how many streams were closed.
func (m *Microphone) ClosedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

type stream struct {
	mic    *Microphone
	frames [][]byte
	format audio.Format
	done   chan struct{}
	once   sync.Once
}

func (s *stream) Read() ([]byte, error) {
	select {
	case <-s.done:
		return nil, audio.ErrStreamClosed
	default:
	}
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		return f, nil
	}
	s.mic.mu.Lock()
	err := s.mic.ReadErr
	s.mic.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case <-s.done:
	case <-time.After(10 * time.Millisecond):
		// Emulate an idle device delivering silence.
		return make([]byte, s.format.BytesPer(10*time.Millisecond)), nil
	}
	return nil, audio.ErrStreamClosed
}

func (s *stream) Format() audio.Format { return s.format }

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.mic.mu.Lock()
		s.mic.Closed++
		s.mic.mu.Unlock()
	})
	return nil
}

// PlayCall records one Play invocation.
type PlayCall struct {
	Data     []byte
	Encoding audio.Encoding
}

// Player records clips instead of playing them.
type Player struct {
	mu sync.Mutex

	// Err, if set, is returned by Play.
	Err error
	// Block makes Play wait until Stop is called or ctx is done.
	Block bool

	Calls     []PlayCall
	StopCalls int

	stop chan struct{}
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, r io.Reader, enc audio.Encoding) error {
	data, _ := io.ReadAll(r)
	p.mu.Lock()
	p.Calls = append(p.Calls, PlayCall{Data: data, Encoding: enc})
	err, block := p.Err, p.Block
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if block {
		select {
		case <-stop:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop implements [audio.Player].
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCalls++
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

// PlayCount returns the number of Play calls.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
