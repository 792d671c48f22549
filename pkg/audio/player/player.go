// Package player plays encoded speech clips on the default output device
// with beep.
package player

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"github.com/figuro/voice/pkg/audio"
)

var _ audio.Player = (*Player)(nil)

// DefaultSampleRate is the rate the speaker is opened at. Clips with other
// rates are resampled.
const DefaultSampleRate = beep.SampleRate(44100)

// Player plays one clip at a time. Starting a new clip stops the previous
// one. It is safe for concurrent use.
type Player struct {
	rate beep.SampleRate

	initOnce sync.Once
	initErr  error

	mu   sync.Mutex
	stop chan struct{}
}

// New returns a Player. The speaker is opened on first use.
func New() *Player {
	return &Player{rate: DefaultSampleRate}
}

func (p *Player) init() error {
	p.initOnce.Do(func() {
		if err := speaker.Init(p.rate, p.rate.N(time.Second/10)); err != nil {
			p.initErr = fmt.Errorf("player: init speaker: %w", err)
		}
	})
	return p.initErr
}

func decode(r io.Reader, enc audio.Encoding) (beep.StreamSeekCloser, beep.Format, error) {
	switch enc {
	case audio.EncodingMP3:
		return mp3.Decode(io.NopCloser(r))
	case audio.EncodingWAV:
		return wav.Decode(r)
	default:
		return nil, beep.Format{}, fmt.Errorf("player: unsupported encoding %q", enc)
	}
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, r io.Reader, enc audio.Encoding) error {
	if err := p.init(); err != nil {
		return err
	}
	s, format, err := decode(r, enc)
	if err != nil {
		return fmt.Errorf("player: decode %s: %w", enc, err)
	}
	defer s.Close()

	var stream beep.Streamer = s
	if format.SampleRate != p.rate {
		stream = beep.Resample(4, format.SampleRate, p.rate, s)
	}

	stop := make(chan struct{})
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
	}
	p.stop = stop
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.stop == stop {
			p.stop = nil
		}
		p.mu.Unlock()
	}()

	done := make(chan struct{})
	speaker.Clear()
	speaker.Play(beep.Seq(stream, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-stop:
		speaker.Clear()
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Stop implements [audio.Player].
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}
