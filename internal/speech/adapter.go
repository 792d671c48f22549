// Package speech owns the microphone and the audio output of the voice
// client.
//
// An [Adapter] runs at most one recognition and at most one speech
// operation at a time. Stop calls are immediate and never block. Every exit
// path of an operation releases the device it used.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/figuro/voice/internal/observe"
	"github.com/figuro/voice/pkg/audio"
	"github.com/figuro/voice/pkg/provider/stt"
	"github.com/figuro/voice/pkg/provider/tts"
	"github.com/figuro/voice/pkg/types"
)

// ErrAlreadyListening is returned by [Adapter.StartListening] while a
// recognition is in progress.
var ErrAlreadyListening = errors.New("Already listening")

// ErrNoOutput is returned by [Adapter.PlayAudio] when no player is configured.
var ErrNoOutput = errors.New("speech: no audio output device")

// Adapter wraps recognition, synthesis and playback.
type Adapter struct {
	rec    stt.Recognizer
	tts    tts.Provider
	voice  tts.LocalVoice
	player audio.Player

	apiBase    *url.URL
	httpClient *http.Client
	metrics    *observe.Metrics
	log        *slog.Logger

	mu            sync.Mutex
	listenCancel  context.CancelFunc
	listenDone    chan struct{}
	listenStopped bool
	listenGen     uint64
	speakCancel   context.CancelFunc
	speakGen      uint64
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithSynthesizer sets the remote speech synthesizer.
func WithSynthesizer(p tts.Provider) Option {
	return func(a *Adapter) { a.tts = p }
}

// WithLocalVoice sets the local fallback voice.
func WithLocalVoice(v tts.LocalVoice) Option {
	return func(a *Adapter) { a.voice = v }
}

// WithPlayer sets the audio output.
func WithPlayer(p audio.Player) Option {
	return func(a *Adapter) { a.player = p }
}

// WithAPIBase sets the base URL that relative audio URLs resolve against.
func WithAPIBase(u *url.URL) Option {
	return func(a *Adapter) { a.apiBase = u }
}

// WithHTTPClient replaces the client used to fetch audio clips.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// WithMetrics records recognition and synthesis latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// New returns an Adapter recognizing speech with rec. Use the unsupported
// recognizer on devices without a microphone.
func New(rec stt.Recognizer, opts ...Option) *Adapter {
	a := &Adapter{
		rec:        rec,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Supported always reports true. Devices that cannot recognize speech
// still run in text-only mode and report the problem on StartListening.
func (a *Adapter) Supported() bool { return true }

// StartListening begins one recognition in the background and returns
// immediately. Exactly one of onResult or onError is called when it ends,
// unless it was stopped with [Adapter.StopListening] or ctx was cancelled.
// A recognition that was stopped but has not yet released the microphone
// is waited for.
func (a *Adapter) StartListening(ctx context.Context, onResult func(string), onError func(error), lang types.Language) error {
	a.mu.Lock()
	for a.listenCancel != nil {
		if !a.listenStopped {
			a.mu.Unlock()
			return ErrAlreadyListening
		}
		prev := a.listenDone
		a.mu.Unlock()
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
		a.mu.Lock()
	}
	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.listenGen++
	gen := a.listenGen
	a.listenCancel = cancel
	a.listenDone = done
	a.listenStopped = false
	a.mu.Unlock()

	go func() {
		start := time.Now()
		text, err := a.rec.Recognize(lctx, lang)
		a.endListening(gen)
		close(done)
		stopped := lctx.Err() != nil
		cancel()

		if a.metrics != nil {
			a.metrics.STTDuration.Record(context.Background(), time.Since(start).Seconds(),
				metric.WithAttributes(observe.Attr("language", string(lang))))
		}
		switch {
		case stopped:
			a.log.Debug("speech: listening stopped")
		case err != nil:
			if onError != nil {
				onError(err)
			}
		case onResult != nil:
			onResult(text)
		}
	}()
	return nil
}

func (a *Adapter) endListening(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listenGen == gen {
		a.listenCancel = nil
		a.listenStopped = false
	}
}

// Listening reports whether a recognition holds the microphone. It stays
// true after [Adapter.StopListening] until the device is released.
func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listenCancel != nil
}

// StopListening cancels the current recognition without waiting for it to
// release the microphone. It is a no-op when idle.
func (a *Adapter) StopListening() {
	a.mu.Lock()
	cancel := a.listenCancel
	if cancel != nil {
		a.listenStopped = true
	}
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Speak voices text and blocks until it has been spoken or stopped. The
// remote synthesizer is tried first; any failure there falls back to the
// local voice. Local failures are logged and swallowed.
func (a *Adapter) Speak(ctx context.Context, text string, lang types.Language, rate float64) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	sctx, done := a.beginSpeaking(ctx)
	defer done()

	req := tts.Request{Text: text, Language: lang, Rate: rate}
	if a.tts != nil {
		err := a.speakRemote(sctx, req)
		if err == nil || sctx.Err() != nil {
			return nil
		}
		a.log.Warn("speech: remote synthesis failed, using local voice", "err", err)
	}
	if a.voice == nil {
		return nil
	}
	if err := a.voice.Say(sctx, req); err != nil && sctx.Err() == nil {
		a.log.Debug("speech: local voice failed", "err", err)
	}
	return nil
}

func (a *Adapter) speakRemote(ctx context.Context, req tts.Request) error {
	start := time.Now()
	audioURL, err := a.tts.Synthesize(ctx, req)
	if a.metrics != nil {
		a.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("language", string(req.Language))))
	}
	if err != nil {
		return err
	}
	return a.play(ctx, audioURL)
}

// PlayAudio fetches and plays the clip at rawURL, blocking until playback
// ends. Relative URLs resolve against the API base; file:// URLs are read
// from disk. Playback errors are returned to the caller.
func (a *Adapter) PlayAudio(ctx context.Context, rawURL string) error {
	sctx, done := a.beginSpeaking(ctx)
	defer done()
	return a.play(sctx, rawURL)
}

// StopSpeaking interrupts playback and the local voice. It is a no-op when
// nothing is being spoken.
func (a *Adapter) StopSpeaking() {
	a.mu.Lock()
	cancel := a.speakCancel
	a.speakCancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if a.player != nil {
		a.player.Stop()
	}
}

// Speaking reports whether speech or playback is in progress.
func (a *Adapter) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speakCancel != nil
}

// beginSpeaking registers a new speech operation, interrupting any current
// one. The returned func must be called when the operation ends.
func (a *Adapter) beginSpeaking(ctx context.Context) (context.Context, func()) {
	sctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	prev := a.speakCancel
	a.speakGen++
	gen := a.speakGen
	a.speakCancel = cancel
	a.mu.Unlock()
	if prev != nil {
		prev()
	}
	return sctx, func() {
		a.mu.Lock()
		if a.speakGen == gen {
			a.speakCancel = nil
		}
		a.mu.Unlock()
		cancel()
	}
}

func (a *Adapter) play(ctx context.Context, rawURL string) error {
	if a.player == nil {
		return ErrNoOutput
	}
	u, err := a.resolve(rawURL)
	if err != nil {
		return err
	}
	body, enc, err := a.open(ctx, u)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := a.player.Play(ctx, body, enc); err != nil {
		return fmt.Errorf("speech: play %s: %w", u.Redacted(), err)
	}
	return nil
}

func (a *Adapter) resolve(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, errors.New("speech: empty audio url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("speech: parse audio url: %w", err)
	}
	if u.IsAbs() {
		return u, nil
	}
	if a.apiBase == nil {
		return nil, fmt.Errorf("speech: relative audio url %q without api base", rawURL)
	}
	return a.apiBase.ResolveReference(u), nil
}

func (a *Adapter) open(ctx context.Context, u *url.URL) (io.ReadCloser, audio.Encoding, error) {
	switch u.Scheme {
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, "", fmt.Errorf("speech: open audio file: %w", err)
		}
		return f, encodingFor(u.Path, ""), nil
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, "", fmt.Errorf("speech: create request: %w", err)
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("speech: GET %s: %w", u.Redacted(), err)
		}
		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			return nil, "", fmt.Errorf("speech: GET %s returned status %d", u.Redacted(), resp.StatusCode)
		}
		return resp.Body, encodingFor(u.Path, resp.Header.Get("Content-Type")), nil
	default:
		return nil, "", fmt.Errorf("speech: unsupported audio url scheme %q", u.Scheme)
	}
}

// encodingFor picks the decoder from the file extension, then the content
// type. MP3 is assumed otherwise.
func encodingFor(p, contentType string) audio.Encoding {
	switch strings.ToLower(path.Ext(p)) {
	case ".wav", ".wave":
		return audio.EncodingWAV
	case ".mp3":
		return audio.EncodingMP3
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return audio.EncodingWAV
	}
	return audio.EncodingMP3
}
