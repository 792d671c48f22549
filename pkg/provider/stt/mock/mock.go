// Package mock provides test doubles for the stt.Recognizer and
// stt.Transcriber interfaces.
//
// Example:
//
//	r := &mock.Recognizer{Texts: []string{"xin chào", "tôi muốn mua Goku"}}
//	text, _ := r.Recognize(ctx, types.LangVietnamese) // "xin chào"
package mock

import (
	"context"
	"sync"

	"github.com/figuro/voice/pkg/audio"
	"github.com/figuro/voice/pkg/provider/stt"
	"github.com/figuro/voice/pkg/types"
)

var (
	_ stt.Recognizer  = (*Recognizer)(nil)
	_ stt.Transcriber = (*Transcriber)(nil)
)

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Texts are returned by successive Recognize calls. Once exhausted,
	// Recognize returns stt.ErrNoSpeech.
	Texts []string
	// Err, if non-nil, is returned by every call.
	Err error
	// Block makes Recognize wait until ctx is done.
	Block bool

	// Calls records the language of every Recognize call.
	Calls []types.Language
}

// Recognize implements [stt.Recognizer].
func (r *Recognizer) Recognize(ctx context.Context, lang types.Language) (string, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, lang)
	block, err := r.Block, r.Err
	var text string
	if err == nil && !block {
		if len(r.Texts) == 0 {
			err = stt.ErrNoSpeech
		} else {
			text, r.Texts = r.Texts[0], r.Texts[1:]
		}
	}
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return text, err
}

// CallCount returns the number of Recognize calls so far.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// TranscribeCall records a single Transcribe invocation.
type TranscribeCall struct {
	PCM      []byte
	Format   audio.Format
	Language types.Language
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string
	// Err, if non-nil, is returned instead of Text.
	Err error

	// Calls records every Transcribe invocation.
	Calls []TranscribeCall
}

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(_ context.Context, pcm []byte, f audio.Format, lang types.Language) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, TranscribeCall{PCM: append([]byte(nil), pcm...), Format: f, Language: lang})
	if t.Err != nil {
		return "", t.Err
	}
	return t.Text, nil
}
