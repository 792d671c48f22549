// Package deepgram provides an stt.Transcriber backed by the Deepgram
// live-transcription WebSocket API.
//
// One utterance is streamed per connection: the PCM is sent in 100ms
// binary messages, a CloseStream control message asks Deepgram to flush,
// and the final results received before the server closes the socket are
// joined into the transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/figuro/voice/pkg/audio"
	"github.com/figuro/voice/pkg/provider/stt"
	"github.com/figuro/voice/pkg/types"
)

var _ stt.Transcriber = (*Client)(nil)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-2"
	chunkDuration   = 100 * time.Millisecond
)

// Client transcribes utterances with Deepgram.
type Client struct {
	apiKey   string
	model    string
	endpoint string
}

// Option configures a [Client].
type Option func(*Client)

// WithModel sets the Deepgram model. Default "nova-2", which covers
// Vietnamese.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithEndpoint overrides the WebSocket endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// New returns a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	c := &Client{apiKey: apiKey, model: defaultModel, endpoint: defaultEndpoint}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) buildURL(f audio.Format, lang types.Language) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", c.model)
	q.Set("language", stt.BaseLanguage(lang))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	q.Set("channels", strconv.Itoa(max(f.Channels, 1)))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type result struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResult returns the transcript of a final Results message.
func parseResult(data []byte) (string, bool) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil {
		return "", false
	}
	if r.Type != "Results" || !r.IsFinal || len(r.Channel.Alternatives) == 0 {
		return "", false
	}
	text := strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
	return text, text != ""
}

// Transcribe implements [stt.Transcriber].
func (c *Client) Transcribe(ctx context.Context, pcm []byte, f audio.Format, lang types.Language) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	wsURL, err := c.buildURL(f, lang)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	chunk := max(f.BytesPer(chunkDuration), 2)
	for off := 0; off < len(pcm); off += chunk {
		end := min(off+chunk, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if len(parts) > 0 {
				break
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		if text, ok := parseResult(msg); ok {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
