package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/figuro/voice/pkg/audio"
	"github.com/figuro/voice/pkg/types"
)

func TestBuildURL(t *testing.T) {
	t.Parallel()

	c, err := New("key", WithModel("nova-3"))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := c.buildURL(audio.Format{SampleRate: 48000, Channels: 1}, types.LangVietnamese)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	want := map[string]string{
		"model":       "nova-3",
		"language":    "vi",
		"encoding":    "linear16",
		"sample_rate": "48000",
		"channels":    "1",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestParseResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
		want string
		ok   bool
	}{
		{"final", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" xin chào ","confidence":0.9}]}}`, "xin chào", true},
		{"interim", `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"xin"}]}}`, "", false},
		{"metadata", `{"type":"Metadata"}`, "", false},
		{"empty transcript", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`, "", false},
		{"garbage", `nope`, "", false},
	}
	for _, tc := range tests {
		got, ok := parseResult([]byte(tc.msg))
		if got != tc.want || ok != tc.ok {
			t.Errorf("%s: parseResult = %q, %v; want %q, %v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var audioBytes atomic.Int64
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				audioBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"kiểm tra đơn hàng"}]}}`))
				_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"FG1001"}]}}`))
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	pcm := make([]byte, audio.SpeechFormat.BytesPer(250*time.Millisecond))
	text, err := c.Transcribe(context.Background(), pcm, audio.SpeechFormat, types.LangVietnamese)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "kiểm tra đơn hàng FG1001" {
		t.Errorf("text = %q", text)
	}
	if got := audioBytes.Load(); got != int64(len(pcm)) {
		t.Errorf("server received %d bytes, want %d", got, len(pcm))
	}
	if got, _ := auth.Load().(string); got != "Token secret" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}
