package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/figuro/voice/internal/config"
	"github.com/figuro/voice/internal/conversation"
	"github.com/figuro/voice/pkg/types"
)

type echoProcessor struct {
	mu    sync.Mutex
	texts []string
}

func (p *echoProcessor) Process(_ context.Context, u types.Utterance) types.VoiceResult {
	p.mu.Lock()
	p.texts = append(p.texts, u.Text)
	p.mu.Unlock()
	return types.VoiceResult{
		Transcript:             u.Text,
		Intent:                 types.IntentGetProductInfo,
		Confidence:             0.9,
		ResponseText:           "Trả lời: " + u.Text,
		ProductRecommendations: []string{"Nendoroid Miku"},
	}
}

func (p *echoProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

type silentSpeech struct{}

func (silentSpeech) StartListening(context.Context, func(string), func(error), types.Language) error {
	return nil
}
func (silentSpeech) StopListening()                                               {}
func (silentSpeech) Speak(context.Context, string, types.Language, float64) error { return nil }
func (silentSpeech) StopSpeaking()                                                {}
func (silentSpeech) PlayAudio(context.Context, string) error                      { return nil }

// micSpeech counts capture calls and can deliver a transcript.
type micSpeech struct {
	silentSpeech
	mu         sync.Mutex
	transcript string
	starts     int
	stops      int
}

func (s *micSpeech) StartListening(_ context.Context, onResult func(string), _ func(error), _ types.Language) error {
	s.mu.Lock()
	s.starts++
	text := s.transcript
	s.mu.Unlock()
	if text != "" {
		onResult(text)
	}
	return nil
}

func (s *micSpeech) StopListening() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *micSpeech) counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

func runChat(t *testing.T, input string, opts ...conversation.Option) (string, *echoProcessor) {
	t.Helper()
	proc := &echoProcessor{}
	opts = append([]conversation.Option{conversation.WithVoiceOutput(false)}, opts...)
	m := conversation.New(proc, silentSpeech{}, opts...)

	var out bytes.Buffer
	if err := newChat(m, strings.NewReader(input), &out).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return out.String(), proc
}

func TestChat_Commands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantOut   []string
		wantTexts []string
	}{
		{
			name:      "text input",
			input:     "Tôi muốn mua figure\n/quit\n",
			wantOut:   []string{conversation.WelcomeText, "Figuro: Trả lời: Tôi muốn mua figure", "↳ Nendoroid Miku"},
			wantTexts: []string{"Tôi muốn mua figure"},
		},
		{
			name:      "quick action",
			input:     "/actions\n/2\n",
			wantOut:   []string{"/1  Tìm sản phẩm", "/4  Hỗ trợ tùy chỉnh"},
			wantTexts: []string{"Kiểm tra trạng thái đơn hàng của tôi"},
		},
		{
			name:      "helpers",
			input:     "/product Nendoroid Miku\n/order DH123\n/recommend\n",
			wantTexts: []string{
				"Cho tôi biết thông tin về sản phẩm Nendoroid Miku",
				"Kiểm tra trạng thái đơn hàng DH123",
				"Gợi ý sản phẩm cho tôi",
			},
		},
		{
			name:    "invalid commands",
			input:   "/product\n/9\n/bogus\n/lang xx\n",
			wantOut: []string{"Cần tên sản phẩm", "Lệnh không hợp lệ: /9", "Lệnh không hợp lệ: /bogus", `Ngôn ngữ không hỗ trợ: "xx"`},
		},
		{
			name:    "language",
			input:   "/lang en-US\n",
			wantOut: []string{"Ngôn ngữ: en-US"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, proc := runChat(t, tt.input)
			for _, want := range tt.wantOut {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			got := proc.seen()
			if len(got) != len(tt.wantTexts) {
				t.Fatalf("processed %v, want %v", got, tt.wantTexts)
			}
			for i := range got {
				if got[i] != tt.wantTexts[i] {
					t.Errorf("processed[%d] = %q, want %q", i, got[i], tt.wantTexts[i])
				}
			}
		})
	}
}

func TestChat_FirstUseHint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mirror := conversation.NewFileMirror(filepath.Join(dir, "history.json"), filepath.Join(dir, "seen"))

	out, _ := runChat(t, "", conversation.WithMirror(mirror))
	if !strings.Contains(out, firstUseHint) {
		t.Errorf("first run missing hint:\n%s", out)
	}
	out, _ = runChat(t, "", conversation.WithMirror(mirror))
	if strings.Contains(out, firstUseHint) {
		t.Errorf("second run repeated hint:\n%s", out)
	}
}

func TestChat_CancelledContext(t *testing.T) {
	t.Parallel()

	m := conversation.New(&echoProcessor{}, silentSpeech{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := io.Pipe()
	defer w.Close()
	if err := newChat(m, r, &bytes.Buffer{}).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		NLU: []config.ProviderEntry{{Name: "remote"}, {Name: "openai"}},
	}}
	config.ApplyDefaults(cfg)

	var out bytes.Buffer
	printStartupSummary(&out, cfg)
	for _, want := range []string{"remote → openai", "(not configured)", "vi-VN", "memory"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"binary": "espeak-ng", "timeout": "5s", "bad": "soon", "max_retries": 3}
	if got := optString(opts, "binary"); got != "espeak-ng" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(nil, "binary"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if got := optDuration(opts, "timeout"); got.Seconds() != 5 {
		t.Errorf("optDuration = %v", got)
	}
	if got := optDuration(opts, "bad"); got != 0 {
		t.Errorf("optDuration(bad) = %v", got)
	}
	if n, ok := optInt(opts, "max_retries"); !ok || n != 3 {
		t.Errorf("optInt = %d, %v", n, ok)
	}
}

func TestBuildProviders_Chains(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Voice: config.VoiceConfig{APIBaseURL: "http://localhost:8000"},
		Providers: config.ProvidersConfig{
			NLU: []config.ProviderEntry{{Name: "remote"}, {Name: "nope"}},
			TTS: []config.ProviderEntry{{Name: "remote"}},
		},
	}
	config.ApplyDefaults(cfg)
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	ps, err := buildProviders(cfg, reg, false)
	if err != nil {
		t.Fatalf("buildProviders() error: %v", err)
	}
	if ps.NLU == nil || ps.TTS == nil {
		t.Fatal("expected NLU and TTS chains")
	}
	if ps.Health == nil {
		t.Error("expected a health probe from the remote NLU provider")
	}
	if ps.Recognizer != nil || ps.Player != nil {
		t.Error("audio providers built without audio")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in).String(); got != tt.want {
			t.Errorf("slogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestChat_Listen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		transcript string
		wantStarts int
		wantOut    []string
		wantTexts  []string
	}{
		{
			name:       "toggle microphone",
			input:      "/listen\n/listen\n/quit\n",
			wantStarts: 1,
			wantOut:    []string{"Đang nghe…", "Đã tắt micro."},
		},
		{
			name:       "voice transcript submitted",
			input:      "/listen\n/quit\n",
			transcript: "xin chào",
			wantStarts: 1,
			wantOut:    []string{"Figuro: Trả lời: xin chào"},
			wantTexts:  []string{"xin chào"},
		},
		{
			name:    "slash only toggles the session",
			input:   "/\n/\n/quit\n",
			wantOut: []string{conversation.WelcomeText},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			proc := &echoProcessor{}
			sp := &micSpeech{transcript: tt.transcript}
			m := conversation.New(proc, sp, conversation.WithVoiceOutput(false))
			var out bytes.Buffer
			if err := newChat(m, strings.NewReader(tt.input), &out).Run(context.Background()); err != nil {
				t.Fatalf("Run() error: %v", err)
			}

			if starts, _ := sp.counts(); starts != tt.wantStarts {
				t.Errorf("StartListening calls = %d, want %d", starts, tt.wantStarts)
			}
			for _, want := range tt.wantOut {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
			if got := proc.seen(); len(got) != len(tt.wantTexts) {
				t.Errorf("processed %v, want %v", got, tt.wantTexts)
			}
		})
	}
}
