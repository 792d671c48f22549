package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/figuro/voice/internal/contextstore"
	"github.com/figuro/voice/internal/contextstore/memstore"
	"github.com/figuro/voice/internal/speech"
	"github.com/figuro/voice/pkg/types"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeProcessor returns Result, or blocks on Block until it is closed.
type fakeProcessor struct {
	mu     sync.Mutex
	Result types.VoiceResult
	Panic  bool
	Block  chan struct{}
	Calls  []types.Utterance
}

func (p *fakeProcessor) Process(_ context.Context, u types.Utterance) types.VoiceResult {
	p.mu.Lock()
	p.Calls = append(p.Calls, u)
	block, res, panics := p.Block, p.Result, p.Panic
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	if panics {
		panic("boom")
	}
	return res
}

func (p *fakeProcessor) calls() []types.Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Utterance(nil), p.Calls...)
}

// fakeSpeech records device calls and keeps the listening callbacks.
type fakeSpeech struct {
	mu        sync.Mutex
	ListenErr error
	PlayErr   error
	onResult  func(string)
	onError   func(error)
	played    []string
	spoken    []string
	stops     int
}

func (s *fakeSpeech) StartListening(_ context.Context, onResult func(string), onError func(error), _ types.Language) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListenErr != nil {
		return s.ListenErr
	}
	s.onResult, s.onError = onResult, onError
	return nil
}

func (s *fakeSpeech) StopListening() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSpeech) Speak(_ context.Context, text string, _ types.Language, _ float64) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeSpeech) StopSpeaking() {}

func (s *fakeSpeech) PlayAudio(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, url)
	return s.PlayErr
}

func (s *fakeSpeech) result(text string) {
	s.mu.Lock()
	fn := s.onResult
	s.mu.Unlock()
	fn(text)
}

func (s *fakeSpeech) fail(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	fn(err)
}

func (s *fakeSpeech) snapshot() (played, spoken []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.played...), append([]string(nil), s.spoken...)
}

var greeting = types.VoiceResult{
	Transcript:   "xin chào",
	Intent:       types.IntentGreeting,
	Entities:     []types.Entity{},
	Confidence:   0.9,
	ResponseText: "Xin chào! Tôi có thể giúp gì cho bạn?",
	Tier:         types.TierEnhanced,
}

func newManager(proc Processor, sp Speech, opts ...Option) *Manager {
	return New(proc, sp, append([]Option{WithLogger(quietLog)}, opts...)...)
}

func TestOpen_SeedsWelcome(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mirror := NewFileMirror(filepath.Join(dir, "history.json"), filepath.Join(dir, "seen"))
	m := newManager(&fakeProcessor{}, &fakeSpeech{}, WithMirror(mirror))

	m.Open(context.Background())

	snap := m.Snapshot()
	if !snap.Visible || snap.State != StateIdle {
		t.Fatalf("after Open: visible=%v state=%v", snap.Visible, snap.State)
	}
	if len(snap.Turns) != 1 || snap.Turns[0].Role != types.RoleAgent || snap.Turns[0].Text != WelcomeText {
		t.Fatalf("turns = %+v, want the welcome turn", snap.Turns)
	}
	saved, err := mirror.Load()
	if err != nil || len(saved) != 1 {
		t.Errorf("mirror = %v, %v; want the welcome turn", saved, err)
	}

	// A second Open does not reload.
	m.Close()
	m.Open(context.Background())
	if n := len(m.Snapshot().Turns); n != 1 {
		t.Errorf("turns after reopen = %d, want 1", n)
	}
}

func TestOpen_LoadsRemoteHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	c, err := store.GetContext(ctx, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AppendTurn(ctx, "u1", c.SessionID, contextstore.Entry{
		ID:            "e1",
		UserInput:     "xin chào",
		AgentResponse: "Chào bạn!",
		Intent:        types.IntentGreeting,
	}); err != nil {
		t.Fatal(err)
	}

	m := newManager(&fakeProcessor{}, &fakeSpeech{}, WithStore(store, "u1"))
	m.Open(ctx)

	snap := m.Snapshot()
	if snap.SessionID != c.SessionID {
		t.Errorf("SessionID = %q, want %q", snap.SessionID, c.SessionID)
	}
	if len(snap.Turns) != 2 {
		t.Fatalf("turns = %+v, want user and agent", snap.Turns)
	}
	if snap.Turns[0].Role != types.RoleUser || snap.Turns[1].Role != types.RoleAgent {
		t.Errorf("roles = %v, %v", snap.Turns[0].Role, snap.Turns[1].Role)
	}
}

func TestOpen_FallsBackToMirror(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mirror := NewFileMirror(filepath.Join(dir, "history.json"), filepath.Join(dir, "seen"))
	saved := []types.ConversationTurn{
		{ID: "a", Role: types.RoleUser, Text: "có figure Naruto không"},
		{ID: "b", Role: types.RoleAgent, Text: "Có ạ."},
	}
	if err := mirror.Save(saved); err != nil {
		t.Fatal(err)
	}

	m := newManager(&fakeProcessor{}, &fakeSpeech{}, WithMirror(mirror))
	m.Open(context.Background())

	if got := m.Snapshot().Turns; len(got) != 2 || got[0].ID != "a" {
		t.Errorf("turns = %+v, want mirrored history", got)
	}
}

func TestSubmit_AppendsAndPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	proc := &fakeProcessor{Result: greeting}
	sp := &fakeSpeech{}
	m := newManager(proc, sp, WithStore(store, "u1"), WithVoiceOutput(false))
	m.Open(ctx)

	res, err := m.Submit(ctx, "xin chào", types.SourceText)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Intent != types.IntentGreeting {
		t.Errorf("intent = %v", res.Intent)
	}

	snap := m.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("state = %v, want idle", snap.State)
	}
	if n := len(snap.Turns); n != 3 {
		t.Fatalf("turns = %d, want welcome + user + agent", n)
	}
	if u, a := snap.Turns[1], snap.Turns[2]; u.Role != types.RoleUser || u.Text != "xin chào" || a.Role != types.RoleAgent || a.Text != greeting.ResponseText {
		t.Errorf("appended turns = %+v, %+v", u, a)
	}
	if snap.Result == nil || snap.Result.ResponseText != greeting.ResponseText {
		t.Errorf("last result = %+v", snap.Result)
	}

	h, err := store.History(ctx, "u1", snap.SessionID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.ConversationHistory) != 1 || h.ConversationHistory[0].UserInput != "xin chào" {
		t.Errorf("remote history = %+v", h.ConversationHistory)
	}

	played, spoken := sp.snapshot()
	if len(played)+len(spoken) != 0 {
		t.Errorf("voice output disabled but played=%v spoken=%v", played, spoken)
	}
	if calls := proc.calls(); len(calls) != 1 || calls[0].Language != types.DefaultLanguage || calls[0].Source != types.SourceText {
		t.Errorf("processor calls = %+v", calls)
	}
}

func TestSubmit_Voice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		audioURL   string
		playErr    error
		wantPlayed int
		wantSpoken int
	}{
		{name: "plays remote audio", audioURL: "/audio/1.mp3", wantPlayed: 1},
		{name: "speaks when playback fails", audioURL: "/audio/1.mp3", playErr: errors.New("404"), wantPlayed: 1, wantSpoken: 1},
		{name: "speaks without audio", wantSpoken: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res := greeting
			res.AudioURL = tc.audioURL
			sp := &fakeSpeech{PlayErr: tc.playErr}
			m := newManager(&fakeProcessor{Result: res}, sp)

			if _, err := m.Submit(context.Background(), "xin chào", types.SourceText); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			played, spoken := sp.snapshot()
			if len(played) != tc.wantPlayed || len(spoken) != tc.wantSpoken {
				t.Errorf("played=%v spoken=%v", played, spoken)
			}
			if s := m.State(); s != StateIdle {
				t.Errorf("state = %v, want idle", s)
			}
		})
	}
}

func TestSubmit_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		proc *fakeProcessor
	}{
		{name: "empty result", proc: &fakeProcessor{}},
		{name: "panic", proc: &fakeProcessor{Panic: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := newManager(tc.proc, &fakeSpeech{})
			if _, err := m.Submit(context.Background(), "xin chào", types.SourceText); err == nil {
				t.Fatal("Submit: want error")
			}
			snap := m.Snapshot()
			if snap.State != StateError || snap.Err == nil {
				t.Fatalf("state = %v err = %v, want error state", snap.State, snap.Err)
			}
			if len(snap.Turns) != 0 {
				t.Errorf("turns appended on failure: %+v", snap.Turns)
			}

			// The next submission acknowledges the error.
			tc.proc.mu.Lock()
			tc.proc.Result, tc.proc.Panic = greeting, false
			tc.proc.mu.Unlock()
			if _, err := m.Submit(context.Background(), "xin chào", types.SourceText); err != nil {
				t.Fatalf("Submit after error: %v", err)
			}
			if snap := m.Snapshot(); snap.State != StateIdle || snap.Err != nil {
				t.Errorf("after recovery: state=%v err=%v", snap.State, snap.Err)
			}
		})
	}
}

func TestSubmit_BusyWhileProcessing(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	m := newManager(&fakeProcessor{Result: greeting, Block: block}, &fakeSpeech{}, WithVoiceOutput(false))

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), "xin chào", types.SourceText)
		done <- err
	}()
	waitState(t, m, StateProcessing)

	if _, err := m.Submit(context.Background(), "tạm biệt", types.SourceText); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Submit err = %v, want ErrBusy", err)
	}
	if err := m.StartListening(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("StartListening while processing err = %v, want ErrBusy", err)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first Submit: %v", err)
	}
}

func TestSubmit_CloseWhileProcessing(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sp := &fakeSpeech{}
	m := newManager(&fakeProcessor{Result: greeting, Block: block}, sp)
	m.Open(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), "xin chào", types.SourceText)
		done <- err
	}()
	waitState(t, m, StateProcessing)
	m.Close()
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, spoken := sp.snapshot(); len(spoken) != 0 {
		t.Errorf("closed session spoke %q", spoken)
	}
	snap := m.Snapshot()
	if snap.State != StateIdle || snap.Visible {
		t.Errorf("state = %v visible = %v, want idle and hidden", snap.State, snap.Visible)
	}
	if n := len(snap.Turns); n == 0 || snap.Turns[n-1].Text != greeting.ResponseText {
		t.Errorf("reply not kept in history: %+v", snap.Turns)
	}
}

func TestSubmit_GoodbyeClosesSession(t *testing.T) {
	t.Parallel()

	bye := greeting
	bye.Intent = types.IntentGoodbye
	bye.ResponseText = "Tạm biệt!"
	m := newManager(&fakeProcessor{Result: bye}, &fakeSpeech{}, WithGoodbyeDelay(10*time.Millisecond))
	m.Open(context.Background())

	if _, err := m.Submit(context.Background(), "tạm biệt", types.SourceText); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for m.Snapshot().Visible {
		select {
		case <-deadline:
			t.Fatal("session still open after goodbye")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOpen_CancelsGoodbye(t *testing.T) {
	t.Parallel()

	bye := greeting
	bye.Intent = types.IntentGoodbye
	m := newManager(&fakeProcessor{Result: bye}, &fakeSpeech{}, WithGoodbyeDelay(50*time.Millisecond))
	m.Open(context.Background())
	if _, err := m.Submit(context.Background(), "tạm biệt", types.SourceText); err != nil {
		t.Fatal(err)
	}
	m.Open(context.Background())

	time.Sleep(150 * time.Millisecond)
	if !m.Snapshot().Visible {
		t.Error("reopened session was closed by a stale goodbye")
	}
}

func TestStartListening_SubmitsTranscript(t *testing.T) {
	t.Parallel()

	sp := &fakeSpeech{}
	proc := &fakeProcessor{Result: greeting}
	m := newManager(proc, sp, WithVoiceOutput(false))

	if err := m.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if s := m.State(); s != StateListening {
		t.Fatalf("state = %v, want listening", s)
	}
	if err := m.StartListening(context.Background()); !errors.Is(err, speech.ErrAlreadyListening) {
		t.Errorf("second StartListening err = %v, want ErrAlreadyListening", err)
	}

	sp.result("xin chào")

	calls := proc.calls()
	if len(calls) != 1 || calls[0].Source != types.SourceVoice || calls[0].Text != "xin chào" {
		t.Fatalf("processor calls = %+v", calls)
	}
	if s := m.State(); s != StateIdle {
		t.Errorf("state = %v, want idle", s)
	}
}

func TestStartListening_Errors(t *testing.T) {
	t.Parallel()

	t.Run("recognition error", func(t *testing.T) {
		t.Parallel()
		sp := &fakeSpeech{}
		m := newManager(&fakeProcessor{}, sp)
		if err := m.StartListening(context.Background()); err != nil {
			t.Fatal(err)
		}
		sp.fail(errors.New("no-speech"))
		if snap := m.Snapshot(); snap.State != StateError || snap.Err == nil {
			t.Errorf("state = %v err = %v", snap.State, snap.Err)
		}
		m.ClearError()
		if s := m.State(); s != StateIdle {
			t.Errorf("after ClearError state = %v", s)
		}
	})

	t.Run("start fails", func(t *testing.T) {
		t.Parallel()
		want := errors.New("no microphone")
		m := newManager(&fakeProcessor{}, &fakeSpeech{ListenErr: want})
		if err := m.StartListening(context.Background()); !errors.Is(err, want) {
			t.Fatalf("err = %v, want %v", err, want)
		}
		if s := m.State(); s != StateError {
			t.Errorf("state = %v, want error", s)
		}
	})

	t.Run("stopped result is dropped", func(t *testing.T) {
		t.Parallel()
		sp := &fakeSpeech{}
		proc := &fakeProcessor{Result: greeting}
		m := newManager(proc, sp)
		if err := m.StartListening(context.Background()); err != nil {
			t.Fatal(err)
		}
		m.StopListening()
		sp.result("xin chào")
		if n := len(proc.calls()); n != 0 {
			t.Errorf("processor called %d times after stop", n)
		}
		if s := m.State(); s != StateIdle {
			t.Errorf("state = %v, want idle", s)
		}
	})
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	m := newManager(&fakeProcessor{Result: greeting}, &fakeSpeech{}, WithVoiceOutput(false))
	events, cancel := m.Subscribe(16)

	if _, err := m.Submit(context.Background(), "xin chào", types.SourceText); err != nil {
		t.Fatal(err)
	}
	cancel()

	var states []State
	for ev := range events {
		states = append(states, ev.State)
	}
	if len(states) < 2 || states[0] != StateProcessing || states[len(states)-1] != StateIdle {
		t.Errorf("states = %v, want processing ... idle", states)
	}
	cancel()
}

func TestSetLanguage(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{Result: greeting}
	m := newManager(proc, &fakeSpeech{}, WithVoiceOutput(false))
	if m.SetLanguage("xx-XX") {
		t.Error("SetLanguage accepted an unsupported language")
	}
	if !m.SetLanguage(types.LangEnglish) {
		t.Fatal("SetLanguage rejected en-US")
	}
	if _, err := m.Submit(context.Background(), "hello", types.SourceText); err != nil {
		t.Fatal(err)
	}
	if calls := proc.calls(); calls[0].Language != types.LangEnglish {
		t.Errorf("language = %v, want en-US", calls[0].Language)
	}
}

func TestFirstUse(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := newManager(&fakeProcessor{}, &fakeSpeech{},
		WithMirror(NewFileMirror(filepath.Join(dir, "history.json"), filepath.Join(dir, "seen"))))
	if !m.FirstUse() {
		t.Error("first call: want true")
	}
	if m.FirstUse() {
		t.Error("second call: want false")
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		got, want string
	}{
		{ProductInfoQuery("Naruto"), "Cho tôi biết thông tin về sản phẩm Naruto"},
		{OrderStatusQuery("DH001"), "Kiểm tra trạng thái đơn hàng DH001"},
		{OrderStatusQuery(""), "Kiểm tra trạng thái đơn hàng của tôi"},
		{RecommendationQuery("anime"), "Gợi ý sản phẩm trong danh mục anime"},
		{RecommendationQuery(""), "Gợi ý sản phẩm cho tôi"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("query = %q, want %q", tt.got, tt.want)
		}
	}
	if n := len(QuickActions()); n != 4 {
		t.Errorf("QuickActions() = %d entries, want 4", n)
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for m.State() != want {
		select {
		case <-deadline:
			t.Fatalf("state = %v, want %v", m.State(), want)
		case <-time.After(time.Millisecond):
		}
	}
}
