package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/figuro/voice/internal/config"
	"github.com/figuro/voice/pkg/types"
)

const baseRevision = `
server:
  log_level: info
voice:
  api_base_url: https://figuro.test/api
  voice_speed: 1.0
providers:
  nlu:
    - name: remote
`

func noEnv(string) (string, bool) { return "", false }

// recorder collects watcher callbacks.
type recorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	next  *config.Config
	fired chan struct{}
}

func newRecorder() *recorder { return &recorder{fired: make(chan struct{}, 8)} }

func (r *recorder) onChange(d config.ConfigDiff, next *config.Config) {
	r.mu.Lock()
	r.diffs = append(r.diffs, d)
	r.next = next
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

// startWatcher writes baseRevision and watches it with polling effectively
// disabled, so tests drive reloads with Reload.
func startWatcher(t *testing.T, rec *recorder) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	write(t, path, baseRevision)
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(time.Hour), config.WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		wantCall  bool
		wantErr   bool
		check     func(t *testing.T, d config.ConfigDiff)
		wantLevel config.LogLevel
	}{
		{
			name:     "hot fields",
			content:  "server:\n  log_level: debug\nvoice:\n  api_base_url: https://figuro.test/api\n  voice_speed: 1.25\n  language: en-US\nproviders:\n  nlu:\n    - name: remote\n",
			wantCall: true,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
				}
				if !d.VoiceSpeedChanged || !d.LanguageChanged {
					t.Errorf("voice diff = %+v", d)
				}
				if len(d.RestartRequired) != 0 {
					t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
				}
			},
			wantLevel: config.LogDebug,
		},
		{
			name:     "restart section",
			content:  baseRevision + "context_store:\n  backend: redis\n  dsn: redis://localhost:6379/0\n",
			wantCall: true,
			check: func(t *testing.T, d config.ConfigDiff) {
				if len(d.RestartRequired) != 1 || d.RestartRequired[0] != "context_store" {
					t.Errorf("RestartRequired = %v, want [context_store]", d.RestartRequired)
				}
			},
			wantLevel: config.LogInfo,
		},
		{
			name:      "same content",
			content:   baseRevision,
			wantLevel: config.LogInfo,
		},
		{
			name:      "invalid revision",
			content:   "server:\n  log_level: bananas\n",
			wantErr:   true,
			wantLevel: config.LogInfo,
		},
		{
			name:      "unknown field",
			content:   baseRevision + "discord:\n  token: x\n",
			wantErr:   true,
			wantLevel: config.LogInfo,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := newRecorder()
			w, path := startWatcher(t, rec)
			write(t, path, tt.content)

			d, err := w.Reload(true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := rec.calls() == 1; got != tt.wantCall {
				t.Errorf("callback fired = %v, want %v", got, tt.wantCall)
			}
			if tt.check != nil {
				tt.check(t, d)
			}
			if got := w.Current().Server.LogLevel; got != tt.wantLevel {
				t.Errorf("Current() log_level = %q, want %q", got, tt.wantLevel)
			}
		})
	}
}

func TestWatcher_ReloadSkipsUnchangedMtime(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	w, _ := startWatcher(t, rec)
	if _, err := w.Reload(false); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if rec.calls() != 0 {
		t.Errorf("callback fired %d times for an untouched file", rec.calls())
	}
}

func TestWatcher_Polls(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	write(t, path, baseRevision)
	rec := newRecorder()
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(20*time.Millisecond), config.WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	write(t, path, "voice:\n  language: en-US\n")
	// Some filesystems keep a coarse mtime; move it forward explicitly.
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked by polling")
	}
	if got := w.Current().Voice.Language; got != types.LangEnglish {
		t.Errorf("language = %q, want %q", got, types.LangEnglish)
	}
}

func TestWatcher_Lifecycle(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher("/nonexistent/config.yaml", nil); err == nil {
		t.Error("NewWatcher() on a missing file returned nil error")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	write(t, path, baseRevision)
	w, err := config.NewWatcher(path, nil, config.WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Current().Voice.APIBaseURL != "https://figuro.test/api" {
		t.Errorf("initial config not loaded: %+v", w.Current().Voice)
	}
	w.Stop()
	w.Stop()

	// A nil callback is allowed.
	write(t, path, "voice:\n  language: en-US\n")
	if _, err := w.Reload(true); err != nil {
		t.Errorf("Reload() after Stop: %v", err)
	}
}
