package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// revision is one successfully loaded version of the config file.
type revision struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher reloads a config file when it changes and reports what changed
// as a [ConfigDiff]. A revision that fails to parse or validate is logged
// and ignored; the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   func(string) (string, bool)
	log      *slog.Logger
	onChange func(d ConfigDiff, next *Config)

	mu  sync.Mutex // guards rev and serialises reloads
	rev revision

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLookup replaces the environment lookup used for FIGURO_* overrides.
// Default os.LookupEnv.
func WithLookup(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// WithWatchLogger sets the logger. Default slog.Default().
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path and polls it in the background until
// [Watcher.Stop]. onChange runs on the polling goroutine, only for
// revisions whose diff is non-empty.
func NewWatcher(path string, onChange func(d ConfigDiff, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		lookup:   os.LookupEnv,
		log:      slog.Default(),
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	rev, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.rev = rev

	w.wg.Go(w.poll)
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rev.cfg
}

// Stop ends polling and waits for an in-flight reload to finish. It is
// idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *Watcher) poll() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if _, err := w.Reload(false); err != nil {
				w.log.Warn("config: keeping previous configuration", "path", w.path, "err", err)
			}
		}
	}
}

// Reload checks the file now and reports the resulting diff. Unless force
// is set, an unchanged modification time skips parsing. The callback runs
// when the diff is non-empty.
func (w *Watcher) Reload(force bool) (ConfigDiff, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return ConfigDiff{}, err
		}
		if info.ModTime().Equal(w.rev.mtime) {
			return ConfigDiff{}, nil
		}
	}

	rev, err := w.read()
	if err != nil {
		return ConfigDiff{}, err
	}
	if rev.sum == w.rev.sum {
		w.rev.mtime = rev.mtime
		return ConfigDiff{}, nil
	}

	d := Diff(w.rev.cfg, rev.cfg)
	w.rev = rev
	if !d.Changed() {
		return d, nil
	}
	w.log.Info("config: reloaded", "path", w.path, "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(d, rev.cfg)
	}
	return d, nil
}

func (w *Watcher) read() (revision, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return revision{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return revision{}, err
	}
	cfg, err := load(bytes.NewReader(data), w.lookup)
	if err != nil {
		return revision{}, err
	}
	return revision{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
