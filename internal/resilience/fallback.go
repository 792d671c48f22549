package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] failed or
// was skipped by its open breaker. The last backend error is wrapped with it.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig is the template for the breaker created per backend. The
// breaker name is replaced with the backend name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
	Logger         *slog.Logger

	// OnResult, if set, is called after every attempt that reached a
	// backend. err is nil on success. Skips by an open breaker and
	// cancelled calls are not reported.
	OnResult func(backend string, err error)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds backends of one kind in priority order. Every call is
// tried against the first backend whose breaker admits it, moving down the
// list on failure.
//
// Backends must be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup returns a group with primary as its first backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.CircuitBreaker.Logger == nil {
		cfg.CircuitBreaker.Logger = log
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a lower-priority backend.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the backend names in priority order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// States returns the breaker state of every backend keyed by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Execute runs fn against the backends in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a value.
// It stops early with the context error once ctx is done; a cancelled call
// is not counted against the backend's breaker.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]

		var (
			result   R
			callErr  error
			canceled bool
		)
		err := entry.breaker.Execute(func() error {
			result, callErr = fn(entry.value)
			if callErr != nil && ctx.Err() != nil {
				canceled = true
				return nil
			}
			return callErr
		})
		if !canceled && !errors.Is(err, ErrCircuitOpen) && fg.cfg.OnResult != nil {
			fg.cfg.OnResult(entry.name, err)
		}
		switch {
		case canceled:
			return zero, callErr
		case err == nil:
			return result, nil
		case errors.Is(err, ErrCircuitOpen):
			fg.log.Debug("skipping backend, circuit open", "backend", entry.name)
		default:
			fg.log.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no backends registered")
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
