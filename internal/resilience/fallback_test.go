package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup[T any](primary T, primaryName string, maxFailures int) *FallbackGroup[T] {
	return NewFallbackGroup(primary, primaryName, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
		Logger:         quietLog,
	})
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failing    map[string]bool
		wantCalled []string
		wantErr    bool
	}{
		{name: "primary succeeds", wantCalled: []string{"remote"}},
		{name: "fails over", failing: map[string]bool{"remote": true}, wantCalled: []string{"remote", "openai"}},
		{
			name:       "all fail",
			failing:    map[string]bool{"remote": true, "openai": true},
			wantCalled: []string{"remote", "openai"},
			wantErr:    true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup("remote", "remote", 3)
			fg.AddFallback("openai", "openai")

			var called []string
			err := fg.Execute(context.Background(), func(v string) error {
				called = append(called, v)
				if tc.failing[v] {
					return errTest
				}
				return nil
			})
			if tc.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(called) != len(tc.wantCalled) {
				t.Fatalf("called = %v, want %v", called, tc.wantCalled)
			}
			for i := range called {
				if called[i] != tc.wantCalled[i] {
					t.Errorf("called[%d] = %q, want %q", i, called[i], tc.wantCalled[i])
				}
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBackend(t *testing.T) {
	t.Parallel()

	fg := newGroup("remote", "remote", 2)
	fg.AddFallback("openai", "openai")

	for range 2 {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "remote" {
				return errTest
			}
			return nil
		})
	}
	if got := fg.States()["remote"]; got != StateOpen {
		t.Fatalf("remote state = %v, want open", got)
	}

	var called []string
	err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "openai" {
		t.Fatalf("called = %v, want [openai]", called)
	}
}

func TestFallbackGroup_OnlyOpenBackend(t *testing.T) {
	t.Parallel()

	fg := newGroup("remote", "remote", 1)
	_ = fg.Execute(context.Background(), func(string) error { return errTest })

	err := fg.Execute(context.Background(), func(string) error { return nil })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := newGroup(10, "ten", 3)
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(context.Background(), fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" {
		t.Fatalf("result = %q, want from-twenty", result)
	}
}

func TestExecuteWithResult_CanceledContext(t *testing.T) {
	t.Parallel()

	fg := newGroup(1, "one", 1)
	fg.AddFallback("two", 2)

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, err := ExecuteWithResult(ctx, fg, func(int) (int, error) {
		calls++
		cancel()
		return 0, context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation reported as ErrAllFailed")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if got := fg.States()["one"]; got != StateClosed {
		t.Errorf("breaker state = %v, want closed after cancellation", got)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	fg := newGroup("a", "remote", 1)
	fg.AddFallback("openai", "b")
	names := fg.Names()
	if len(names) != 2 || names[0] != "remote" || names[1] != "openai" {
		t.Errorf("Names() = %v", names)
	}
}

func TestFallbackGroup_OnResult(t *testing.T) {
	t.Parallel()

	var got []string
	fg := NewFallbackGroup("remote", "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		Logger:         quietLog,
		OnResult: func(backend string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			got = append(got, backend+":"+status)
		},
	})
	fg.AddFallback("openai", "openai")

	call := func(v string) error {
		if v == "remote" {
			return errTest
		}
		return nil
	}
	if err := fg.Execute(context.Background(), call); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// remote is open now and must not be reported again.
	if err := fg.Execute(context.Background(), call); err != nil {
		t.Fatalf("second call: %v", err)
	}

	want := []string{"remote:error", "openai:ok", "openai:ok"}
	if len(got) != len(want) {
		t.Fatalf("results = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
