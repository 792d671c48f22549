package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/figuro/voice/internal/contextstore"
	"github.com/figuro/voice/internal/contextstore/memstore"
	"github.com/figuro/voice/internal/contextstore/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) contextstore.Store { return memstore.New() })
}

func TestGetContext_PicksLatestSession(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := memstore.New(memstore.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, _ := s.GetContext(ctx, "u", "")
	// A second session exists only when asked for by a new ID; force one.
	now = now.Add(time.Minute)
	second, _ := s.GetContext(ctx, "u", "session_explicit")
	if second.SessionID == first.SessionID {
		t.Fatal("expected a second session")
	}
	now = now.Add(time.Minute)
	if err := s.AppendTurn(ctx, "u", first.SessionID, contextstore.Entry{UserInput: "x"}); err != nil {
		t.Fatal(err)
	}

	latest, _ := s.GetContext(ctx, "u", "")
	if latest.SessionID != first.SessionID {
		t.Errorf("latest = %q, want the most recently active %q", latest.SessionID, first.SessionID)
	}
}
