// Package storetest is a behavioural test suite shared by every
// contextstore.Store backend.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/figuro/voice/internal/contextstore"
	"github.com/figuro/voice/pkg/types"
)

// Run exercises a Store. newStore must return an empty store; each subtest
// uses its own user ID so the store may be shared.
func Run(t *testing.T, newStore func(t *testing.T) contextstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetContextCreatesAndReuses", func(t *testing.T) {
		s := newStore(t)
		c, err := s.GetContext(ctx, "u-create", "")
		if err != nil {
			t.Fatalf("GetContext: %v", err)
		}
		if c.SessionID == "" || c.Context.CurrentSession == nil || len(c.Context.ConversationHistory) != 0 {
			t.Fatalf("new context = %+v", c)
		}
		again, err := s.GetContext(ctx, "u-create", c.SessionID)
		if err != nil {
			t.Fatal(err)
		}
		if again.SessionID != c.SessionID {
			t.Errorf("session %q, want %q", again.SessionID, c.SessionID)
		}
		latest, _ := s.GetContext(ctx, "u-create", "")
		if latest.SessionID != c.SessionID {
			t.Errorf("latest session %q, want %q", latest.SessionID, c.SessionID)
		}
	})

	t.Run("AppendTurnIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		c, _ := s.GetContext(ctx, "u-append", "")
		e := contextstore.Entry{
			ID:            "turn-1",
			UserInput:     "Cho tôi biết thông tin về sản phẩm Goku",
			AgentResponse: "Goku Super Saiyan có giá 1.200.000đ",
			Intent:        types.IntentGetProductInfo,
			Entities:      []types.Entity{{Type: types.EntityProduct, Value: "Goku", Confidence: 0.9}},
		}
		for range 2 {
			if err := s.AppendTurn(ctx, "u-append", c.SessionID, e); err != nil {
				t.Fatalf("AppendTurn: %v", err)
			}
		}
		got, _ := s.GetContext(ctx, "u-append", c.SessionID)
		if n := len(got.Context.ConversationHistory); n != 1 {
			t.Fatalf("history len = %d, want 1", n)
		}
		if s := got.Context.UserPreferences.RecentSearches; len(s) != 1 || s[0] != "Goku" {
			t.Errorf("recent searches = %v", s)
		}
	})

	t.Run("AppendTurnUnknownSession", func(t *testing.T) {
		s := newStore(t)
		err := s.AppendTurn(ctx, "u-missing", "session_0_nope", contextstore.Entry{UserInput: "x"})
		if !errors.Is(err, contextstore.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("HistoryNewestFirst", func(t *testing.T) {
		s := newStore(t)
		if h, err := s.History(ctx, "u-history", "", 0); err != nil || h.SessionID != "" || len(h.ConversationHistory) != 0 {
			t.Fatalf("empty history = %+v, %v", h, err)
		}
		c, _ := s.GetContext(ctx, "u-history", "")
		for _, in := range []string{"một", "hai", "ba"} {
			if err := s.AppendTurn(ctx, "u-history", c.SessionID, contextstore.Entry{UserInput: in, AgentResponse: "ok"}); err != nil {
				t.Fatal(err)
			}
		}
		h, err := s.History(ctx, "u-history", c.SessionID, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(h.ConversationHistory) != 2 || h.ConversationHistory[0].UserInput != "ba" || h.ConversationHistory[1].UserInput != "hai" {
			t.Errorf("history = %+v", h.ConversationHistory)
		}
		if h.SessionID != c.SessionID {
			t.Errorf("session = %q", h.SessionID)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		s := newStore(t)
		c, _ := s.GetContext(ctx, "u-clear", "")
		_ = s.AppendTurn(ctx, "u-clear", c.SessionID, contextstore.Entry{UserInput: "x"})
		if err := s.Clear(ctx, "u-clear", ""); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		h, _ := s.History(ctx, "u-clear", "", 0)
		if len(h.ConversationHistory) != 0 {
			t.Errorf("history after clear = %+v", h)
		}
		in, _ := s.Insights(ctx, "u-clear")
		if in.SessionCount != 0 {
			t.Errorf("sessions after clear = %d", in.SessionCount)
		}
	})

	t.Run("Insights", func(t *testing.T) {
		s := newStore(t)
		c, _ := s.GetContext(ctx, "u-insights", "")
		for _, e := range []contextstore.Entry{
			{UserInput: "a", Intent: types.IntentGreeting},
			{UserInput: "b", Intent: types.IntentGetProductInfo, Entities: []types.Entity{{Type: types.EntityProduct, Value: "Luffy"}}},
			{UserInput: "c", Intent: types.IntentGetProductInfo, Entities: []types.Entity{{Type: types.EntityProduct, Value: "Luffy"}}},
		} {
			if err := s.AppendTurn(ctx, "u-insights", c.SessionID, e); err != nil {
				t.Fatal(err)
			}
		}
		in, err := s.Insights(ctx, "u-insights")
		if err != nil {
			t.Fatal(err)
		}
		if in.TotalInteractions != 3 || in.SessionCount != 1 {
			t.Errorf("insights = %+v", in)
		}
		if len(in.MostUsedIntents) == 0 || in.MostUsedIntents[0].Intent != "get_product_info" {
			t.Errorf("intents = %+v", in.MostUsedIntents)
		}
		if len(in.FavoriteProducts) != 1 || in.FavoriteProducts[0].Count != 2 {
			t.Errorf("products = %+v", in.FavoriteProducts)
		}
	})
}
