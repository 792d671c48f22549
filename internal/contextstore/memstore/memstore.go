// Package memstore is an in-process contextstore.Store.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/figuro/voice/internal/contextstore"
)

var _ contextstore.Store = (*Store)(nil)

// Store keeps contexts in memory. It is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	users map[string][]*contextstore.Context
	now   func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{users: make(map[string][]*contextstore.Context), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// find returns the matching context, the latest one when sessionID is
// empty. Must be called with s.mu held.
func (s *Store) find(userID, sessionID string) *contextstore.Context {
	var best *contextstore.Context
	for _, c := range s.users[userID] {
		if sessionID != "" {
			if c.SessionID == sessionID {
				return c
			}
			continue
		}
		if best == nil || !c.LastInteraction.Before(best.LastInteraction) {
			best = c
		}
	}
	return best
}

// GetContext implements [contextstore.Store].
func (s *Store) GetContext(_ context.Context, userID, sessionID string) (contextstore.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.find(userID, sessionID); c != nil {
		return clone(*c), nil
	}
	now := s.now()
	c := contextstore.NewContext(contextstore.NewSessionID(now), now)
	s.users[userID] = append(s.users[userID], &c)
	return clone(c), nil
}

// AppendTurn implements [contextstore.Store].
func (s *Store) AppendTurn(_ context.Context, userID, sessionID string, e contextstore.Entry) error {
	if err := contextstore.ValidateEntry(e); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(userID, sessionID)
	if c == nil || sessionID == "" {
		return contextstore.ErrNotFound
	}
	now := s.now()
	if c.Context.Append(e, now) {
		c.LastInteraction = now.UTC()
	}
	return nil
}

// History implements [contextstore.Store].
func (s *Store) History(_ context.Context, userID, sessionID string, limit int) (contextstore.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(userID, sessionID)
	if c == nil {
		return contextstore.EmptyHistory(), nil
	}
	return contextstore.HistoryOf(clone(*c), limit), nil
}

// Clear implements [contextstore.Store].
func (s *Store) Clear(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" {
		delete(s.users, userID)
		return nil
	}
	s.users[userID] = slices.DeleteFunc(s.users[userID], func(c *contextstore.Context) bool {
		return c.SessionID == sessionID
	})
	return nil
}

// Insights implements [contextstore.Store].
func (s *Store) Insights(_ context.Context, userID string) (contextstore.Insights, error) {
	s.mu.Lock()
	all := make([]contextstore.Context, 0, len(s.users[userID]))
	for _, c := range s.users[userID] {
		all = append(all, *c)
	}
	s.mu.Unlock()

	slices.SortStableFunc(all, func(a, b contextstore.Context) int {
		return b.LastInteraction.Compare(a.LastInteraction)
	})
	return contextstore.ComputeInsights(all), nil
}

func clone(c contextstore.Context) contextstore.Context {
	c.Context.ConversationHistory = slices.Clone(c.Context.ConversationHistory)
	c.Context.UserPreferences.RecentSearches = slices.Clone(c.Context.UserPreferences.RecentSearches)
	c.Context.UserPreferences.FavoriteCategories = slices.Clone(c.Context.UserPreferences.FavoriteCategories)
	if c.Context.CurrentSession != nil {
		info := *c.Context.CurrentSession
		c.Context.CurrentSession = &info
	}
	return c
}
