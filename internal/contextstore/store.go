// Package contextstore persists the conversation context of voice agent
// users: the recent exchanges of each session, lightweight preferences
// derived from them, and per-user usage insights.
//
// The [Store] interface has several backends (memory, PostgreSQL, Redis and
// an HTTP client of the context API). All of them share the bookkeeping
// rules implemented in this package, so they behave identically.
package contextstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"github.com/figuro/voice/pkg/types"
)

// ErrNotFound is returned when a session does not exist for the user.
var ErrNotFound = errors.New("contextstore: context not found")

const (
	// MaxEntries is the number of exchanges kept per session.
	MaxEntries = 50
	// MaxSearches is the number of recent product searches kept.
	MaxSearches = 10
	// DefaultHistoryLimit is used when History is called with limit <= 0.
	DefaultHistoryLimit = 20
	// InsightContexts is how many recent sessions Insights looks at.
	InsightContexts = 10
	// AnonymousUser is the identity of callers without a user ID.
	AnonymousUser = "anonymous"
)

// Store is the conversation context repository.
type Store interface {
	// GetContext returns the session of userID. An empty sessionID selects
	// the most recently active session. When nothing matches a new session
	// is created and returned.
	GetContext(ctx context.Context, userID, sessionID string) (Context, error)

	// AppendTurn records one exchange in an existing session. Appending an
	// entry whose ID is already stored is a no-op. Unknown sessions yield
	// [ErrNotFound].
	AppendTurn(ctx context.Context, userID, sessionID string, e Entry) error

	// History returns up to limit exchanges, newest first. Without a
	// matching session it returns an empty History and no error.
	History(ctx context.Context, userID, sessionID string, limit int) (History, error)

	// Clear deletes one session, or every session of the user when
	// sessionID is empty.
	Clear(ctx context.Context, userID, sessionID string) error

	// Insights summarises the user's most recent sessions.
	Insights(ctx context.Context, userID string) (Insights, error)
}

// Entry is one user/agent exchange.
type Entry struct {
	ID            string         `json:"id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	UserInput     string         `json:"userInput"`
	AgentResponse string         `json:"agentResponse"`
	Intent        types.Intent   `json:"intent,omitempty"`
	Entities      []types.Entity `json:"entities,omitempty"`
}

// SessionInfo tracks the lifetime of a session.
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	StartedAt    time.Time `json:"startedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Data is the stored body of a session.
type Data struct {
	ConversationHistory []Entry               `json:"conversationHistory"`
	UserPreferences     types.UserPreferences `json:"userPreferences"`
	CurrentSession      *SessionInfo          `json:"currentSession,omitempty"`
}

// Context is a session as returned by the context API.
type Context struct {
	SessionID       string    `json:"sessionId"`
	Context         Data      `json:"context"`
	LastInteraction time.Time `json:"lastInteraction"`
}

// History is a page of recent exchanges. SessionID is empty when the user
// has no session.
type History struct {
	ConversationHistory []Entry               `json:"conversationHistory"`
	SessionID           string                `json:"sessionId"`
	UserPreferences     types.UserPreferences `json:"userPreferences"`
}

// IntentCount is one row of [Insights.MostUsedIntents].
type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}

// ProductCount is one row of [Insights.FavoriteProducts].
type ProductCount struct {
	Product string `json:"product"`
	Count   int    `json:"count"`
}

// Insights summarises a user's voice usage.
type Insights struct {
	TotalInteractions int            `json:"totalInteractions"`
	MostUsedIntents   []IntentCount  `json:"mostUsedIntents"`
	FavoriteProducts  []ProductCount `json:"favoriteProducts"`
	PreferredLanguage types.Language `json:"preferredLanguage"`
	SessionCount      int            `json:"sessionCount"`
}

// NewSessionID returns an identifier of the form session_<unixms>_<rand9>.
func NewSessionID(now time.Time) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	var suffix [9]byte
	for i := range suffix {
		suffix[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix[:])
}

// NewContext returns an empty session started at now.
func NewContext(sessionID string, now time.Time) Context {
	now = now.UTC()
	return Context{
		SessionID: sessionID,
		Context: Data{
			ConversationHistory: []Entry{},
			CurrentSession:      &SessionInfo{SessionID: sessionID, StartedAt: now, LastActivity: now},
		},
		LastInteraction: now,
	}
}

// Contains reports whether an entry with id is stored.
func (d *Data) Contains(id string) bool {
	if id == "" {
		return false
	}
	return slices.ContainsFunc(d.ConversationHistory, func(e Entry) bool { return e.ID == id })
}

// Append adds e unless its ID is already stored and reports whether it was
// added. Only the last [MaxEntries] exchanges are kept. A product lookup
// pushes the product onto the recent searches.
func (d *Data) Append(e Entry, now time.Time) bool {
	if d.Contains(e.ID) {
		return false
	}
	now = now.UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	d.ConversationHistory = append(d.ConversationHistory, e)
	if n := len(d.ConversationHistory); n > MaxEntries {
		d.ConversationHistory = slices.Clone(d.ConversationHistory[n-MaxEntries:])
	}

	if e.Intent == types.IntentGetProductInfo {
		if p, ok := types.FindEntity(e.Entities, types.EntityProduct); ok && p.Value != "" {
			d.pushSearch(p.Value)
		}
	}
	if d.CurrentSession != nil {
		d.CurrentSession.LastActivity = now
	}
	return true
}

func (d *Data) pushSearch(v string) {
	s := slices.DeleteFunc(d.UserPreferences.RecentSearches, func(x string) bool { return x == v })
	s = append(s, v)
	if len(s) > MaxSearches {
		s = s[len(s)-MaxSearches:]
	}
	d.UserPreferences.RecentSearches = s
}

// HistoryOf returns up to limit exchanges of c, newest first.
func HistoryOf(c Context, limit int) History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	src := c.Context.ConversationHistory
	if len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := slices.Clone(src)
	slices.Reverse(out)
	if out == nil {
		out = []Entry{}
	}
	return History{
		ConversationHistory: out,
		SessionID:           c.SessionID,
		UserPreferences:     c.Context.UserPreferences,
	}
}

// EmptyHistory is returned by History for users without a session.
func EmptyHistory() History {
	return History{ConversationHistory: []Entry{}}
}

// ComputeInsights aggregates contexts, which must be ordered most recent
// first. Only the first [InsightContexts] are considered.
func ComputeInsights(contexts []Context) Insights {
	if len(contexts) > InsightContexts {
		contexts = contexts[:InsightContexts]
	}
	in := Insights{
		MostUsedIntents:   []IntentCount{},
		FavoriteProducts:  []ProductCount{},
		PreferredLanguage: types.DefaultLanguage,
		SessionCount:      len(contexts),
	}

	intents := newCounter()
	products := newCounter()
	langs := newCounter()
	for _, c := range contexts {
		in.TotalInteractions += len(c.Context.ConversationHistory)
		if l := c.Context.UserPreferences.PreferredLanguage; l.Valid() {
			langs.add(string(l))
		}
		for _, e := range c.Context.ConversationHistory {
			if e.Intent != "" {
				intents.add(string(e.Intent))
			}
			for _, ent := range e.Entities {
				if ent.Type == types.EntityProduct && ent.Value != "" {
					products.add(ent.Value)
				}
			}
		}
	}

	for _, kv := range intents.top(5) {
		in.MostUsedIntents = append(in.MostUsedIntents, IntentCount{Intent: kv.key, Count: kv.n})
	}
	for _, kv := range products.top(10) {
		in.FavoriteProducts = append(in.FavoriteProducts, ProductCount{Product: kv.key, Count: kv.n})
	}
	if top := langs.top(1); len(top) == 1 {
		in.PreferredLanguage = types.Language(top[0].key)
	}
	return in
}

// counter counts keys and remembers first-seen order for stable ties.
type counter struct {
	order []string
	n     map[string]int
}

type keyCount struct {
	key string
	n   int
}

func newCounter() *counter { return &counter{n: make(map[string]int)} }

func (c *counter) add(k string) {
	if _, ok := c.n[k]; !ok {
		c.order = append(c.order, k)
	}
	c.n[k]++
}

func (c *counter) top(k int) []keyCount {
	out := make([]keyCount, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, keyCount{key: key, n: c.n[key]})
	}
	slices.SortStableFunc(out, func(a, b keyCount) int { return b.n - a.n })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// UserOrAnonymous maps an empty user ID to [AnonymousUser].
func UserOrAnonymous(userID string) string {
	if userID == "" {
		return AnonymousUser
	}
	return userID
}

// ValidateEntry rejects exchanges that cannot be stored.
func ValidateEntry(e Entry) error {
	if e.UserInput == "" && e.AgentResponse == "" {
		return errors.New("contextstore: entry has neither user input nor agent response")
	}
	if e.Intent != "" && !e.Intent.Valid() {
		return fmt.Errorf("contextstore: invalid intent %q", e.Intent)
	}
	return nil
}
