// Package postgres provides a PostgreSQL-backed contextstore.Store.
//
// Each session is a row of voice_contexts; its exchanges live in
// voice_context_entries, unique per (session_id, entry_id) so that retried
// appends are absorbed by ON CONFLICT DO NOTHING. Only the newest
// contextstore.MaxEntries rows per session are kept.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/figuro/voice/internal/contextstore"
	"github.com/figuro/voice/pkg/types"
)

var _ contextstore.Store = (*Store)(nil)

// Store is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres contextstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres contextstore: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks connectivity; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadContext reads the session row and its entries. An empty sessionID
// selects the most recently active session of userID.
func loadContext(ctx context.Context, q querier, userID, sessionID string, forUpdate bool) (contextstore.Context, error) {
	sql := `
		SELECT session_id, started_at, last_interaction, preferences
		FROM   voice_contexts
		WHERE  user_id = $1 AND ($2 = '' OR session_id = $2)
		ORDER  BY last_interaction DESC
		LIMIT  1`
	if forUpdate {
		sql += "\n\t\tFOR UPDATE"
	}

	var (
		c        contextstore.Context
		started  time.Time
		prefsRaw []byte
	)
	err := q.QueryRow(ctx, sql, userID, sessionID).Scan(&c.SessionID, &started, &c.LastInteraction, &prefsRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return contextstore.Context{}, contextstore.ErrNotFound
	}
	if err != nil {
		return contextstore.Context{}, fmt.Errorf("postgres contextstore: load context: %w", err)
	}
	if err := json.Unmarshal(prefsRaw, &c.Context.UserPreferences); err != nil {
		return contextstore.Context{}, fmt.Errorf("postgres contextstore: decode preferences: %w", err)
	}

	entries, err := loadEntries(ctx, q, c.SessionID)
	if err != nil {
		return contextstore.Context{}, err
	}
	c.Context.ConversationHistory = entries
	c.Context.CurrentSession = &contextstore.SessionInfo{
		SessionID:    c.SessionID,
		StartedAt:    started.UTC(),
		LastActivity: c.LastInteraction.UTC(),
	}
	c.LastInteraction = c.LastInteraction.UTC()
	return c, nil
}

func loadEntries(ctx context.Context, q querier, sessionID string) ([]contextstore.Entry, error) {
	const sql = `
		SELECT entry_id, timestamp, user_input, agent_response, intent, entities
		FROM   voice_context_entries
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := q.Query(ctx, sql, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres contextstore: load entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (contextstore.Entry, error) {
		var (
			e      contextstore.Entry
			intent string
			raw    []byte
		)
		if err := row.Scan(&e.ID, &e.Timestamp, &e.UserInput, &e.AgentResponse, &intent, &raw); err != nil {
			return contextstore.Entry{}, err
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Intent = types.Intent(intent)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Entities); err != nil {
				return contextstore.Entry{}, err
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres contextstore: scan entries: %w", err)
	}
	if entries == nil {
		entries = []contextstore.Entry{}
	}
	return entries, nil
}

// GetContext implements [contextstore.Store].
func (s *Store) GetContext(ctx context.Context, userID, sessionID string) (contextstore.Context, error) {
	c, err := loadContext(ctx, s.pool, userID, sessionID, false)
	if !errors.Is(err, contextstore.ErrNotFound) {
		return c, err
	}

	now := s.now().UTC()
	c = contextstore.NewContext(contextstore.NewSessionID(now), now)
	const q = `
		INSERT INTO voice_contexts (session_id, user_id, started_at, last_interaction, preferences)
		VALUES ($1, $2, $3, $3, '{}')`
	if _, err := s.pool.Exec(ctx, q, c.SessionID, userID, now); err != nil {
		return contextstore.Context{}, fmt.Errorf("postgres contextstore: create context: %w", err)
	}
	return c, nil
}

// AppendTurn implements [contextstore.Store]. Entries without an ID get a
// random one.
func (s *Store) AppendTurn(ctx context.Context, userID, sessionID string, e contextstore.Entry) error {
	if err := contextstore.ValidateEntry(e); err != nil {
		return err
	}
	if sessionID == "" {
		return contextstore.ErrNotFound
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := loadContext(ctx, tx, userID, sessionID, true)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if !c.Context.Append(e, now) {
			return nil
		}
		added := c.Context.ConversationHistory[len(c.Context.ConversationHistory)-1]

		entities, err := json.Marshal(nonNil(added.Entities))
		if err != nil {
			return fmt.Errorf("postgres contextstore: encode entities: %w", err)
		}
		const insert = `
			INSERT INTO voice_context_entries
			    (session_id, entry_id, timestamp, user_input, agent_response, intent, entities)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, entry_id) DO NOTHING`
		if _, err := tx.Exec(ctx, insert, sessionID, added.ID, added.Timestamp,
			added.UserInput, added.AgentResponse, string(added.Intent), entities); err != nil {
			return fmt.Errorf("postgres contextstore: insert entry: %w", err)
		}

		const trim = `
			DELETE FROM voice_context_entries
			WHERE  session_id = $1
			  AND  id NOT IN (
			        SELECT id FROM voice_context_entries
			        WHERE  session_id = $1
			        ORDER  BY id DESC
			        LIMIT  $2)`
		if _, err := tx.Exec(ctx, trim, sessionID, contextstore.MaxEntries); err != nil {
			return fmt.Errorf("postgres contextstore: trim entries: %w", err)
		}

		prefs, err := json.Marshal(c.Context.UserPreferences)
		if err != nil {
			return fmt.Errorf("postgres contextstore: encode preferences: %w", err)
		}
		const update = `
			UPDATE voice_contexts
			SET    last_interaction = $2, preferences = $3
			WHERE  session_id = $1`
		if _, err := tx.Exec(ctx, update, sessionID, now, prefs); err != nil {
			return fmt.Errorf("postgres contextstore: update context: %w", err)
		}
		return nil
	})
}

// History implements [contextstore.Store].
func (s *Store) History(ctx context.Context, userID, sessionID string, limit int) (contextstore.History, error) {
	c, err := loadContext(ctx, s.pool, userID, sessionID, false)
	if errors.Is(err, contextstore.ErrNotFound) {
		return contextstore.EmptyHistory(), nil
	}
	if err != nil {
		return contextstore.History{}, err
	}
	return contextstore.HistoryOf(c, limit), nil
}

// Clear implements [contextstore.Store]. Entries go with their session via
// ON DELETE CASCADE.
func (s *Store) Clear(ctx context.Context, userID, sessionID string) error {
	const q = `DELETE FROM voice_contexts WHERE user_id = $1 AND ($2 = '' OR session_id = $2)`
	if _, err := s.pool.Exec(ctx, q, userID, sessionID); err != nil {
		return fmt.Errorf("postgres contextstore: clear: %w", err)
	}
	return nil
}

// Insights implements [contextstore.Store].
func (s *Store) Insights(ctx context.Context, userID string) (contextstore.Insights, error) {
	const q = `
		SELECT session_id
		FROM   voice_contexts
		WHERE  user_id = $1
		ORDER  BY last_interaction DESC
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, userID, contextstore.InsightContexts)
	if err != nil {
		return contextstore.Insights{}, fmt.Errorf("postgres contextstore: list contexts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return contextstore.Insights{}, fmt.Errorf("postgres contextstore: scan contexts: %w", err)
	}

	contexts := make([]contextstore.Context, 0, len(ids))
	for _, id := range ids {
		c, err := loadContext(ctx, s.pool, userID, id, false)
		if errors.Is(err, contextstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return contextstore.Insights{}, err
		}
		contexts = append(contexts, c)
	}
	return contextstore.ComputeInsights(contexts), nil
}

func nonNil(e []types.Entity) []types.Entity {
	if e == nil {
		return []types.Entity{}
	}
	return e
}
