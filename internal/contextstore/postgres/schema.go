package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS voice_contexts (
    session_id        TEXT         PRIMARY KEY,
    user_id           TEXT         NOT NULL,
    started_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_interaction  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    preferences       JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_voice_contexts_user_last
    ON voice_contexts (user_id, last_interaction DESC);

CREATE TABLE IF NOT EXISTS voice_context_entries (
    id              BIGSERIAL    PRIMARY KEY,
    session_id      TEXT         NOT NULL REFERENCES voice_contexts (session_id) ON DELETE CASCADE,
    entry_id        TEXT         NOT NULL,
    timestamp       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    user_input      TEXT         NOT NULL DEFAULT '',
    agent_response  TEXT         NOT NULL DEFAULT '',
    intent          TEXT         NOT NULL DEFAULT '',
    entities        JSONB        NOT NULL DEFAULT '[]',
    UNIQUE (session_id, entry_id)
);

CREATE INDEX IF NOT EXISTS idx_voice_context_entries_session
    ON voice_context_entries (session_id, id);
`

// Migrate creates the tables and indexes if they do not exist. It is safe
// to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres contextstore: migrate: %w", err)
	}
	return nil
}
