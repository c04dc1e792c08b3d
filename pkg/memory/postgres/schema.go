package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAgentMessages = `
CREATE TABLE IF NOT EXISTS agent_messages (
    id            BIGSERIAL    PRIMARY KEY,
    thread_id     TEXT         NOT NULL,
    role          TEXT         NOT NULL,
    content       TEXT         NOT NULL DEFAULT '',
    name          TEXT         NOT NULL DEFAULT '',
    tool_calls    JSONB,
    tool_call_id  TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agent_messages_thread_id
    ON agent_messages (thread_id, id);
`

// Migrate creates the agent_messages table and its index if they do not
// exist. It is idempotent and runs inside a single transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres migrate: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, ddlAgentMessages); err != nil {
		return fmt.Errorf("postgres migrate: agent_messages: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres migrate: commit: %w", err)
	}
	return nil
}
