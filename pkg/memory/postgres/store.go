// Package postgres provides a PostgreSQL-backed [memory.Store].
//
// Messages live in the agent_messages table, one row per message, ordered by
// a BIGSERIAL id. [Migrate] creates the table on first use.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 200)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voiceloop/pkg/memory"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

var (
	_ memory.Store  = (*Store)(nil)
	_ memory.Pinger = (*Store)(nil)
)

// Store is the PostgreSQL conversation store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
	max  int
}

// NewStore connects to dsn, verifies the connection, and runs [Migrate].
// maxMessages caps each thread; values <= 0 select [memory.DefaultMaxMessages].
func NewStore(ctx context.Context, dsn string, maxMessages int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	if maxMessages <= 0 {
		maxMessages = memory.DefaultMaxMessages
	}
	return &Store{pool: pool, max: maxMessages}, nil
}

// Load implements [memory.Store].
func (s *Store) Load(ctx context.Context, threadID string, limit int) ([]llm.Message, error) {
	if threadID == "" {
		return nil, memory.ErrEmptyThread
	}
	if limit <= 0 {
		limit = s.max
	}

	// Newest first so LIMIT keeps the tail; reversed below.
	const q = `
		SELECT role, content, name, tool_calls, tool_call_id
		FROM   agent_messages
		WHERE  thread_id = $1
		ORDER  BY id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	slices.Reverse(msgs)
	if msgs == nil {
		msgs = []llm.Message{}
	}
	return msgs, nil
}

func scanMessage(row pgx.CollectableRow) (llm.Message, error) {
	var (
		m         llm.Message
		toolCalls []byte
	)
	if err := row.Scan(&m.Role, &m.Content, &m.Name, &toolCalls, &m.ToolCallID); err != nil {
		return llm.Message{}, err
	}
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return llm.Message{}, fmt.Errorf("decode tool_calls: %w", err)
		}
	}
	return m, nil
}

// Append implements [memory.Store]. The insert and the trim of old rows run
// in one transaction.
func (s *Store) Append(ctx context.Context, threadID string, msgs ...llm.Message) error {
	if threadID == "" {
		return memory.ErrEmptyThread
	}
	if len(msgs) == 0 {
		return nil
	}

	const insert = `
		INSERT INTO agent_messages (thread_id, role, content, name, tool_calls, tool_call_id)
		VALUES ($1, $2, $3, $4, $5, $6)`
	const trim = `
		DELETE FROM agent_messages
		WHERE  thread_id = $1
		  AND  id NOT IN (
		       SELECT id FROM agent_messages
		       WHERE  thread_id = $1
		       ORDER  BY id DESC
		       LIMIT  $2)`

	batch := &pgx.Batch{}
	for _, m := range msgs {
		var toolCalls []byte
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("postgres store: encode tool_calls: %w", err)
			}
			toolCalls = b
		}
		batch.Queue(insert, threadID, m.Role, m.Content, m.Name, toolCalls, m.ToolCallID)
	}
	batch.Queue(trim, threadID, s.max)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: append: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// Reset implements [memory.Store].
func (s *Store) Reset(ctx context.Context, threadID string) error {
	if threadID == "" {
		return memory.ErrEmptyThread
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM agent_messages WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("postgres store: reset: %w", err)
	}
	return nil
}

// Ping implements [memory.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
