// Package threadstore is the Postgres-backed persistence for Threads,
// Messages, and ToolCall audit rows (spec §3's Thread/Message ownership
// model and §4.7.3 step 4's "queue a ToolCall audit row"). It is the
// concrete Store internal/topicrouter.Router needs to decide stay/resume/new,
// grounded on internal/ledger's pgxpool Init/CREATE TABLE IF NOT EXISTS idiom
// and internal/filemanager/postgres.go's scan-row helpers.
package threadstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"genesis/internal/toolloop"
	"genesis/internal/topicrouter"
)

// Store is the Postgres-backed conversation store: Threads own Messages,
// and ToolCallAudit rows are written behind the executor's tool dispatch.
type Store struct {
	pool *pgxpool.Pool
}

// New builds a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the threads/messages/tool_call_audits tables if they do not
// already exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS threads (
    id BIGSERIAL PRIMARY KEY,
    chat_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    thread_id BIGINT NOT NULL DEFAULT 0,
    title TEXT NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS threads_chat_user_thread_idx ON threads(chat_id, user_id, thread_id);
CREATE INDEX IF NOT EXISTS threads_chat_user_updated_idx ON threads(chat_id, user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id BIGSERIAL PRIMARY KEY,
    thread_internal_id BIGINT NOT NULL REFERENCES threads(id),
    chat_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS messages_thread_created_idx ON messages(thread_internal_id, created_at DESC);

CREATE TABLE IF NOT EXISTS tool_call_audits (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    thread_internal_id BIGINT REFERENCES threads(id),
    tool_name TEXT NOT NULL,
    model_id TEXT NOT NULL DEFAULT '',
    input_tokens INT NOT NULL DEFAULT 0,
    output_tokens INT NOT NULL DEFAULT 0,
    cost_usd NUMERIC(18,6) NOT NULL DEFAULT 0,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    success BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS tool_call_audits_user_created_idx ON tool_call_audits(user_id, created_at DESC);
`)
	if err != nil {
		return fmt.Errorf("threadstore: init schema: %w", err)
	}
	return nil
}

// EnsureThread returns the active thread row for (chatID, userID, threadID),
// creating one with title if none exists yet.
func (s *Store) EnsureThread(ctx context.Context, chatID, userID, threadID int64, title string) (*topicrouter.ActiveThread, error) {
	existing, err := s.ActiveThread(ctx, chatID, userID, threadID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var internalID int64
	var createdAt time.Time
	err = s.pool.QueryRow(ctx, `
INSERT INTO threads (chat_id, user_id, thread_id, title)
VALUES ($1, $2, $3, $4)
RETURNING id, updated_at`, chatID, userID, threadID, title).Scan(&internalID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("threadstore: ensure thread: %w", err)
	}
	return &topicrouter.ActiveThread{InternalID: internalID, ThreadID: threadID, Title: title, UpdatedAt: createdAt}, nil
}

// ActiveThread implements topicrouter.Store: the most recently updated
// thread row matching (chatID, userID, threadID), or nil if none exists yet.
func (s *Store) ActiveThread(ctx context.Context, chatID, userID, threadID int64) (*topicrouter.ActiveThread, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, thread_id, title, updated_at FROM threads
WHERE chat_id = $1 AND user_id = $2 AND thread_id = $3 AND active
ORDER BY updated_at DESC LIMIT 1`, chatID, userID, threadID)

	var at topicrouter.ActiveThread
	err := row.Scan(&at.InternalID, &at.ThreadID, &at.Title, &at.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("threadstore: active thread: %w", err)
	}
	return &at, nil
}

// RecentUserMessages implements topicrouter.Store.
func (s *Store) RecentUserMessages(ctx context.Context, internalThreadID int64, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT content FROM messages
WHERE thread_internal_id = $1 AND role = 'user'
ORDER BY created_at DESC LIMIT $2`, internalThreadID, limit)
	if err != nil {
		return nil, fmt.Errorf("threadstore: recent user messages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// RecentTopics implements topicrouter.Store: the chat's other recently
// active threads, each carrying its own recent user messages for the
// classifier prompt.
func (s *Store) RecentTopics(ctx context.Context, chatID, userID, excludeThreadID int64, limit int) ([]topicrouter.TopicContext, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, thread_id, title FROM threads
WHERE chat_id = $1 AND user_id = $2 AND thread_id <> $3 AND active
ORDER BY updated_at DESC LIMIT $4`, chatID, userID, excludeThreadID, limit)
	if err != nil {
		return nil, fmt.Errorf("threadstore: recent topics: %w", err)
	}
	defer rows.Close()

	var topics []topicrouter.TopicContext
	for rows.Next() {
		var tc topicrouter.TopicContext
		if err := rows.Scan(&tc.InternalID, &tc.ThreadID, &tc.Title); err != nil {
			return nil, err
		}
		topics = append(topics, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range topics {
		recent, err := s.RecentUserMessages(ctx, topics[i].InternalID, 3)
		if err != nil {
			return nil, err
		}
		topics[i].RecentUserMessages = recent
	}
	return topics, nil
}

// RecordMessage persists one turn of a thread (spec §4.7.5's commit step).
func (s *Store) RecordMessage(ctx context.Context, threadInternalID, chatID, userID int64, role, content string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO messages (thread_internal_id, chat_id, user_id, role, content) VALUES ($1, $2, $3, $4, $5)`,
		threadInternalID, chatID, userID, role, content)
	if err != nil {
		return fmt.Errorf("threadstore: record message: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE threads SET updated_at = NOW() WHERE id = $1`, threadInternalID)
	if err != nil {
		return fmt.Errorf("threadstore: touch thread: %w", err)
	}
	return nil
}

// RecordToolCallAudits flushes the executor's queued ToolCall audit rows
// (spec §4.7.3 step 4) in one batch. threadInternalID may be zero when the
// turn has no persisted thread (e.g. EnsureThread failed for this turn).
func (s *Store) RecordToolCallAudits(ctx context.Context, userID int64, threadInternalID int64, audits []toolloop.ToolCallAudit) error {
	var internalID *int64
	if threadInternalID != 0 {
		internalID = &threadInternalID
	}
	for _, a := range audits {
		_, err := s.pool.Exec(ctx, `
INSERT INTO tool_call_audits (user_id, thread_internal_id, tool_name, model_id, input_tokens, output_tokens, cost_usd, duration_seconds, success)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			userID, internalID, a.ToolName, a.ModelID, a.InputTokens, a.OutputTokens, a.CostUSD, a.DurationSeconds, a.Success)
		if err != nil {
			return fmt.Errorf("threadstore: record tool call audit: %w", err)
		}
	}
	return nil
}
