package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// previewRunes caps list view previews.
const previewRunes = 100

// Store is the PostgreSQL-backed conversation store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store over the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create starts a new conversation with the given title.
func (s *Store) Create(ctx context.Context, title string) (Conversation, error) {
	c := Conversation{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	c.LastMessageAt = c.CreatedAt

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, title, created_at, last_message_at)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.Title, c.CreatedAt, c.LastMessageAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	return c, nil
}

// AppendTurn appends the messages of one turn atomically. The
// conversation row is locked for the duration so sequence numbers from
// concurrent turns never interleave. Message IDs, sequences, and
// timestamps are assigned here.
func (s *Store) AppendTurn(ctx context.Context, conversationID uuid.UUID, msgs []Message) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	for _, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("invalid role %q", m.Role)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT true FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("locking conversation: %w", err)
	}

	var lastSeq int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = $1`,
		conversationID).Scan(&lastSeq)
	if err != nil {
		return nil, fmt.Errorf("reading last sequence: %w", err)
	}

	now := time.Now().UTC()
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		m.ID = uuid.New()
		m.ConversationID = conversationID
		m.Sequence = lastSeq + i + 1
		m.CreatedAt = now

		sources, err := json.Marshal(m.Sources)
		if err != nil {
			return nil, fmt.Errorf("encoding sources: %w", err)
		}
		toolCalls, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("encoding tool calls: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO messages
				(id, conversation_id, role, content, sources, tool_calls, sequence_number, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, m.ConversationID, m.Role, m.Content, sources, toolCalls, m.Sequence, m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting message %d: %w", i, err)
		}
		out[i] = m
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversations SET last_message_at = $2 WHERE id = $1`,
		conversationID, now)
	if err != nil {
		return nil, fmt.Errorf("updating last_message_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing turn: %w", err)
	}
	return out, nil
}

// List returns all conversations, most recent activity first, each with
// a preview of its latest message.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.title, c.created_at, c.last_message_at,
		       COALESCE(last.content, ''),
		       COALESCE(counts.n, 0)
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT content FROM messages
			WHERE conversation_id = c.id
			ORDER BY sequence_number DESC LIMIT 1
		) last ON true
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS n FROM messages WHERE conversation_id = c.id
		) counts ON true
		ORDER BY c.last_message_at DESC, c.id`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.LastMessageAt,
			&s.Preview, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		s.Preview = truncatePreview(s.Preview)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// Messages returns every message of a conversation in sequence order.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT true FROM conversations WHERE id = $1`, conversationID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("checking conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, sources, tool_calls,
		       sequence_number, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sequence_number`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sources, toolCalls []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&sources, &toolCalls, &m.Sequence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal(sources, &m.Sources); err != nil {
			return nil, fmt.Errorf("decoding sources: %w", err)
		}
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("decoding tool calls: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

// Rename updates a conversation title.
func (s *Store) Rename(ctx context.Context, conversationID uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2 WHERE id = $1`, conversationID, title)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return nil
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, conversationID uuid.UUID) error {
	// messages go with the conversation via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return nil
}

// DeleteAll removes every conversation.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations`)
	if err != nil {
		return 0, fmt.Errorf("deleting conversations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func truncatePreview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:previewRunes]) + "…"
}
