// Package conversation persists chat history.
//
// A conversation is an ordered message log. Turns append atomically:
// the user message and everything the turn produced land together or
// not at all, with sequence numbers assigned under a row lock so
// concurrent appends cannot interleave.
package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one the store accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Conversation is the message log header.
type Conversation struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Summary is a conversation with its latest message preview, for list
// views.
type Summary struct {
	Conversation
	Preview      string `json:"last_message_preview"`
	MessageCount int    `json:"message_count"`
}

// Source records where an assistant answer drew document context from.
type Source struct {
	DocumentID uuid.UUID `json:"document_id"`
	Filename   string    `json:"filename"`
	ChunkIndex int       `json:"chunk_index"`
	Similarity float64   `json:"similarity"`
}

// ToolCall records one connector invocation attached to a message.
type ToolCall struct {
	Name string `json:"name"`
	Err  string `json:"error,omitempty"`
}

// Message is one entry in a conversation.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	Sources        []Source   `json:"sources,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	Sequence       int        `json:"sequence"`
	CreatedAt      time.Time  `json:"created_at"`
}
