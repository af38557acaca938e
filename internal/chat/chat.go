// Package chat orchestrates a conversation turn: provider resolution,
// document retrieval, connector calls, streamed generation, artifact
// extraction, and atomic persistence of the finished turn.
package chat

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/firechair/knowledge-console/internal/artifact"
	"github.com/firechair/knowledge-console/internal/config"
	"github.com/firechair/knowledge-console/internal/conversation"
	"github.com/firechair/knowledge-console/internal/provider"
	"github.com/firechair/knowledge-console/internal/retrieval"
	"github.com/firechair/knowledge-console/internal/tools"
)

// EventType identifies a streamed turn event.
type EventType string

const (
	// EventStart opens the turn with the resolved backend.
	EventStart EventType = "start"
	// EventToken carries one generated token.
	EventToken EventType = "token"
	// EventAPIData carries connector results, sent before generation.
	EventAPIData EventType = "api_data"
	// EventEnd closes the turn with the assembled answer.
	EventEnd EventType = "end"
	// EventError reports a fatal turn failure.
	EventError EventType = "error"
)

// Event is one streamed turn event. Fields are populated per type.
type Event struct {
	Type           EventType             `json:"type"`
	ConversationID uuid.UUID             `json:"conversation_id,omitempty"`
	Provider       string                `json:"provider,omitempty"`
	Model          string                `json:"model,omitempty"`
	Token          string                `json:"token,omitempty"`
	Data           []tools.Result        `json:"data,omitempty"`
	Content        string                `json:"content,omitempty"`
	Sources        []conversation.Source `json:"sources,omitempty"`
	Artifact       *artifact.Directive   `json:"artifact,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// Emitter receives turn events in order. An error aborts the turn.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Request is one chat turn. The API layer translates its wire format
// into this form.
type Request struct {
	// ConversationID continues an existing conversation; the zero UUID
	// starts a new one.
	ConversationID uuid.UUID
	// Message is the user's question.
	Message string
	// UseRetrieval includes document context in the prompt.
	UseRetrieval bool
	// ToolCalls are connector invocations to run before generation.
	ToolCalls []tools.Call
	// Snapshot is the configuration view for this turn.
	Snapshot config.Snapshot
}

// Result is the completed turn.
type Result struct {
	ConversationID uuid.UUID
	Answer         string
	Artifact       *artifact.Directive
	Sources        []conversation.Source
	ToolResults    []tools.Result
	Provider       string
	Model          string
}

// Resolver picks the generation backend for a turn.
type Resolver interface {
	Resolve(snap config.Snapshot) (provider.Client, error)
}

// Retriever queries the document index.
type Retriever interface {
	Query(ctx context.Context, question string, topK int) ([]retrieval.Match, error)
}

// ToolRunner executes connector calls.
type ToolRunner interface {
	InvokeAll(ctx context.Context, calls []tools.Call, overrides map[string]bool) []tools.Result
}

// HistoryStore persists conversations.
type HistoryStore interface {
	Create(ctx context.Context, title string) (conversation.Conversation, error)
	AppendTurn(ctx context.Context, id uuid.UUID, msgs []conversation.Message) ([]conversation.Message, error)
	Messages(ctx context.Context, id uuid.UUID) ([]conversation.Message, error)
}

// marshalIndent is json.MarshalIndent with the fallback the prompt
// builder wants: raw passthrough when re-encoding fails.
func marshalIndent(raw json.RawMessage) string {
	var buf json.RawMessage = raw
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
