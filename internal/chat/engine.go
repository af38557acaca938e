package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/firechair/knowledge-console/internal/artifact"
	"github.com/firechair/knowledge-console/internal/conversation"
	"github.com/firechair/knowledge-console/internal/log"
	"github.com/firechair/knowledge-console/internal/provider"
	"github.com/firechair/knowledge-console/internal/retrieval"
	"github.com/firechair/knowledge-console/internal/tools"
)

// Engine runs chat turns.
type Engine struct {
	resolver  Resolver
	retriever Retriever
	runner    ToolRunner
	store     HistoryStore
	logger    log.Logger
}

// NewEngine creates a chat engine. retriever and runner may be nil when
// the deployment has no index or no connectors.
func NewEngine(resolver Resolver, retriever Retriever, runner ToolRunner, store HistoryStore, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		resolver:  resolver,
		retriever: retriever,
		runner:    runner,
		store:     store,
		logger:    logger,
	}
}

// Run executes one turn, emitting events as it progresses.
//
// Retrieval and connector failures degrade the turn rather than failing
// it: the prompt just loses that context. Provider failures and
// cancellation are fatal; a fatal turn persists nothing, so history
// only ever contains completed turns.
func (e *Engine) Run(ctx context.Context, req Request, emitter Emitter) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("empty message")
	}

	client, err := e.resolver.Resolve(req.Snapshot)
	if err != nil {
		return nil, e.fail(ctx, emitter, req.ConversationID, fmt.Errorf("resolving provider: %w", err))
	}

	convID, history, err := e.loadConversation(ctx, req)
	if err != nil {
		return nil, e.fail(ctx, emitter, req.ConversationID, err)
	}

	matches, sources := e.retrieve(ctx, req)
	toolResults := e.invokeTools(ctx, req)

	if err := emitter.Emit(ctx, Event{
		Type:           EventStart,
		ConversationID: convID,
		Provider:       client.Name(),
		Model:          client.Model(),
	}); err != nil {
		return nil, err
	}
	if len(toolResults) > 0 {
		if err := emitter.Emit(ctx, Event{
			Type:           EventAPIData,
			ConversationID: convID,
			Data:           toolResults,
		}); err != nil {
			return nil, err
		}
	}

	var answer strings.Builder
	err = client.Stream(ctx, provider.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(history, req.Message, matches, toolResults),
		MaxTokens:   req.Snapshot.MaxTokens,
		Temperature: req.Snapshot.Temperature,
	}, func(ctx context.Context, token string) error {
		answer.WriteString(token)
		return emitter.Emit(ctx, Event{Type: EventToken, Token: token})
	})
	if err != nil {
		return nil, e.fail(ctx, emitter, convID, fmt.Errorf("generating: %w", err))
	}

	directive, cleaned := artifact.Parse(strings.TrimSpace(answer.String()))

	if err := e.persistTurn(ctx, convID, req, cleaned, sources, toolResults); err != nil {
		return nil, e.fail(ctx, emitter, convID, err)
	}

	res := &Result{
		ConversationID: convID,
		Answer:         cleaned,
		Artifact:       directive,
		Sources:        sources,
		ToolResults:    toolResults,
		Provider:       client.Name(),
		Model:          client.Model(),
	}
	if err := emitter.Emit(ctx, Event{
		Type:           EventEnd,
		ConversationID: convID,
		Content:        cleaned,
		Sources:        sources,
		Artifact:       directive,
	}); err != nil {
		return nil, err
	}

	e.logger.Info("turn completed",
		"conversation_id", convID,
		"provider", client.Name(),
		"sources", len(sources),
		"tool_calls", len(toolResults))
	return res, nil
}

// loadConversation resolves the target conversation, creating one with
// a generated title for a zero ID.
func (e *Engine) loadConversation(ctx context.Context, req Request) (uuid.UUID, []conversation.Message, error) {
	if req.ConversationID == uuid.Nil {
		conv, err := e.store.Create(ctx, GenerateTitle(req.Message))
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("creating conversation: %w", err)
		}
		return conv.ID, nil, nil
	}

	history, err := e.store.Messages(ctx, req.ConversationID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("loading history: %w", err)
	}
	return req.ConversationID, history, nil
}

// retrieve fetches document context, degrading to none on failure.
func (e *Engine) retrieve(ctx context.Context, req Request) ([]retrieval.Match, []conversation.Source) {
	if !req.UseRetrieval || e.retriever == nil {
		return nil, nil
	}

	matches, err := e.retriever.Query(ctx, req.Message, req.Snapshot.TopK)
	if err != nil {
		e.logger.Warn("retrieval failed, continuing without context", "error", err)
		return nil, nil
	}

	sources := make([]conversation.Source, len(matches))
	for i, m := range matches {
		sources[i] = conversation.Source{
			DocumentID: m.DocumentID,
			Filename:   m.Filename,
			ChunkIndex: m.ChunkIndex,
			Similarity: m.Similarity,
		}
	}
	return matches, sources
}

// invokeTools runs requested connector calls; failures are carried in
// the results.
func (e *Engine) invokeTools(ctx context.Context, req Request) []tools.Result {
	if len(req.ToolCalls) == 0 || e.runner == nil {
		return nil
	}
	return e.runner.InvokeAll(ctx, req.ToolCalls, req.Snapshot.Connectors)
}

// persistTurn appends the user message, connector results, and the
// assistant answer as one atomic unit.
func (e *Engine) persistTurn(ctx context.Context, convID uuid.UUID, req Request, answer string, sources []conversation.Source, toolResults []tools.Result) error {
	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: req.Message},
	}

	if len(toolResults) > 0 {
		payload, err := json.Marshal(toolResults)
		if err != nil {
			return fmt.Errorf("encoding tool results: %w", err)
		}
		calls := make([]conversation.ToolCall, len(toolResults))
		for i, r := range toolResults {
			calls[i] = conversation.ToolCall{Name: r.Name, Err: r.Err}
		}
		msgs = append(msgs, conversation.Message{
			Role:      conversation.RoleTool,
			Content:   string(payload),
			ToolCalls: calls,
		})
	}

	msgs = append(msgs, conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: answer,
		Sources: sources,
	})

	if _, err := e.store.AppendTurn(ctx, convID, msgs); err != nil {
		return fmt.Errorf("persisting turn: %w", err)
	}
	return nil
}

// fail emits a best-effort error event and returns err. A cancelled
// context suppresses the event; there is no one listening.
func (e *Engine) fail(ctx context.Context, emitter Emitter, convID uuid.UUID, err error) error {
	e.logger.Error("turn failed", "conversation_id", convID, "error", err)
	if ctx.Err() == nil {
		_ = emitter.Emit(ctx, Event{
			Type:           EventError,
			ConversationID: convID,
			Error:          err.Error(),
		})
	}
	return err
}
