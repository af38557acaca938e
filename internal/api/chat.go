package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/firechair/knowledge-console/internal/artifact"
	"github.com/firechair/knowledge-console/internal/chat"
	"github.com/firechair/knowledge-console/internal/tools"
)

// chatRequest is the wire form of one turn. Documents are used unless
// the client opts out; tools are requested by name with a flat
// parameter map keyed by "<tool>_<param>".
type chatRequest struct {
	Message        string         `json:"message"`
	UseDocuments   *bool          `json:"use_documents,omitempty"`
	Tools          []string       `json:"tools,omitempty"`
	ToolParams     map[string]any `json:"tool_params,omitempty"`
	ConversationID uuid.UUID      `json:"conversation_id,omitempty"`
}

// toTurn translates the wire request into the engine's form.
func (cr chatRequest) toTurn() chat.Request {
	return chat.Request{
		ConversationID: cr.ConversationID,
		Message:        cr.Message,
		UseRetrieval:   cr.UseDocuments == nil || *cr.UseDocuments,
		ToolCalls:      toolCalls(cr.Tools, cr.ToolParams),
	}
}

// toolCalls expands the flat parameter map into per-connector calls.
// Unknown names pass through; the invoker reports them as error
// results rather than failing the turn.
func toolCalls(names []string, params map[string]any) []tools.Call {
	if len(names) == 0 {
		return nil
	}
	pick := func(key, fallback string) string {
		if v, ok := params[key].(string); ok && v != "" {
			return v
		}
		return fallback
	}
	calls := make([]tools.Call, 0, len(names))
	for _, name := range names {
		call := tools.Call{Name: name, Params: tools.Params{}}
		switch name {
		case "github":
			call.Params["repo"] = pick("github_repo", "facebook/react")
		case "crypto":
			call.Params["coin"] = pick("crypto_symbol", "bitcoin")
		case "weather":
			call.Params["city"] = pick("weather_city", "London")
		}
		calls = append(calls, call)
	}
	return calls
}

// chatResponse is the wire form of a completed turn. Sources are the
// filenames the answer drew context from, in retrieval order;
// APIDataUsed names the connectors that were consulted.
type chatResponse struct {
	Response       string              `json:"response"`
	Sources        []string            `json:"sources"`
	APIDataUsed    []string            `json:"api_data_used"`
	ConversationID uuid.UUID           `json:"conversation_id"`
	Artifact       *artifact.Directive `json:"artifact,omitempty"`
	Provider       string              `json:"provider,omitempty"`
	Model          string              `json:"model,omitempty"`
}

func toChatResponse(res *chat.Result) chatResponse {
	sources := make([]string, len(res.Sources))
	for i, src := range res.Sources {
		sources[i] = src.Filename
	}
	used := make([]string, len(res.ToolResults))
	for i, tr := range res.ToolResults {
		used[i] = tr.Name
	}
	return chatResponse{
		Response:       res.Answer,
		Sources:        sources,
		APIDataUsed:    used,
		ConversationID: res.ConversationID,
		Artifact:       res.Artifact,
		Provider:       res.Provider,
		Model:          res.Model,
	}
}

// discardTokens swallows streaming events; the non-streaming query
// endpoint only wants the final result.
var discardTokens = chat.EmitterFunc(func(context.Context, chat.Event) error { return nil })

// handleChatQuery runs one turn and returns the completed result.
func (s *Server) handleChatQuery(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if body.Message == "" {
		s.badRequest(w, "message is required")
		return
	}
	req := body.toTurn()
	req.Snapshot = s.snapshot()

	res, err := s.engine.Run(r.Context(), req, discardTokens)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toChatResponse(res))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is enforced by the CORS layer for HTTP; the socket accepts
	// the same origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEmitter writes turn events to the socket as JSON frames.
type wsEmitter struct {
	conn *websocket.Conn
}

func (e *wsEmitter) Emit(_ context.Context, ev chat.Event) error {
	return e.conn.WriteJSON(ev)
}

// wsStop aborts the in-flight turn without closing the connection.
const wsStop = "stop"

// wsFrame is one client frame: a chat request, or a control frame
// selected by Type.
type wsFrame struct {
	Type string `json:"type,omitempty"`
	chatRequest
}

// handleChatWS serves the streaming chat socket. At most one turn is
// in flight per connection; requests sent mid-turn wait their turn. A
// stop frame cancels the in-flight turn, and a dropped socket cancels
// it through the read pump.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Sole reader for the connection. A read error means the peer is
	// gone: the channel closes and any in-flight turn is cancelled.
	frames := make(chan wsFrame)
	go func() {
		defer cancel()
		defer close(frames)
		for {
			var f wsFrame
			if err := conn.ReadJSON(&f); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("websocket read failed", "error", err)
				}
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	emitter := &wsEmitter{conn: conn}
	var queued []wsFrame
	for {
		var f wsFrame
		if len(queued) > 0 {
			f, queued = queued[0], queued[1:]
		} else {
			var ok bool
			if f, ok = <-frames; !ok {
				return
			}
		}
		if f.Type == wsStop {
			// Nothing in flight to stop.
			continue
		}
		if f.Message == "" {
			if err := conn.WriteJSON(chat.Event{Type: chat.EventError, Error: "message is required"}); err != nil {
				return
			}
			continue
		}

		req := f.toTurn()
		req.Snapshot = s.snapshot()

		turnCtx, stopTurn := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			_, err := s.engine.Run(turnCtx, req, emitter)
			done <- err
		}()

		var runErr error
	turn:
		for {
			select {
			case runErr = <-done:
				break turn
			case nf, ok := <-frames:
				if !ok {
					stopTurn()
					<-done
					return
				}
				if nf.Type == wsStop {
					stopTurn()
				} else {
					queued = append(queued, nf)
				}
			}
		}
		stopTurn()

		if ctx.Err() != nil {
			return
		}
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			// Run already emitted the error event; keep serving.
			continue
		}
	}
}
