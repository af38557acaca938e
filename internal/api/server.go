// Package api exposes the chat console over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/firechair/knowledge-console/internal/chat"
	"github.com/firechair/knowledge-console/internal/config"
	"github.com/firechair/knowledge-console/internal/conversation"
	"github.com/firechair/knowledge-console/internal/log"
	"github.com/firechair/knowledge-console/internal/retrieval"
	"github.com/firechair/knowledge-console/internal/tools"
)

// ChatEngine runs chat turns.
type ChatEngine interface {
	Run(ctx context.Context, req chat.Request, emitter chat.Emitter) (*chat.Result, error)
}

// ConversationStore is the history surface the API serves.
type ConversationStore interface {
	Create(ctx context.Context, title string) (conversation.Conversation, error)
	List(ctx context.Context) ([]conversation.Summary, error)
	Messages(ctx context.Context, id uuid.UUID) ([]conversation.Message, error)
	Rename(ctx context.Context, id uuid.UUID, title string) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAll(ctx context.Context) (int64, error)
}

// Pinger reports whether the backing database is reachable.
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DocumentEngine is the retrieval surface the API serves.
type DocumentEngine interface {
	Ingest(ctx context.Context, filename, contentType, text string) (retrieval.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByFilename(ctx context.Context, filename string) error
	List(ctx context.Context) ([]retrieval.Document, error)
}

// Server routes API requests to the console subsystems.
type Server struct {
	cfg      *config.Config
	settings *config.SettingsStore
	engine   ChatEngine
	convs    ConversationStore
	docs     DocumentEngine
	registry *tools.Registry
	pinger   Pinger
	logger   log.Logger
	handler  http.Handler
}

// NewServer wires the routes and middleware.
func NewServer(
	cfg *config.Config,
	settings *config.SettingsStore,
	engine ChatEngine,
	convs ConversationStore,
	docs DocumentEngine,
	registry *tools.Registry,
	pinger Pinger,
	logger log.Logger,
) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		settings: settings,
		engine:   engine,
		convs:    convs,
		docs:     docs,
		registry: registry,
		pinger:   pinger,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)

	mux.HandleFunc("POST /api/chat/query", s.handleChatQuery)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)

	// Collection routes are registered with and without the trailing
	// slash; clients use both.
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{$}", s.handleListConversations)
	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("POST /api/conversations/{$}", s.handleCreateConversation)
	mux.HandleFunc("DELETE /api/conversations", s.handleDeleteAllConversations)
	mux.HandleFunc("DELETE /api/conversations/{$}", s.handleDeleteAllConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleConversationMessages)
	mux.HandleFunc("POST /api/conversations/{id}/rename", s.handleRenameConversation)
	mux.HandleFunc("PATCH /api/conversations/{id}", s.handleRenameConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)

	mux.HandleFunc("POST /api/documents/upload", s.handleUploadDocument)
	mux.HandleFunc("GET /api/documents/list", s.handleListDocuments)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/documents/{ref}", s.handleDeleteDocument)

	mux.HandleFunc("GET /api/connectors", s.handleListConnectors)
	mux.HandleFunc("GET /api/connectors/{$}", s.handleListConnectors)
	mux.HandleFunc("POST /api/connectors/configure", s.handleConfigureConnector)
	mux.HandleFunc("POST /api/connectors/{name}/toggle", s.handleToggleConnector)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)

	limiter := newIPLimiter(float64(cfg.RateBurst)/2, cfg.RateBurst, cfg.TrustProxy)

	var h http.Handler = mux
	h = rateLimitMiddleware(limiter)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)
	h = loggingMiddleware(logger)(h)
	h = requestIDMiddleware(h)
	h = recoveryMiddleware(logger)(h)
	s.handler = h
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// snapshot merges base config with the current user settings for one
// request. A settings read failure degrades to base configuration.
func (s *Server) snapshot() config.Snapshot {
	settings, err := s.settings.Load()
	if err != nil {
		s.logger.Warn("loading settings, using base configuration", "error", err)
		settings = config.Settings{}
	}
	return s.cfg.Snapshot(settings)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
