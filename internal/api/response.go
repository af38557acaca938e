package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/firechair/knowledge-console/internal/conversation"
	"github.com/firechair/knowledge-console/internal/extract"
	"github.com/firechair/knowledge-console/internal/provider"
	"github.com/firechair/knowledge-console/internal/retrieval"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v into a buffer before touching the ResponseWriter,
// so an encoding failure can still produce a clean 500 instead of a
// half-written body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, retrieval.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, extract.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, extract.ErrUnsupportedEncoding):
		status = http.StatusBadRequest
	case errors.Is(err, retrieval.ErrEmbeddingUnavailable),
		errors.Is(err, provider.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, provider.ErrProtocol):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		// Internal details stay out of the response body.
		s.writeJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// badRequest reports a client error with its message intact.
func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
