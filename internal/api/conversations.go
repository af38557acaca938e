package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.badRequest(w, "invalid id: "+r.PathValue("id"))
		return uuid.Nil, false
	}
	return id, true
}

// handleCreateConversation starts an empty conversation. The body is
// optional; an omitted or blank title gets a placeholder.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	// An empty body is fine.
	_ = json.NewDecoder(r.Body).Decode(&body)
	body.Title = strings.TrimSpace(body.Title)
	if body.Title == "" {
		body.Title = "New Conversation"
	}

	conv, err := s.convs.Create(r.Context(), body.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	out, err := s.convs.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r)
	if !ok {
		return
	}
	msgs, err := s.convs.Messages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r)
	if !ok {
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	body.Title = strings.TrimSpace(body.Title)
	if body.Title == "" {
		s.badRequest(w, "title is required")
		return
	}

	if err := s.convs.Rename(r.Context(), id, body.Title); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "title": body.Title})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r)
	if !ok {
		return
	}
	if err := s.convs.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAllConversations(w http.ResponseWriter, r *http.Request) {
	n, err := s.convs.DeleteAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}
