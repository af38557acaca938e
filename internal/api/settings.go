package api

import (
	"encoding/json"
	"net/http"

	"github.com/firechair/knowledge-console/internal/config"
	"github.com/firechair/knowledge-console/internal/tools"
)

// connectorView is one connector in the listing, with effective
// enablement after user settings.
type connectorView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Configured  bool   `json:"configured"`
}

// keyConfigurable is implemented by connectors that take an API key at
// runtime.
type keyConfigurable interface {
	SetKey(key string)
	Configured() bool
}

func (s *Server) connectorView(c tools.Connector, overrides map[string]bool) connectorView {
	enabled := c.Enabled()
	if override, ok := overrides[c.Name()]; ok {
		enabled = override
	}
	configured := true
	if kc, ok := c.(keyConfigurable); ok {
		configured = kc.Configured()
	}
	return connectorView{
		Name:        c.Name(),
		Description: c.Description(),
		Enabled:     enabled,
		Configured:  configured,
	}
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()

	connectors := s.registry.List()
	out := make([]connectorView, len(connectors))
	for i, c := range connectors {
		out[i] = s.connectorView(c, snap.Connectors)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"connectors": out})
}

// handleConfigureConnector stores a connector's API key and enablement.
// Enablement lands in the settings overlay so it survives restarts;
// keys apply to the running process only.
func (s *Server) handleConfigureConnector(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		APIKey  string `json:"api_key,omitempty"`
		Enabled *bool  `json:"enabled,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	c, _, ok := s.registry.Get(body.Name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "connector not found: " + body.Name})
		return
	}

	if body.APIKey != "" {
		kc, ok := c.(keyConfigurable)
		if !ok {
			s.badRequest(w, "connector does not take an api key: "+body.Name)
			return
		}
		kc.SetKey(body.APIKey)
	}

	enabled := body.Enabled == nil || *body.Enabled
	if _, err := s.settings.Update(func(cur *config.Settings) {
		if cur.Connectors == nil {
			cur.Connectors = make(map[string]bool)
		}
		cur.Connectors[body.Name] = enabled
	}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "configured", "connector": body.Name})
}

// handleToggleConnector flips a connector's effective enablement and
// records the result in the settings overlay.
func (s *Server) handleToggleConnector(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	c, _, ok := s.registry.Get(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "connector not found: " + name})
		return
	}

	snap := s.snapshot()
	current := c.Enabled()
	if override, ok := snap.Connectors[name]; ok {
		current = override
	}

	settings, err := s.settings.Update(func(cur *config.Settings) {
		if cur.Connectors == nil {
			cur.Connectors = make(map[string]bool)
		}
		cur.Connectors[name] = !current
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.connectorView(c, settings.Connectors))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Load()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings replaces the user settings overlay. Fields
// omitted from the body are cleared; this is a PUT of the whole
// overlay, matching what the settings UI sends.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body config.Settings
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	switch body.ProviderKind {
	case "", config.ProviderLocal, config.ProviderCloud:
	default:
		s.badRequest(w, "provider_kind must be local or cloud")
		return
	}

	updated, err := s.settings.Update(func(cur *config.Settings) { *cur = body })
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}
