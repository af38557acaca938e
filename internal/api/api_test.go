package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/firechair/knowledge-console/internal/chat"
	"github.com/firechair/knowledge-console/internal/config"
	"github.com/firechair/knowledge-console/internal/conversation"
	"github.com/firechair/knowledge-console/internal/log"
	"github.com/firechair/knowledge-console/internal/retrieval"
	"github.com/firechair/knowledge-console/internal/tools"
)

// stubEngine scripts turn outcomes and records the request it saw.
type stubEngine struct {
	result  *chat.Result
	events  []chat.Event
	err     error
	lastReq chat.Request
}

func (e *stubEngine) Run(ctx context.Context, req chat.Request, emitter chat.Emitter) (*chat.Result, error) {
	e.lastReq = req
	for _, ev := range e.events {
		if err := emitter.Emit(ctx, ev); err != nil {
			return nil, err
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

type stubConvs struct {
	summaries []conversation.Summary
	msgs      map[uuid.UUID][]conversation.Message
	renamed   map[uuid.UUID]string
}

func newStubConvs() *stubConvs {
	return &stubConvs{
		msgs:    make(map[uuid.UUID][]conversation.Message),
		renamed: make(map[uuid.UUID]string),
	}
}

func (c *stubConvs) Create(_ context.Context, title string) (conversation.Conversation, error) {
	conv := conversation.Conversation{ID: uuid.New(), Title: title}
	c.msgs[conv.ID] = nil
	return conv, nil
}

func (c *stubConvs) List(context.Context) ([]conversation.Summary, error) { return c.summaries, nil }

func (c *stubConvs) Messages(_ context.Context, id uuid.UUID) ([]conversation.Message, error) {
	msgs, ok := c.msgs[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return msgs, nil
}

func (c *stubConvs) Rename(_ context.Context, id uuid.UUID, title string) error {
	if _, ok := c.msgs[id]; !ok {
		return conversation.ErrNotFound
	}
	c.renamed[id] = title
	return nil
}

func (c *stubConvs) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := c.msgs[id]; !ok {
		return conversation.ErrNotFound
	}
	delete(c.msgs, id)
	return nil
}

func (c *stubConvs) DeleteAll(context.Context) (int64, error) {
	n := int64(len(c.msgs))
	c.msgs = make(map[uuid.UUID][]conversation.Message)
	return n, nil
}

type stubDocs struct {
	docs     map[uuid.UUID]retrieval.Document
	lastText string
}

func newStubDocs() *stubDocs {
	return &stubDocs{docs: make(map[uuid.UUID]retrieval.Document)}
}

func (d *stubDocs) Ingest(_ context.Context, filename, contentType, text string) (retrieval.Document, error) {
	d.lastText = text
	doc := retrieval.Document{ID: uuid.New(), Filename: filename, ContentType: contentType, ChunkCount: 1}
	d.docs[doc.ID] = doc
	return doc, nil
}

func (d *stubDocs) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := d.docs[id]; !ok {
		return retrieval.ErrNotFound
	}
	delete(d.docs, id)
	return nil
}

func (d *stubDocs) DeleteByFilename(_ context.Context, filename string) error {
	deleted := false
	for id, doc := range d.docs {
		if doc.Filename == filename {
			delete(d.docs, id)
			deleted = true
		}
	}
	if !deleted {
		return retrieval.ErrNotFound
	}
	return nil
}

func (d *stubDocs) List(context.Context) ([]retrieval.Document, error) {
	out := make([]retrieval.Document, 0, len(d.docs))
	for _, doc := range d.docs {
		out = append(out, doc)
	}
	return out, nil
}

type testServer struct {
	*Server
	engine   *stubEngine
	convs    *stubConvs
	docs     *stubDocs
	settings *config.SettingsStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		ProviderKind:    config.ProviderAuto,
		LocalBaseURL:    "http://localhost:8080",
		CloudBaseURL:    "https://openrouter.ai/api/v1",
		EmbedderBaseURL: "http://localhost:8081",
		MaxTokens:       256,
		Temperature:     0.7,
		ChunkSize:       500,
		ChunkOverlap:    50,
		TopK:            4,
		PostgresPort:    5432,
		CORSOrigins:     []string{"http://localhost:3000"},
		RateBurst:       1000,
	}
	settings := config.NewSettingsStore(filepath.Join(t.TempDir(), "settings.json"))

	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewHackerNews(nil)); err != nil {
		t.Fatalf("registering hackernews: %v", err)
	}
	if err := registry.Register(tools.NewWeather("", nil)); err != nil {
		t.Fatalf("registering weather: %v", err)
	}

	engine := &stubEngine{result: &chat.Result{Answer: "stub answer", Provider: "local"}}
	convs := newStubConvs()
	docs := newStubDocs()

	srv := NewServer(cfg, settings, engine, convs, docs, registry, nil, log.NewNop())
	return &testServer{Server: srv, engine: engine, convs: convs, docs: docs, settings: settings}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error { return p.err }

func TestReady(t *testing.T) {
	t.Run("without database", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodGet, "/api/ready", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("reachable database", func(t *testing.T) {
		ts := newTestServer(t)
		srv := NewServer(ts.cfg, ts.settings, ts.engine, ts.convs, ts.docs, nil, &stubPinger{}, log.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("unreachable database", func(t *testing.T) {
		ts := newTestServer(t)
		srv := NewServer(ts.cfg, ts.settings, ts.engine, ts.convs, ts.docs, nil, &stubPinger{err: errors.New("dial refused")}, log.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
	})
}

func TestChatQuery(t *testing.T) {
	ts := newTestServer(t)

	t.Run("success", func(t *testing.T) {
		convID := uuid.New()
		ts.engine.result = &chat.Result{
			ConversationID: convID,
			Answer:         "grounded answer",
			Sources:        []conversation.Source{{Filename: "notes.txt"}},
			ToolResults:    []tools.Result{{Name: "hackernews", Data: json.RawMessage(`{"stories":[]}`)}},
			Provider:       "local",
		}
		rec := ts.do(t, http.MethodPost, "/api/chat/query", map[string]any{
			"message":       "Top HN?",
			"use_documents": true,
			"tools":         []string{"hackernews"},
			"tool_params":   map[string]any{},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}

		var res struct {
			Response       string    `json:"response"`
			Sources        []string  `json:"sources"`
			APIDataUsed    []string  `json:"api_data_used"`
			ConversationID uuid.UUID `json:"conversation_id"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if res.Response != "grounded answer" {
			t.Errorf("response = %q, want grounded answer", res.Response)
		}
		if len(res.Sources) != 1 || res.Sources[0] != "notes.txt" {
			t.Errorf("sources = %v, want [notes.txt]", res.Sources)
		}
		if len(res.APIDataUsed) != 1 || res.APIDataUsed[0] != "hackernews" {
			t.Errorf("api_data_used = %v, want [hackernews]", res.APIDataUsed)
		}
		if res.ConversationID != convID {
			t.Errorf("conversation_id = %s, want %s", res.ConversationID, convID)
		}

		if !ts.engine.lastReq.UseRetrieval {
			t.Error("use_documents did not reach the engine")
		}
		if len(ts.engine.lastReq.ToolCalls) != 1 || ts.engine.lastReq.ToolCalls[0].Name != "hackernews" {
			t.Errorf("tool calls = %+v, want hackernews", ts.engine.lastReq.ToolCalls)
		}
		if ts.engine.lastReq.Snapshot.TopK != 4 {
			t.Errorf("snapshot TopK = %d, want 4 from config", ts.engine.lastReq.Snapshot.TopK)
		}
	})

	t.Run("documents used unless opted out", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/chat/query", map[string]any{"message": "hi"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !ts.engine.lastReq.UseRetrieval {
			t.Error("omitted use_documents disabled retrieval, want default on")
		}

		rec = ts.do(t, http.MethodPost, "/api/chat/query",
			map[string]any{"message": "hi", "use_documents": false})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if ts.engine.lastReq.UseRetrieval {
			t.Error("use_documents=false still enabled retrieval")
		}
	})

	t.Run("tool params expand per connector", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/chat/query", map[string]any{
			"message":     "market check",
			"tools":       []string{"crypto", "weather", "github"},
			"tool_params": map[string]any{"crypto_symbol": "ethereum"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		calls := ts.engine.lastReq.ToolCalls
		if len(calls) != 3 {
			t.Fatalf("got %d calls, want 3", len(calls))
		}
		if calls[0].Params["coin"] != "ethereum" {
			t.Errorf("crypto coin = %v, want ethereum", calls[0].Params["coin"])
		}
		if calls[1].Params["city"] != "London" {
			t.Errorf("weather city = %v, want default London", calls[1].Params["city"])
		}
		if calls[2].Params["repo"] != "facebook/react" {
			t.Errorf("github repo = %v, want default facebook/react", calls[2].Params["repo"])
		}
	})

	t.Run("empty message rejected", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/chat/query", map[string]any{"message": ""})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("settings overlay reaches snapshot", func(t *testing.T) {
		if _, err := ts.settings.Update(func(s *config.Settings) {
			s.Connectors = map[string]bool{"hackernews": false}
		}); err != nil {
			t.Fatalf("updating settings: %v", err)
		}
		rec := ts.do(t, http.MethodPost, "/api/chat/query", map[string]any{"message": "hi"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if enabled, ok := ts.engine.lastReq.Snapshot.Connectors["hackernews"]; !ok || enabled {
			t.Errorf("snapshot connectors = %v, want hackernews disabled", ts.engine.lastReq.Snapshot.Connectors)
		}
	})
}

func TestConversationRoutes(t *testing.T) {
	ts := newTestServer(t)
	id := uuid.New()
	ts.convs.msgs[id] = []conversation.Message{{Role: conversation.RoleUser, Content: "q"}}

	t.Run("create", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/conversations/", nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		var conv conversation.Conversation
		if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if conv.ID == uuid.Nil {
			t.Error("created conversation has no id")
		}
		if conv.Title != "New Conversation" {
			t.Errorf("title = %q, want placeholder", conv.Title)
		}
	})

	t.Run("list carries summary keys", func(t *testing.T) {
		ts.convs.summaries = []conversation.Summary{{
			Conversation: conversation.Conversation{ID: id, Title: "pgvector"},
			Preview:      "a postgres extension",
			MessageCount: 2,
		}}
		rec := ts.do(t, http.MethodGet, "/api/conversations/", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body struct {
			Conversations []map[string]json.RawMessage `json:"conversations"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if len(body.Conversations) != 1 {
			t.Fatalf("got %d conversations, want 1", len(body.Conversations))
		}
		for _, key := range []string{"id", "created_at", "title", "last_message_preview", "last_message_at"} {
			if _, ok := body.Conversations[0][key]; !ok {
				t.Errorf("summary missing %q key: %s", key, rec.Body)
			}
		}
	})

	t.Run("messages", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/conversations/"+id.String()+"/messages", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("unknown conversation is 404", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/conversations/"+uuid.NewString()+"/messages", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("bad uuid is 400", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/conversations/not-a-uuid/messages", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("rename", func(t *testing.T) {
		rec := ts.do(t, http.MethodPatch, "/api/conversations/"+id.String(),
			map[string]string{"title": "renamed"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		if ts.convs.renamed[id] != "renamed" {
			t.Errorf("renamed = %q, want renamed", ts.convs.renamed[id])
		}
	})

	t.Run("rename via post", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/conversations/"+id.String()+"/rename",
			map[string]string{"title": "posted"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		if ts.convs.renamed[id] != "posted" {
			t.Errorf("renamed = %q, want posted", ts.convs.renamed[id])
		}
	})

	t.Run("rename empty title rejected", func(t *testing.T) {
		rec := ts.do(t, http.MethodPatch, "/api/conversations/"+id.String(),
			map[string]string{"title": "  "})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("delete then 404", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/api/conversations/"+id.String(), nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		rec = ts.do(t, http.MethodDelete, "/api/conversations/"+id.String(), nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("second delete status = %d, want 404", rec.Code)
		}
	})
}

func TestDocumentUpload(t *testing.T) {
	ts := newTestServer(t)

	upload := func(t *testing.T, filename, contentType, content string) *httptest.ResponseRecorder {
		t.Helper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		hdr := make(map[string][]string)
		hdr["Content-Disposition"] = []string{
			fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
		hdr["Content-Type"] = []string{contentType}
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("creating part: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("writing part: %v", err)
		}
		mw.Close() //nolint:errcheck

		req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		ts.ServeHTTP(rec, req)
		return rec
	}

	t.Run("text upload then list then delete", func(t *testing.T) {
		rec := upload(t, "notes.txt", "text/plain", "indexable content")
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		if ts.docs.lastText != "indexable content" {
			t.Errorf("ingested text = %q", ts.docs.lastText)
		}
		var created struct {
			ID            uuid.UUID `json:"id"`
			Filename      string    `json:"filename"`
			ChunksCreated int       `json:"chunks_created"`
			Status        string    `json:"status"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if created.Filename != "notes.txt" || created.ChunksCreated != 1 || created.Status != "success" {
			t.Errorf("upload response = %+v, want filename/chunks_created/status", created)
		}

		rec = ts.do(t, http.MethodGet, "/api/documents/list", nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "notes.txt") {
			t.Fatalf("list status = %d, body %s", rec.Code, rec.Body)
		}

		rec = ts.do(t, http.MethodDelete, "/api/documents/"+created.ID.String(), nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("delete status = %d, want 204", rec.Code)
		}
		rec = ts.do(t, http.MethodDelete, "/api/documents/"+created.ID.String(), nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("second delete status = %d, want 404", rec.Code)
		}
	})

	t.Run("delete by filename removes every upload", func(t *testing.T) {
		upload(t, "dup.txt", "text/plain", "one")
		upload(t, "dup.txt", "text/plain", "two")

		rec := ts.do(t, http.MethodDelete, "/api/documents/dup.txt", nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("delete status = %d, want 204", rec.Code)
		}
		rec = ts.do(t, http.MethodGet, "/api/documents/list", nil)
		if strings.Contains(rec.Body.String(), "dup.txt") {
			t.Fatalf("list still carries dup.txt: %s", rec.Body)
		}
		rec = ts.do(t, http.MethodDelete, "/api/documents/dup.txt", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("second delete status = %d, want 404", rec.Code)
		}
	})

	t.Run("html stripped before ingest", func(t *testing.T) {
		rec := upload(t, "page.html", "text/html", "<p>visible</p><script>x</script>")
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		if ts.docs.lastText != "visible" {
			t.Errorf("ingested text = %q, want stripped html", ts.docs.lastText)
		}
	})

	t.Run("unsupported format is 415", func(t *testing.T) {
		rec := upload(t, "report.pdf", "application/pdf", "%PDF-1.4")
		if rec.Code != http.StatusUnsupportedMediaType {
			t.Fatalf("status = %d, want 415", rec.Code)
		}
	})
}

func TestConnectorListing(t *testing.T) {
	ts := newTestServer(t)

	decode := func(rec *httptest.ResponseRecorder) map[string]bool {
		var body struct {
			Connectors []connectorView `json:"connectors"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		out := make(map[string]bool)
		for _, c := range body.Connectors {
			out[c.Name] = c.Enabled
		}
		return out
	}

	rec := ts.do(t, http.MethodGet, "/api/connectors", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode(rec)
	if !got["hackernews"] {
		t.Error("hackernews disabled by default, want enabled")
	}
	if got["weather"] {
		t.Error("weather without key enabled, want disabled")
	}

	// Settings override flips enablement.
	if _, err := ts.settings.Update(func(s *config.Settings) {
		s.Connectors = map[string]bool{"hackernews": false}
	}); err != nil {
		t.Fatalf("updating settings: %v", err)
	}
	got = decode(ts.do(t, http.MethodGet, "/api/connectors", nil))
	if got["hackernews"] {
		t.Error("hackernews enabled after settings disable")
	}
}

func TestConnectorConfigureAndToggle(t *testing.T) {
	ts := newTestServer(t)

	t.Run("configure stores key and enables", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/connectors/configure",
			map[string]any{"name": "weather", "api_key": "ow-test"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}

		rec = ts.do(t, http.MethodGet, "/api/connectors", nil)
		var body struct {
			Connectors []connectorView `json:"connectors"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		for _, c := range body.Connectors {
			if c.Name != "weather" {
				continue
			}
			if !c.Configured || !c.Enabled {
				t.Errorf("weather after configure = %+v, want configured and enabled", c)
			}
		}
	})

	t.Run("toggle flips enablement", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/connectors/hackernews/toggle", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		var view connectorView
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if view.Enabled {
			t.Error("hackernews enabled after toggle, want disabled")
		}

		rec = ts.do(t, http.MethodPost, "/api/connectors/hackernews/toggle", nil)
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if !view.Enabled {
			t.Error("hackernews disabled after second toggle, want enabled")
		}
	})

	t.Run("unknown connector is 404", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/connectors/nope/toggle", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("toggle status = %d, want 404", rec.Code)
		}
		rec = ts.do(t, http.MethodPost, "/api/connectors/configure",
			map[string]any{"name": "nope"})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("configure status = %d, want 404", rec.Code)
		}
	})

	t.Run("key on a keyless connector rejected", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/connectors/configure",
			map[string]any{"name": "hackernews", "api_key": "k"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestSettingsRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/settings", map[string]any{
		"provider_kind": "cloud",
		"cloud_model":   "qwen/qwen-2.5-7b",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodGet, "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got config.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding settings: %v", err)
	}
	if got.ProviderKind != config.ProviderCloud || got.CloudModel != "qwen/qwen-2.5-7b" {
		t.Errorf("settings = %+v, want persisted values", got)
	}

	rec = ts.do(t, http.MethodPut, "/api/settings", map[string]any{"provider_kind": "hybrid"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid kind status = %d, want 400", rec.Code)
	}
}

func TestChatWebSocket(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.events = []chat.Event{
		{Type: chat.EventStart, Provider: "local"},
		{Type: chat.EventToken, Token: "hi"},
		{Type: chat.EventEnd, Content: "hi"},
	}

	srv := httptest.NewServer(ts)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()     //nolint:errcheck
	defer resp.Body.Close() //nolint:errcheck

	if err := conn.WriteJSON(map[string]any{"message": "hello"}); err != nil {
		t.Fatalf("writing request: %v", err)
	}

	var types []chat.EventType
	for range 3 {
		var ev chat.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading event: %v", err)
		}
		types = append(types, ev.Type)
	}
	want := []chat.EventType{chat.EventStart, chat.EventToken, chat.EventEnd}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, types[i], want[i])
		}
	}

	// The loop keeps serving after a completed turn.
	if err := conn.WriteJSON(map[string]any{"message": ""}); err != nil {
		t.Fatalf("writing second request: %v", err)
	}
	var ev chat.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading error event: %v", err)
	}
	if ev.Type != chat.EventError {
		t.Errorf("event = %q, want error for empty message", ev.Type)
	}
}

// haltingEngine blocks its first turn until the context is cancelled;
// later turns complete immediately.
type haltingEngine struct {
	started chan struct{}

	mu    sync.Mutex
	calls int
}

func (e *haltingEngine) Run(ctx context.Context, req chat.Request, emitter chat.Emitter) (*chat.Result, error) {
	e.mu.Lock()
	e.calls++
	first := e.calls == 1
	e.mu.Unlock()

	e.started <- struct{}{}
	if first {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := emitter.Emit(ctx, chat.Event{Type: chat.EventEnd, Content: "done"}); err != nil {
		return nil, err
	}
	return &chat.Result{Answer: "done"}, nil
}

func TestChatWebSocketStop(t *testing.T) {
	ts := newTestServer(t)
	eng := &haltingEngine{started: make(chan struct{}, 2)}
	srv := httptest.NewServer(NewServer(ts.cfg, ts.settings, eng, ts.convs, ts.docs, nil, nil, log.NewNop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()      //nolint:errcheck
	defer resp.Body.Close() //nolint:errcheck

	if err := conn.WriteJSON(map[string]any{"message": "first"}); err != nil {
		t.Fatalf("writing first request: %v", err)
	}
	<-eng.started

	// Stop aborts the in-flight turn; the connection keeps serving.
	if err := conn.WriteJSON(map[string]any{"type": "stop"}); err != nil {
		t.Fatalf("writing stop: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"message": "second"}); err != nil {
		t.Fatalf("writing second request: %v", err)
	}
	<-eng.started

	var ev chat.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if ev.Type != chat.EventEnd || ev.Content != "done" {
		t.Errorf("event = %+v, want end of second turn", ev)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.cfg.RateBurst = 2
	// Rebuild with the tight limit.
	srv := NewServer(ts.cfg, ts.settings, ts.engine, ts.convs, ts.docs, nil, nil, log.NewNop())

	var last int
	for range 5 {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("status after burst = %d, want 429", last)
	}

	// A different client address has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "198.51.100.9:4321"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
}
