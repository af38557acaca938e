// Package provider resolves and speaks to language model backends.
//
// Two backends are supported: a local llama.cpp server and an
// OpenRouter-compatible cloud endpoint. Resolution is per turn from an
// immutable configuration snapshot; once a backend is chosen the turn
// stays on it, a cloud failure surfaces as an error rather than a
// silent retry against the local server.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/firechair/knowledge-console/internal/config"
	"github.com/firechair/knowledge-console/internal/log"
)

// Sentinel errors returned by clients.
var (
	// ErrUnavailable indicates the backend could not be reached or
	// refused the request.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrProtocol indicates the backend responded with a payload the
	// client could not interpret.
	ErrProtocol = errors.New("provider protocol error")
)

// Request is a single generation request. Prompt is the fully assembled
// user-turn text; context assembly happens upstream.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// StreamFunc receives generated tokens in order. Returning an error
// aborts the stream and propagates out of Stream.
type StreamFunc func(ctx context.Context, token string) error

// Client generates text from a single backend.
type Client interface {
	// Name identifies the backend kind, "local" or "cloud".
	Name() string
	// Model reports the model the client will request, empty for
	// backends that serve a single loaded model.
	Model() string
	// Stream generates a completion, delivering tokens through fn as
	// they arrive. It returns after the final token or on error.
	Stream(ctx context.Context, req Request, fn StreamFunc) error
	// Generate is the non-streaming form, returning the full completion.
	Generate(ctx context.Context, req Request) (string, error)
}

// Router resolves a configuration snapshot to a concrete client.
type Router struct {
	httpc  *http.Client
	logger log.Logger
}

// NewRouter creates a router. A nil httpc gets a client with a
// generation-appropriate timeout.
func NewRouter(httpc *http.Client, logger log.Logger) *Router {
	if httpc == nil {
		httpc = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Router{httpc: httpc, logger: logger}
}

// Resolve picks the backend for one turn.
//
// Precedence: an explicit local selection always wins, even with cloud
// credentials present. Otherwise cloud is used when an API key is
// configured, falling back to the default model when no override is
// set. With no selection and no credentials, local is the default.
func (r *Router) Resolve(snap config.Snapshot) (Client, error) {
	switch snap.ProviderKind {
	case config.ProviderLocal:
		return r.local(snap), nil
	case config.ProviderCloud:
		if snap.CloudAPIKey == "" {
			return nil, config.ErrCloudKeyMissing
		}
		return r.cloud(snap), nil
	default:
		if snap.CloudAPIKey != "" {
			return r.cloud(snap), nil
		}
		return r.local(snap), nil
	}
}

func (r *Router) local(snap config.Snapshot) Client {
	return &localClient{
		baseURL: snap.LocalBaseURL,
		httpc:   r.httpc,
		logger:  r.logger,
	}
}

func (r *Router) cloud(snap config.Snapshot) Client {
	model := snap.CloudModel
	if model == "" {
		model = config.DefaultCloudModel
	}
	return &cloudClient{
		baseURL: snap.CloudBaseURL,
		apiKey:  snap.CloudAPIKey,
		model:   model,
		httpc:   r.httpc,
		logger:  r.logger,
	}
}
