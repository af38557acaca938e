package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultEmbeddingDim matches the all-MiniLM-L6-v2 sentence transformer.
const DefaultEmbeddingDim = 384

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed returns one embedding per input, in input order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	// Dimension is the length of every produced vector.
	Dimension() int
}

// HTTPEmbedder speaks the OpenAI-compatible /v1/embeddings API served by
// text-embeddings-inference and similar embedding servers.
type HTTPEmbedder struct {
	baseURL string
	model   string
	dim     int
	httpc   *http.Client
}

// NewHTTPEmbedder creates an embedding client. A nil httpc gets a client
// with a short timeout; embedding calls are small and fast.
func NewHTTPEmbedder(baseURL, model string, dim int, httpc *http.Client) *HTTPEmbedder {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return &HTTPEmbedder{baseURL: baseURL, model: model, dim: dim, httpc: httpc}
}

func (e *HTTPEmbedder) Dimension() int { return e.dim }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("encoding embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: server returned %d: %s",
			ErrEmbeddingUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingUnavailable, err)
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrEmbeddingUnavailable, len(out.Data), len(inputs))
	}

	// The API may return entries out of order; index is authoritative.
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) != e.dim {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				ErrEmbeddingUnavailable, i, len(d.Embedding), e.dim)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
