package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/firechair/knowledge-console/internal/log"
)

// localStopTokens terminate llama.cpp generation at instruction-format
// boundaries so the model does not hallucinate follow-up turns.
var localStopTokens = []string{"</s>", "[INST]", "[/INST]"}

// localClient speaks the llama.cpp server completion API.
type localClient struct {
	baseURL string
	httpc   *http.Client
	logger  log.Logger
}

func (c *localClient) Name() string  { return "local" }
func (c *localClient) Model() string { return "" }

type localCompletionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float32  `json:"temperature"`
	Stop        []string `json:"stop"`
	Stream      bool     `json:"stream"`
}

type localCompletionChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// instructPrompt renders system and user text in the [INST] instruction
// format llama.cpp instruction-tuned models expect.
func instructPrompt(system, user string) string {
	var b strings.Builder
	b.WriteString("[INST] ")
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	b.WriteString(user)
	b.WriteString(" [/INST]")
	return b.String()
}

func (c *localClient) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	payload := localCompletionRequest{
		Prompt:      instructPrompt(req.System, req.Prompt),
		NPredict:    req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        localStopTokens,
		Stream:      stream,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: local server at %s: %v", ErrUnavailable, c.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: local server returned %d: %s",
			ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

func (c *localClient) Stream(ctx context.Context, req Request, fn StreamFunc) error {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var chunk localCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("%w: malformed stream chunk: %v", ErrProtocol, err)
		}
		if chunk.Content != "" {
			if err := fn(ctx, chunk.Content); err != nil {
				return err
			}
		}
		if chunk.Stop {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: reading stream: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *localClient) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	var out localCompletionChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding completion response: %v", ErrProtocol, err)
	}
	return strings.TrimSpace(out.Content), nil
}
