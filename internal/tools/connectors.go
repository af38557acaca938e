package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Public API endpoints. Overridable in tests.
const (
	hackerNewsBaseURL  = "https://hacker-news.firebaseio.com/v0"
	coinGeckoBaseURL   = "https://api.coingecko.com/api/v3"
	openWeatherBaseURL = "https://api.openweathermap.org/data/2.5"
	gitHubBaseURL      = "https://api.github.com"
)

func defaultHTTPClient(httpc *http.Client) *http.Client {
	if httpc != nil {
		return httpc
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// fetchJSON GETs a URL and returns the raw body after a cheap validity
// check, so connector payloads pass through without re-encoding.
func fetchJSON(ctx context.Context, httpc *http.Client, u string, header http.Header) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", req.URL.Host, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s",
			req.URL.Host, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s returned invalid JSON", req.URL.Host)
	}
	return body, nil
}

// HackerNews returns top stories from the Hacker News public API.
type HackerNews struct {
	BaseURL string
	httpc   *http.Client
}

// NewHackerNews creates the connector. No credentials required.
func NewHackerNews(httpc *http.Client) *HackerNews {
	return &HackerNews{BaseURL: hackerNewsBaseURL, httpc: defaultHTTPClient(httpc)}
}

func (h *HackerNews) Name() string        { return "hackernews" }
func (h *HackerNews) Description() string { return "Top stories from Hacker News" }
func (h *HackerNews) Enabled() bool       { return true }

func (h *HackerNews) Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"limit": {
				Type:        "integer",
				Description: "Number of top stories to return, 1-20",
			},
		},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

type hnStory struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Score int    `json:"score"`
	By    string `json:"by"`
}

func (h *HackerNews) Call(ctx context.Context, params Params) (json.RawMessage, error) {
	limit := 5
	if raw, ok := params["limit"]; ok {
		if f, ok := raw.(float64); ok {
			limit = int(f)
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 20 {
		limit = 20
	}

	raw, err := fetchJSON(ctx, h.httpc, h.BaseURL+"/topstories.json", nil)
	if err != nil {
		return nil, err
	}
	var ids []int
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decoding story ids: %w", err)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	stories := make([]hnStory, 0, len(ids))
	for _, id := range ids {
		item, err := fetchJSON(ctx, h.httpc, fmt.Sprintf("%s/item/%d.json", h.BaseURL, id), nil)
		if err != nil {
			return nil, err
		}
		var s hnStory
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, fmt.Errorf("decoding story %d: %w", id, err)
		}
		stories = append(stories, s)
	}

	out, err := json.Marshal(map[string]any{"stories": stories})
	if err != nil {
		return nil, fmt.Errorf("encoding stories: %w", err)
	}
	return out, nil
}

// Crypto returns coin prices from the CoinGecko public API.
type Crypto struct {
	BaseURL string
	httpc   *http.Client
}

// NewCrypto creates the connector. No credentials required.
func NewCrypto(httpc *http.Client) *Crypto {
	return &Crypto{BaseURL: coinGeckoBaseURL, httpc: defaultHTTPClient(httpc)}
}

func (c *Crypto) Name() string        { return "crypto" }
func (c *Crypto) Description() string { return "Cryptocurrency prices from CoinGecko" }
func (c *Crypto) Enabled() bool       { return true }

func (c *Crypto) Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"coin"},
		Properties: map[string]*jsonschema.Schema{
			"coin": {
				Type:        "string",
				Description: "CoinGecko coin id, e.g. bitcoin, ethereum",
			},
		},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

func (c *Crypto) Call(ctx context.Context, params Params) (json.RawMessage, error) {
	coin, _ := params["coin"].(string)
	q := url.Values{}
	q.Set("ids", coin)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	return fetchJSON(ctx, c.httpc, c.BaseURL+"/simple/price?"+q.Encode(), nil)
}

// Weather returns current conditions from OpenWeatherMap. Requires an
// API key; without one the connector registers disabled.
type Weather struct {
	BaseURL string
	httpc   *http.Client

	mu     sync.RWMutex
	apiKey string
}

// NewWeather creates the connector with the given API key.
func NewWeather(apiKey string, httpc *http.Client) *Weather {
	return &Weather{BaseURL: openWeatherBaseURL, apiKey: apiKey, httpc: defaultHTTPClient(httpc)}
}

func (w *Weather) Name() string        { return "weather" }
func (w *Weather) Description() string { return "Current weather from OpenWeatherMap" }
func (w *Weather) Enabled() bool       { return w.Configured() }

// SetKey replaces the API key for subsequent calls.
func (w *Weather) SetKey(key string) {
	w.mu.Lock()
	w.apiKey = key
	w.mu.Unlock()
}

// Configured reports whether an API key is present.
func (w *Weather) Configured() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.apiKey != ""
}

func (w *Weather) key() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.apiKey
}

func (w *Weather) Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"city"},
		Properties: map[string]*jsonschema.Schema{
			"city": {
				Type:        "string",
				Description: "City name, optionally with country code, e.g. Berlin,DE",
			},
		},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

func (w *Weather) Call(ctx context.Context, params Params) (json.RawMessage, error) {
	city, _ := params["city"].(string)
	q := url.Values{
		"q":     {city},
		"appid": {w.key()},
		"units": {"metric"},
	}
	return fetchJSON(ctx, w.httpc, w.BaseURL+"/weather?"+q.Encode(), nil)
}

// GitHub returns recent commits of a repository from the GitHub REST
// API. A token raises rate limits and grants private repo access but is
// optional.
type GitHub struct {
	BaseURL string
	httpc   *http.Client

	mu    sync.RWMutex
	token string
}

// NewGitHub creates the connector; token may be empty.
func NewGitHub(token string, httpc *http.Client) *GitHub {
	return &GitHub{BaseURL: gitHubBaseURL, token: token, httpc: defaultHTTPClient(httpc)}
}

func (g *GitHub) Name() string        { return "github" }
func (g *GitHub) Description() string { return "Recent commits of a GitHub repository" }
func (g *GitHub) Enabled() bool       { return true }

// SetKey replaces the access token for subsequent calls.
func (g *GitHub) SetKey(key string) {
	g.mu.Lock()
	g.token = key
	g.mu.Unlock()
}

// Configured reports whether an access token is present.
func (g *GitHub) Configured() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token != ""
}

func (g *GitHub) key() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

func (g *GitHub) Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"repo"},
		Properties: map[string]*jsonschema.Schema{
			"repo": {
				Type:        "string",
				Description: "Repository in owner/name form",
				Pattern:     `^[\w.-]+/[\w.-]+$`,
			},
			"limit": {
				Type:        "integer",
				Description: "Number of commits to return, 1-20",
			},
		},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

type ghCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

func (g *GitHub) Call(ctx context.Context, params Params) (json.RawMessage, error) {
	repo, _ := params["repo"].(string)
	limit := 5
	if raw, ok := params["limit"]; ok {
		if f, ok := raw.(float64); ok {
			limit = int(f)
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 20 {
		limit = 20
	}

	header := http.Header{"Accept": {"application/vnd.github+json"}}
	if token := g.key(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	q := url.Values{"per_page": {strconv.Itoa(limit)}}
	raw, err := fetchJSON(ctx, g.httpc,
		fmt.Sprintf("%s/repos/%s/commits?%s", g.BaseURL, repo, q.Encode()), header)
	if err != nil {
		return nil, err
	}

	var commits []ghCommit
	if err := json.Unmarshal(raw, &commits); err != nil {
		return nil, fmt.Errorf("decoding commits: %w", err)
	}

	type entry struct {
		SHA     string `json:"sha"`
		Message string `json:"message"`
		Author  string `json:"author"`
		Date    string `json:"date"`
	}
	out := make([]entry, len(commits))
	for i, c := range commits {
		msg, _, _ := strings.Cut(c.Commit.Message, "\n")
		out[i] = entry{
			SHA:     c.SHA,
			Message: msg,
			Author:  c.Commit.Author.Name,
			Date:    c.Commit.Author.Date,
		}
	}

	payload, err := json.Marshal(map[string]any{"repo": repo, "commits": out})
	if err != nil {
		return nil, fmt.Errorf("encoding commits: %w", err)
	}
	return payload, nil
}
