package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genesis/pkg/api"
)

const webSearchCostUSD = 0.01

// WebSearchTool implements the web_search tool (spec §6) against a SearXNG
// instance. Grounded directly on manifold's internal/tools/web.tool, kept to
// the JSON API path (the corpus's own HTML-scrape fallback is omitted here
// since our result contract only needs title/url/snippet, not link
// harvesting for a crawler).
type WebSearchTool struct {
	http       *http.Client
	searxngURL string
}

func NewWebSearchTool(searxngURL string) *WebSearchTool {
	return &WebSearchTool{
		http:       &http.Client{Timeout: 12 * time.Second},
		searxngURL: strings.TrimSuffix(searxngURL, "/"),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information, news, or research and return results with citations."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"query": map[string]any{"type": "string", "description": "Search query"},
	}
}

func (t *WebSearchTool) RequiredParameters() []string { return []string{"query"} }

func (t *WebSearchTool) IsPaid() bool { return true }

type webSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	query := strings.TrimSpace(argString(args, "query"))
	if query == "" {
		return errResult("query is required"), nil
	}

	results, err := t.search(ctx, query, 5)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	if len(results) == 0 {
		return textResult("No results found.", webSearchCostUSD, nil), nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return textResult(strings.TrimSpace(b.String()), webSearchCostUSD, map[string]any{"results": results}), nil
}

func (t *WebSearchTool) search(ctx context.Context, query string, max int) ([]webSearchResult, error) {
	v := url.Values{}
	v.Set("q", query)
	v.Set("format", "json")
	v.Set("categories", "general")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.searxngURL+"/search?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("searxng http %d", resp.StatusCode)
	}

	var decoded struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	out := make([]webSearchResult, 0, max)
	for i, r := range decoded.Results {
		if i >= max {
			break
		}
		out = append(out, webSearchResult{Title: strings.TrimSpace(r.Title), URL: r.URL, Snippet: strings.TrimSpace(r.Content)})
	}
	return out, nil
}
