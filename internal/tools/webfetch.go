package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"

	"genesis/pkg/api"
)

const (
	webFetchTimeout  = 20 * time.Second
	webFetchMaxBytes = 4 << 20
)

// WebFetchTool implements the web_fetch tool (spec §6): fetch a URL and
// return its main content as markdown. Grounded on manifold's
// internal/tools/web.Fetcher (readability extraction falling back to raw
// HTML-to-markdown conversion), trimmed to the one-shot, non-configurable
// shape our tool surface needs.
type WebFetchTool struct {
	http *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{http: &http.Client{Timeout: webFetchTimeout}}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a web page or online PDF and return its readable content as markdown."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"url": map[string]any{"type": "string", "description": "The URL to fetch"},
	}
}

func (t *WebFetchTool) RequiredParameters() []string { return []string{"url"} }

func (t *WebFetchTool) IsPaid() bool { return false }

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	rawURL := argString(args, "url")
	if rawURL == "" {
		return errResult("url is required"), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errResult("invalid or unsupported url: %s", rawURL), nil
	}

	markdown, title, err := t.fetchMarkdown(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}

	text := markdown
	if title != "" {
		text = "# " + title + "\n\n" + markdown
	}
	return textResult(text, 0, map[string]any{"content_tokens": len(strings.Fields(text))}), nil
}

func (t *WebFetchTool) fetchMarkdown(ctx context.Context, u *url.URL) (markdown, title string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; genesis-bot/1.0)")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("fetch http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBytes))
	if err != nil {
		return "", "", err
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), u)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		md, convErr := htmltomarkdown.ConvertString(article.Content)
		if convErr == nil {
			return md, article.Title, nil
		}
	}

	md, convErr := htmltomarkdown.ConvertString(string(body))
	if convErr != nil {
		return string(body), "", nil
	}
	return md, "", nil
}
