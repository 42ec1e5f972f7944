// websearch.go implements web search against the DuckDuckGo HTML
// endpoint (no API key), with a config-overridable endpoint.
package tools

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/skippy-ai/skippy/pkg/skippy/config"
)

// defaultSearchEndpoint is the keyless HTML search endpoint.
const defaultSearchEndpoint = "https://html.duckduckgo.com/html/"

// WebSearchTool queries the web.
type WebSearchTool struct {
	endpoint string
	client   *http.Client
}

// NewWebSearchTool creates the search tool.
func NewWebSearchTool(cfg config.WebSearchToolConfig) *WebSearchTool {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultSearchEndpoint
	}
	return &WebSearchTool{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Init() error  { return nil }

func (t *WebSearchTool) KnownArgs() []string { return []string{"query", "limit"} }

// resultRE pulls result links and titles out of the HTML response.
var resultRE = regexp.MustCompile(
	`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)

// snippetRE pulls result snippets.
var snippetRE = regexp.MustCompile(
	`(?s)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)

// tagRE strips residual markup from titles and snippets.
var tagRE = regexp.MustCompile(`<[^>]+>`)

func (t *WebSearchTool) Run(ctx context.Context, args map[string]any) Result {
	if fail := requireArgs(args, "query"); fail != nil {
		return fail
	}
	query := strArg(args, "query")
	limit := intArg(args, "limit", 5)
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Errorf("building search request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Skippy/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf("search failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Errorf("search returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return Errorf("reading search response: %v", err)
	}
	html := string(body)

	links := resultRE.FindAllStringSubmatch(html, limit)
	snippets := snippetRE.FindAllStringSubmatch(html, limit)

	var results []map[string]any
	for i, m := range links {
		item := map[string]any{
			"url":   cleanSearchURL(m[1]),
			"title": cleanHTML(m[2]),
		}
		if i < len(snippets) {
			item["snippet"] = cleanHTML(snippets[i][1])
		}
		results = append(results, item)
	}

	if len(results) == 0 {
		return OK(map[string]any{"query": query, "results": []map[string]any{},
			"note": "no results"})
	}
	return OK(map[string]any{"query": query, "results": results})
}

// cleanSearchURL unwraps the redirect the HTML endpoint wraps links in.
func cleanSearchURL(href string) string {
	if u, err := url.Parse(href); err == nil {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}

func cleanHTML(s string) string {
	s = tagRE.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#x27;", "'")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	return strings.TrimSpace(s)
}

func (t *WebSearchTool) Context() string {
	return `Search the web. {query: string, limit?: int (default 5)}
→ {success, results: [{url, title, snippet}]}`
}
