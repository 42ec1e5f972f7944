// http.go implements the HTTP tool: raw requests plus readable-text
// extraction of web pages via go-readability.
package tools

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// maxHTTPBody caps response bodies handed back to the model.
const maxHTTPBody = 1 << 20 // 1MB

// HTTPTool performs HTTP requests and page extraction.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates the HTTP tool with a 30s request timeout.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *HTTPTool) Name() string { return "http" }
func (t *HTTPTool) Init() error  { return nil }

func (t *HTTPTool) KnownArgs() []string {
	return []string{"op", "operation", "action", "url", "method", "body", "headers", "readable"}
}

func (t *HTTPTool) Run(ctx context.Context, args map[string]any) Result {
	if fail := requireArgs(args, "url"); fail != nil {
		return fail
	}
	rawURL := strArg(args, "url")

	if opArg(args) == "read" || boolArg(args, "readable") {
		return t.readable(ctx, rawURL)
	}

	method := strings.ToUpper(strArg(args, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if b := strArg(args, "body"); b != "" {
		body = strings.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return Errorf("invalid request: %v", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Skippy/1.0)")
	if headers, ok := args["headers"].(map[string]any); ok {
		for k := range headers {
			req.Header.Set(k, strArg(headers, k))
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return Errorf("reading response: %v", err)
	}

	return Result{
		"success":     resp.StatusCode < 400,
		"status":      resp.StatusCode,
		"contentType": resp.Header.Get("Content-Type"),
		"body":        string(data),
	}
}

// readable fetches a page and extracts its main text content.
func (t *HTTPTool) readable(ctx context.Context, rawURL string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Errorf("invalid URL: %v", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Skippy/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf("fetch error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	html, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return Errorf("reading response: %v", err)
	}

	parsed, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(string(html)), parsed)
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		return Errorf("no readable content extracted from %s", rawURL)
	}

	return OK(map[string]any{
		"url":   rawURL,
		"title": article.Title,
		"text":  strings.TrimSpace(article.TextContent),
	})
}

func (t *HTTPTool) Context() string {
	return `HTTP requests and page reading.
Operations:
- request: {url: string, method?: GET|POST|…, body?: string, headers?: object}
  → {success, status, contentType, body}
- read: {op: "read", url: string} → {success, title, text}
  (extracts the readable article text of a web page)`
}
