// Package llm implements the streaming chat client against an
// Ollama-compatible endpoint, with a total-timeout, a stream-inactivity
// watchdog, retry with exponential backoff on transient failures, and
// model introspection.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/skippy-ai/skippy/pkg/skippy/config"
)

const (
	// backoffBase is the first retry delay; doubled per attempt.
	backoffBase = time.Second

	// backoffCap bounds the retry delay.
	backoffCap = 30 * time.Second
)

// ChunkFunc receives each streamed content chunk as it arrives.
type ChunkFunc func(chunk string)

// ModelInfo describes one installed model.
type ModelInfo struct {
	Name          string
	ParamSize     string
	Quantization  string
	ContextLength int
}

// Client talks to an Ollama-compatible endpoint.
type Client struct {
	api        *api.Client
	model      string
	total      time.Duration
	inactivity time.Duration
	maxRetries int
	logger     *slog.Logger
}

// ChatRequest is one streaming chat call.
type ChatRequest struct {
	// Prompt is the user text.
	Prompt string

	// Context is the assembled system block, prepended to the prompt.
	Context string

	// Model overrides the default model when non-empty.
	Model string

	// Images are raw image bytes attached to the user message.
	Images [][]byte

	// OnChunk is called per streamed chunk. May be nil.
	OnChunk ChunkFunc
}

// New builds a client from config. The underlying http.Client carries no
// global timeout; streams can legitimately run for minutes, so each call
// gets a per-call context deadline instead.
func New(cfg config.OllamaConfig, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.Host, "/"))
	if err != nil {
		return nil, fmt.Errorf("llm: invalid host %q: %w", cfg.Host, err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	var rt http.RoundTripper = transport
	if cfg.APIKey != "" {
		rt = &authRoundTripper{key: cfg.APIKey, next: transport}
	}

	httpClient := &http.Client{Transport: rt}

	return &Client{
		api:        api.NewClient(u, httpClient),
		model:      cfg.Model,
		total:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		inactivity: time.Duration(cfg.StreamInactivitySeconds) * time.Second,
		maxRetries: cfg.MaxRetries,
		logger:     logger.With("component", "llm"),
	}, nil
}

// authRoundTripper injects the bearer token on every request.
type authRoundTripper struct {
	key  string
	next http.RoundTripper
}

func (a *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+a.key)
	return a.next.RoundTrip(req)
}

// Model returns the default model name.
func (c *Client) Model() string { return c.model }

// Chat opens a streaming chat: a single user message whose content is
// context + "\n" + prompt, with optional images. Returns the full
// response text after the final flush.
//
// Failure modes:
//   - ErrTimeout when the total wall-clock budget elapses
//   - ErrStreamStalled when no chunk arrives within the inactivity window
//   - ErrUnauthorized / ErrRateLimited / ErrServiceUnavailable / ErrNetwork
//     per transport classification; only retryable kinds are retried.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	content := req.Prompt
	if req.Context != "" {
		content = req.Context + "\n" + req.Prompt
	}

	msg := api.Message{Role: "user", Content: content}
	for _, img := range req.Images {
		msg.Images = append(msg.Images, api.ImageData(img))
	}

	stream := true
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{msg},
		Stream:   &stream,
	}

	var out string
	err := c.withRetry(ctx, func(attempt int) error {
		text, err := c.streamOnce(ctx, chatReq, req.OnChunk)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// streamOnce performs a single streaming attempt with both timeouts armed.
func (c *Client) streamOnce(ctx context.Context, req *api.ChatRequest, onChunk ChunkFunc) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.total)
	defer cancel()

	// Inactivity watchdog: a timer reset on every chunk. When it fires the
	// in-flight request is aborted at the transport layer via cancel().
	var stalled atomic.Bool
	watchdog := time.AfterFunc(c.inactivity, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	var b strings.Builder
	start := time.Now()
	err := c.api.Chat(callCtx, req, func(resp api.ChatResponse) error {
		watchdog.Reset(c.inactivity)
		if resp.Message.Content != "" {
			b.WriteString(resp.Message.Content)
			if onChunk != nil {
				onChunk(resp.Message.Content)
			}
		}
		if resp.Done {
			c.logger.Debug("stream complete",
				"model", req.Model,
				"prompt_tokens", resp.PromptEvalCount,
				"completion_tokens", resp.EvalCount,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		}
		return nil
	})
	if err != nil {
		if stalled.Load() {
			return "", fmt.Errorf("%w after %s of silence", ErrStreamStalled, c.inactivity)
		}
		if callCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w after %s", ErrTimeout, c.total)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classify(err)
	}

	// Final flush: a stream that ended cleanly but produced nothing is
	// still a valid (empty) response; the orchestrator handles that case.
	return b.String(), nil
}

// withRetry runs fn, retrying retryable failures with exponential backoff
// (1s, 2s, 4s … capped at 30s), honoring a parseable server retry-after.
func (c *Client) withRetry(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, lastErr)
			c.logger.Warn("retrying ollama request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"delay", delay.String(),
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		// Timeouts, stalls and fatal transport errors are not retried.
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("ollama request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// retryAfterRE extracts a server-suggested wait from an error message,
// e.g. "retry after 12s" or "retry-after: 12".
var retryAfterRE = regexp.MustCompile(`(?i)retry[- ]after[:\s]+(\d+)`)

// backoffDelay computes the wait before the given attempt (1-based).
func backoffDelay(attempt int, lastErr error) time.Duration {
	if lastErr != nil {
		if m := retryAfterRE.FindStringSubmatch(lastErr.Error()); m != nil {
			if secs, err := strconv.Atoi(m[1]); err == nil && secs > 0 {
				d := time.Duration(secs) * time.Second
				if d > backoffCap {
					return backoffCap
				}
				return d
			}
		}
	}
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Introspect fetches parameter size, quantization and context length for
// a model. Called once at startup; the detected context length becomes
// the process-wide effective window unless the config overrides it.
func (c *Client) Introspect(ctx context.Context, model string) (*ModelInfo, error) {
	if model == "" {
		model = c.model
	}
	resp, err := c.api.Show(ctx, &api.ShowRequest{Model: model})
	if err != nil {
		return nil, classify(err)
	}

	info := &ModelInfo{
		Name:         model,
		ParamSize:    resp.Details.ParameterSize,
		Quantization: resp.Details.QuantizationLevel,
	}
	info.ContextLength = contextLengthFrom(resp.ModelInfo)
	return info, nil
}

// ListModels returns every installed model with its details. The list
// endpoint carries no context length, so each model gets a show call;
// a failing show leaves ContextLength at zero rather than failing the
// whole listing.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, classify(err)
	}
	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		mi := ModelInfo{
			Name:         m.Name,
			ParamSize:    m.Details.ParameterSize,
			Quantization: m.Details.QuantizationLevel,
		}
		if show, err := c.api.Show(ctx, &api.ShowRequest{Model: m.Name}); err != nil {
			c.logger.Debug("model show failed", "model", m.Name, "error", err)
		} else {
			mi.ContextLength = contextLengthFrom(show.ModelInfo)
		}
		models = append(models, mi)
	}
	return models, nil
}

// contextLengthFrom digs "<arch>.context_length" out of the show payload.
func contextLengthFrom(modelInfo map[string]any) int {
	arch, _ := modelInfo["general.architecture"].(string)
	if arch == "" {
		return 0
	}
	v, ok := modelInfo[arch+".context_length"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

// Summarize asks the model to compress text under an instruction.
// Used for the condensed tool context and the fallback final answer.
func (c *Client) Summarize(ctx context.Context, instruction, text string) (string, error) {
	out, err := c.Chat(ctx, ChatRequest{
		Prompt:  text,
		Context: instruction,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
