package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/skippy-ai/skippy/pkg/skippy/ctxitems"
	"github.com/skippy-ai/skippy/pkg/skippy/llm"
	"github.com/skippy-ai/skippy/pkg/skippy/tools"
)

// fallbackTimeout caps the fallback summarization call.
const fallbackTimeout = 3 * time.Minute

// fallbackApology is emitted when even the fallback summary fails.
const fallbackApology = "Sorry, I finished the work but couldn't put together a summary of what happened."

// defaultContextWindow is assumed when neither config nor introspection
// supplies a window.
const defaultContextWindow = 1_000_000

// ChatClient is the LLM surface the loop needs. Satisfied by
// *llm.Client; tests substitute a fake.
type ChatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (string, error)
	Summarize(ctx context.Context, instruction, text string) (string, error)
	Model() string
}

// StatusSink receives progress updates for a chat-visible prompt. The
// gateway posts them as status bubbles and deletes them after the final
// answer.
type StatusSink interface {
	Status(text string)
}

// Request is one prompt entering the loop.
type Request struct {
	// Prompt is the user text.
	Prompt string

	// Model overrides the default model when non-empty.
	Model string

	// ExtraContext is wrapped in a <context> element ahead of the prompt.
	ExtraContext string

	// Channel identifies the conversation; empty means headless (IPC or
	// scheduler), which skips continuations and the single-chain gate.
	Channel string

	// User is the requesting user identifier.
	User string

	// Status receives progress updates. May be nil.
	Status StatusSink

	// ImageSources are URLs or file paths loaded once, on the first
	// iteration only.
	ImageSources []string

	// OnChunk streams final-answer chunks when the caller wants them.
	OnChunk llm.ChunkFunc
}

// continuation is the saved state of a loop that hit its limit.
type continuation struct {
	toolResults    []ToolResult
	originalPrompt string
	loopCount      int
}

// Orchestrator runs the agentic loop.
type Orchestrator struct {
	llm      ChatClient
	registry *tools.Registry
	builder  *ContextBuilder
	items    *ctxitems.Manager
	aborts   *AbortRegistry
	logger   *slog.Logger

	loopLimit     int
	contextWindow int
	enforceBudget bool

	mu            sync.Mutex
	active        map[string]bool
	continuations map[string]*continuation
}

// Options configures the loop.
type Options struct {
	LoopLimit int

	// ContextWindow is the effective window: config override if set,
	// else the introspected length, else a permissive default.
	ContextWindow int

	// EnforceBudget turns the per-iteration accounting from observational
	// into a hard gate.
	EnforceBudget bool
}

// New creates an orchestrator. items may be nil for headless setups.
func New(
	chat ChatClient,
	registry *tools.Registry,
	builder *ContextBuilder,
	items *ctxitems.Manager,
	aborts *AbortRegistry,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = defaultContextWindow
	}
	return &Orchestrator{
		llm:           chat,
		registry:      registry,
		builder:       builder,
		items:         items,
		aborts:        aborts,
		logger:        logger.With("component", "orchestrator"),
		loopLimit:     opts.LoopLimit,
		contextWindow: opts.ContextWindow,
		enforceBudget: opts.EnforceBudget,
		active:        map[string]bool{},
		continuations: map[string]*continuation{},
	}
}

// Aborts exposes the abort registry to the gateway.
func (o *Orchestrator) Aborts() *AbortRegistry { return o.aborts }

// ErrChannelBusy is returned when a channel already has an in-flight
// prompt chain. The first chain is never cancelled implicitly.
var ErrChannelBusy = fmt.Errorf("orchestrator: a prompt is already running in this channel")

// Run executes one prompt chain and returns the final answer.
func (o *Orchestrator) Run(ctx context.Context, req Request) (string, error) {
	if req.Channel != "" {
		o.mu.Lock()
		if o.active[req.Channel] {
			o.mu.Unlock()
			return "", ErrChannelBusy
		}
		o.active[req.Channel] = true
		o.mu.Unlock()
		defer func() {
			o.mu.Lock()
			delete(o.active, req.Channel)
			o.mu.Unlock()
		}()
	}

	state := o.restoreOrFresh(&req)
	return o.loop(ctx, req, state)
}

// loopState is the per-chain mutable state.
type loopState struct {
	toolResults    []ToolResult
	originalPrompt string
	loopCount      int
}

// restoreOrFresh resumes a saved continuation when the new prompt is an
// affirmative response to the step-limit question; otherwise any saved
// continuation for the channel is discarded.
func (o *Orchestrator) restoreOrFresh(req *Request) *loopState {
	state := &loopState{originalPrompt: req.Prompt}
	if req.Channel == "" {
		return state
	}

	o.mu.Lock()
	saved := o.continuations[req.Channel]
	delete(o.continuations, req.Channel)
	o.mu.Unlock()

	if saved == nil {
		return state
	}
	if !isAffirmative(req.Prompt) {
		o.logger.Debug("discarding saved continuation", "channel", req.Channel)
		return state
	}

	o.logger.Info("resuming continuation",
		"channel", req.Channel, "loops_done", saved.loopCount)
	req.Prompt = saved.originalPrompt
	return &loopState{
		toolResults:    saved.toolResults,
		originalPrompt: saved.originalPrompt,
		loopCount:      saved.loopCount,
	}
}

// affirmatives are the tokens that resume a pending continuation.
var affirmatives = map[string]bool{
	"yes": true, "yep": true, "yeah": true, "y": true,
	"ok": true, "okay": true, "sure": true,
	"continue": true, "proceed": true, "go ahead": true,
	"do it": true, "keep going": true,
}

func isAffirmative(prompt string) bool {
	return affirmatives[strings.ToLower(strings.TrimSpace(strings.TrimRight(prompt, ".!")))]
}

// loop is the core iteration.
func (o *Orchestrator) loop(ctx context.Context, req Request, state *loopState) (string, error) {
	status(req, "thinking…")

	assembled := o.builder.Build(ctx, req.User, req.Channel)
	userMessage := req.Prompt
	if req.ExtraContext != "" {
		userMessage = "<context>\n" + req.ExtraContext + "\n</context>\n\n" + req.Prompt
	}

	images, imgErr := o.loadImages(ctx, req.ImageSources)
	if imgErr != nil {
		o.logger.Warn("loading images", "error", imgErr)
	}

	for {
		if req.Channel != "" && o.aborts.Consume(req.Channel) {
			return o.abortAnswer(state), nil
		}
		if state.loopCount >= o.loopLimit {
			return o.hitLoopLimit(req, state), nil
		}
		state.loopCount++
		if state.loopCount > 1 {
			status(req, fmt.Sprintf("processing step %d…", state.loopCount))
		}

		prompt := o.iterationPrompt(userMessage, state)
		o.accountTokens(assembled, prompt, state.loopCount)

		chatReq := llm.ChatRequest{
			Prompt:  prompt,
			Context: assembled,
			Model:   req.Model,
		}
		// Images ride only on the first iteration.
		if state.loopCount == 1 {
			chatReq.Images = images
		}

		raw, err := o.llm.Chat(ctx, chatReq)
		if err != nil {
			return "", fmt.Errorf("llm call failed: %w", err)
		}

		if req.Channel != "" && o.aborts.Consume(req.Channel) {
			return o.abortAnswer(state), nil
		}

		candidate, blocks := SplitResponse(raw)
		env, repaired, err := ParseEnvelope(candidate)
		if err != nil {
			return "", fmt.Errorf("could not parse model response: %w", err)
		}

		if env.Empty() {
			// Wrong format: tell the model and loop.
			o.logger.Warn("model response lacked control fields", "loop", state.loopCount)
			state.toolResults = append(state.toolResults, systemResult(
				"your last response had none of actions/final_answer/continue; respond with the required JSON object"))
			continue
		}
		if repaired {
			state.toolResults = append(state.toolResults, systemResult(
				"your last response was malformed JSON and had to be repaired; emit exactly one valid JSON object"))
		}

		anyFailure, aborted := o.executeActions(ctx, req, env, &blocks, state)
		if aborted {
			return o.abortAnswer(state), nil
		}

		// A failed tool forces another iteration so the model sees the
		// failure and can react.
		if anyFailure {
			env.Continue = true
		}

		if !env.Continue && (env.FinalAnswer != "" || len(env.Actions) == 0) {
			if req.Channel != "" {
				o.aborts.Clear(req.Channel)
			}
			status(req, "done")
			if env.FinalAnswer == "" && len(state.toolResults) > 0 {
				return o.fallbackSummary(state), nil
			}
			if env.FinalAnswer == "" {
				return fallbackApology, nil
			}
			if req.OnChunk != nil {
				req.OnChunk(env.FinalAnswer)
			}
			return env.FinalAnswer, nil
		}
	}
}

// executeActions runs every action in order, injecting out-of-band
// payloads, and appends the results. Returns whether any tool failed
// and whether an abort was consumed mid-iteration.
func (o *Orchestrator) executeActions(
	ctx context.Context, req Request, env *Envelope, blocks *Blocks, state *loopState,
) (anyFailure, aborted bool) {
	for _, act := range env.Actions {
		if req.Channel != "" && o.aborts.Consume(req.Channel) {
			return anyFailure, true
		}

		args := tools.NormalizeArgs(act.Arguments, act.Meta)
		injectBlocks(act.Tool, args, blocks)

		status(req, "running "+act.Tool)
		result := o.registry.Run(ctx, act.Tool, args)
		if result.Failed() {
			anyFailure = true
			o.logger.Warn("tool failed", "tool", act.Tool, "error", result.ErrorMsg())
		} else {
			o.logger.Debug("tool succeeded", "tool", act.Tool)
		}

		state.toolResults = append(state.toolResults, ToolResult{
			Tool:      act.Tool,
			Arguments: loggableArgs(args),
			Result:    map[string]any(result),
		})
	}
	return anyFailure, false
}

// injectBlocks moves a matching out-of-band payload into the file
// writer's content or the patcher's changes.
func injectBlocks(tool string, args map[string]any, blocks *Blocks) {
	path, _ := args["filepath"].(string)
	if path == "" {
		path, _ = args["path"].(string)
	}

	switch tools.CanonicalName(tool) {
	case "filewrite":
		if _, has := args["content"]; !has {
			if content, ok := blocks.FileContent(path); ok {
				args["content"] = content
			}
		}
	case "patchfile":
		if _, has := args["changes"]; !has {
			if changes, ok := blocks.PatchChanges(path); ok {
				args["changes"] = changes
			}
		}
	}
}

// loggableArgs truncates bulky payloads before they enter tool_results.
func loggableArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > 500 {
			out[k] = s[:500] + fmt.Sprintf("… (%d bytes)", len(s))
			continue
		}
		out[k] = v
	}
	return out
}

// iterationPrompt builds the per-iteration user message: the original
// prompt, then accumulated tool results as JSON.
func (o *Orchestrator) iterationPrompt(userMessage string, state *loopState) string {
	if len(state.toolResults) == 0 {
		return userMessage
	}
	results, err := json.MarshalIndent(state.toolResults, "", "  ")
	if err != nil {
		results = []byte(fmt.Sprintf("%v", state.toolResults))
	}
	return userMessage + "\n\nTool results so far:\n" + string(results) +
		"\n\nContinue the task. Respond with the required JSON object."
}

// systemResult injects a system-level notice into the tool results.
func systemResult(msg string) ToolResult {
	return ToolResult{
		Tool:   "_system",
		Result: map[string]any{"success": false, "error": msg},
	}
}

// abortAnswer reports the abort. Partial work is logged and the reply
// accounts for what was discarded, so an interrupted chain never
// vanishes silently.
func (o *Orchestrator) abortAnswer(state *loopState) string {
	o.logger.Info("chain aborted",
		"loops", state.loopCount, "tool_results", len(state.toolResults))
	if len(state.toolResults) == 0 {
		return "Aborted."
	}
	return fmt.Sprintf("Aborted after %d step(s); results from %d tool call(s) were discarded.",
		state.loopCount, len(state.toolResults))
}

// hitLoopLimit saves a continuation and produces the step-limit answer.
func (o *Orchestrator) hitLoopLimit(req Request, state *loopState) string {
	answer := fmt.Sprintf(
		"I've hit my step limit (%d steps) and there's still work to do. Would you like me to continue?",
		o.loopLimit)
	if req.Channel == "" {
		return answer
	}
	o.mu.Lock()
	o.continuations[req.Channel] = &continuation{
		toolResults:    state.toolResults,
		originalPrompt: state.originalPrompt,
		loopCount:      0,
	}
	o.mu.Unlock()
	o.logger.Info("loop limit reached, continuation saved",
		"channel", req.Channel, "limit", o.loopLimit)
	return answer
}

// fallbackSummary asks the model for a short user-facing summary of the
// tool results when the loop ended without a final answer.
func (o *Orchestrator) fallbackSummary(state *loopState) string {
	ctx, cancel := context.WithTimeout(context.Background(), fallbackTimeout)
	defer cancel()

	results, err := json.Marshal(state.toolResults)
	if err != nil {
		return fallbackApology
	}
	summary, err := o.llm.Summarize(ctx,
		"The assistant finished a task but produced no final answer. Write a short, friendly message to the user summarizing what was done, based on these tool results. Plain text only.",
		string(results))
	if err != nil || strings.TrimSpace(summary) == "" {
		o.logger.Warn("fallback summary failed", "error", err)
		return fallbackApology
	}
	return summary
}

// accountTokens logs the estimated prompt footprint against the
// effective context window. Observational unless enforcement is on.
func (o *Orchestrator) accountTokens(assembled, prompt string, loop int) {
	est := (len(assembled) + len(prompt)) / 4
	utilization := float64(est) / float64(o.contextWindow)
	o.logger.Info("token accounting",
		"loop", loop,
		"est_tokens", est,
		"context_window", o.contextWindow,
		"utilization", fmt.Sprintf("%.1f%%", utilization*100),
	)
	if o.enforceBudget && est > o.contextWindow {
		o.logger.Warn("estimated tokens exceed context window",
			"est_tokens", est, "context_window", o.contextWindow)
	}
}

// loadImages fetches each source once: http(s) URLs are downloaded,
// anything else is read from disk. Pinned image items join the set.
func (o *Orchestrator) loadImages(ctx context.Context, sources []string) ([][]byte, error) {
	all := append([]string(nil), sources...)
	if o.items != nil {
		for _, item := range o.items.List() {
			if item.Type == ctxitems.TypeImage {
				all = append(all, item.Path)
			}
		}
	}
	if len(all) == 0 {
		return nil, nil
	}

	var images [][]byte
	var firstErr error
	for _, src := range all {
		data, err := loadImage(ctx, src)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("loading image %s: %w", src, err)
			}
			continue
		}
		images = append(images, data)
	}
	return images, firstErr
}

func loadImage(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	}
	return os.ReadFile(src)
}

func status(req Request, text string) {
	if req.Status != nil {
		req.Status.Status(text)
	}
}
