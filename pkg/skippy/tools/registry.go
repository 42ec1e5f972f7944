// Package tools defines the uniform tool contract and the registry that
// dispatches LLM tool calls. A tool is Init + Run + Context: Context()
// returns the capability document the registry condenses into the tool
// context injected in every prompt.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Result is the uniform tool result shape: a JSON-ready object carrying
// at least {"success": bool} and, on failure, {"error": string}.
type Result map[string]any

// OK builds a successful result from the given fields.
func OK(fields map[string]any) Result {
	r := Result{"success": true}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// Errorf builds a failed result.
func Errorf(format string, args ...any) Result {
	return Result{"success": false, "error": fmt.Sprintf(format, args...)}
}

// Failed reports whether the result carries a failure: success=false or
// a non-null error field.
func (r Result) Failed() bool {
	if ok, present := r["success"].(bool); present && !ok {
		return true
	}
	if err, present := r["error"]; present && err != nil {
		if s, ok := err.(string); !ok || s != "" {
			return true
		}
	}
	return false
}

// ErrorMsg returns the error text, if any.
func (r Result) ErrorMsg() string {
	if s, ok := r["error"].(string); ok {
		return s
	}
	return ""
}

// Tool is the contract every tool satisfies.
type Tool interface {
	// Name is the canonical tool name (snake_case).
	Name() string

	// Init prepares the tool. May be a no-op.
	Init() error

	// Run executes one invocation with normalized arguments.
	Run(ctx context.Context, args map[string]any) Result

	// Context returns the tool's capability document: a human-readable
	// schema of operations, argument shapes and result shape.
	Context() string
}

// ArgSpec is an optional interface a tool implements to declare its
// accepted argument keys. Unknown keys are rejected at the registry
// boundary with a message the model can act on.
type ArgSpec interface {
	KnownArgs() []string
}

// Summarizer compresses the concatenated capability documents into the
// condensed tool context. Implemented by the LLM client.
type Summarizer interface {
	Summarize(ctx context.Context, instruction, text string) (string, error)
}

// Registry holds every registered tool and dispatches by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool // canonical name → tool
	order []string        // registration order for stable context output

	summarizer Summarizer
	logger     *slog.Logger

	// condensed caches the condensed tool context for the generation of
	// registrations it was computed from.
	condensed    string
	condensedGen int
	gen          int
}

// NewRegistry creates an empty registry. The summarizer may be nil; the
// condensed context then falls back to the raw concatenation.
func NewRegistry(summarizer Summarizer, logger *slog.Logger) *Registry {
	return &Registry{
		tools:      map[string]Tool{},
		summarizer: summarizer,
		logger:     logger.With("component", "tools"),
	}
}

// nonAlnumRE strips everything outside [a-z0-9].
var nonAlnumRE = regexp.MustCompile(`[^a-z0-9]`)

// CanonicalName maps any spelling an LLM produces onto the registry key:
// lowercase, punctuation removed, a trailing "tool" suffix dropped.
// "FileReadTool", "file_read" and "file-read" all resolve identically.
func CanonicalName(name string) string {
	n := nonAlnumRE.ReplaceAllString(strings.ToLower(name), "")
	n = strings.TrimSuffix(n, "tool")
	return n
}

// Register adds a tool. Later registrations with the same canonical name
// replace earlier ones.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := CanonicalName(t.Name())
	if _, exists := r.tools[key]; !exists {
		r.order = append(r.order, key)
	}
	r.tools[key] = t
	r.gen++
}

// Get resolves a tool by any spelling of its name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[CanonicalName(name)]
	return t, ok
}

// Names lists canonical tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.tools[key].Name())
	}
	return out
}

// InitAll initializes every tool, failing on the first error.
func (r *Registry) InitAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.order {
		t := r.tools[key]
		if err := t.Init(); err != nil {
			return fmt.Errorf("tool %s: init: %w", t.Name(), err)
		}
	}
	return nil
}

// Run dispatches one invocation. A panicking tool is caught and recorded
// as a failed result so the loop can surface it to the model.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any) (res Result) {
	tool, ok := r.Get(name)
	if !ok {
		return Errorf("unknown tool %q; available tools: %s", name, strings.Join(r.Names(), ", "))
	}

	if spec, ok := tool.(ArgSpec); ok {
		if msg := rejectUnknownArgs(args, spec.KnownArgs()); msg != "" {
			return Errorf("%s: %s", tool.Name(), msg)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", tool.Name(), "panic", p)
			res = Result{"success": false, "error": fmt.Sprint(p), "exitCode": 1}
		}
	}()

	return tool.Run(ctx, args)
}

// rejectUnknownArgs returns a non-empty message when args carries keys
// outside the declared set.
func rejectUnknownArgs(args map[string]any, known []string) string {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	var unknown []string
	for k := range args {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return ""
	}
	sort.Strings(unknown)
	return fmt.Sprintf("unknown argument(s) %s; accepted arguments: %s",
		strings.Join(unknown, ", "), strings.Join(known, ", "))
}

// NormalizeArgs converts the four argument shapes the LLM emits into a
// flat map:
//
//  1. object                        → used as-is
//  2. positional array              → {"args": [...]}, a leading string
//     becomes {"op": ...}
//  3. nested array [op, {object}]   → object with "op" injected
//  4. flattened meta keys on action → promoted into the map
//
// meta holds unrecognized top-level keys found on the action object.
func NormalizeArgs(raw any, meta map[string]any) map[string]any {
	out := map[string]any{}

	switch v := raw.(type) {
	case nil:
		// fall through to meta promotion
	case map[string]any:
		for k, val := range v {
			out[k] = val
		}
	case []any:
		out = normalizeArray(v)
	default:
		// A bare scalar becomes the single positional argument.
		out["args"] = []any{v}
	}

	for k, val := range meta {
		if _, taken := out[k]; !taken {
			out[k] = val
		}
	}
	return out
}

// normalizeArray handles shapes 2 and 3.
func normalizeArray(arr []any) map[string]any {
	out := map[string]any{}
	if len(arr) == 0 {
		return out
	}

	if op, ok := arr[0].(string); ok {
		out["op"] = op
		rest := arr[1:]
		// [op, {object}]: splice the object in.
		if len(rest) == 1 {
			if obj, ok := rest[0].(map[string]any); ok {
				for k, v := range obj {
					if k != "op" {
						out[k] = v
					}
				}
				return out
			}
		}
		if len(rest) > 0 {
			out["args"] = rest
		}
		return out
	}

	out["args"] = arr
	return out
}

// ---------- Condensed tool context ----------

// condenseInstruction steers the summarization pass over the raw
// capability documents.
const condenseInstruction = `You compress tool documentation. Rewrite the following tool registry into a compact reference the model can use to call each tool: for every tool keep its name, each operation, the exact argument names, and the result shape. Drop prose, keep schemas. Output plain text.`

// CondensedContext returns the condensed tool context, computing it on
// first use and caching it. Registering a tool invalidates the cache,
// so every registered tool reaches the model even when registration
// happens after the first computation.
func (r *Registry) CondensedContext(ctx context.Context) string {
	r.mu.RLock()
	cached, gen, current := r.condensed, r.condensedGen, r.gen
	r.mu.RUnlock()
	if cached != "" && gen == current {
		return cached
	}

	raw := r.rawContext()
	condensed := raw
	if r.summarizer != nil {
		out, err := r.summarizer.Summarize(ctx, condenseInstruction, raw)
		if err != nil || strings.TrimSpace(out) == "" {
			r.logger.Warn("tool context condensation failed, using raw registry", "error", err)
		} else {
			r.logger.Info("tool context condensed",
				"raw_chars", len(raw),
				"condensed_chars", len(out),
			)
			condensed = out
		}
	}

	r.mu.Lock()
	r.condensed = condensed
	r.condensedGen = current
	r.mu.Unlock()
	return condensed
}

// rawContext concatenates every capability document.
func (r *Registry) rawContext() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for _, key := range r.order {
		t := r.tools[key]
		b.WriteString("## " + t.Name() + "\n")
		b.WriteString(strings.TrimSpace(t.Context()))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
