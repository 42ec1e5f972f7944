package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/skippy-ai/skippy/pkg/skippy/llm"
	"github.com/skippy-ai/skippy/pkg/skippy/tools"
)

// fakeChat replays scripted responses.
type fakeChat struct {
	mu        sync.Mutex
	responses []string
	calls     int
	summary   string
}

func (f *fakeChat) Chat(_ context.Context, _ llm.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.responses) {
		return "", fmt.Errorf("fake llm: no scripted response for call %d", f.calls+1)
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeChat) Summarize(_ context.Context, _, _ string) (string, error) {
	if f.summary == "" {
		return "", fmt.Errorf("fake llm: no summary scripted")
	}
	return f.summary, nil
}

func (f *fakeChat) Model() string { return "fake" }

// echoTool records invocations and succeeds.
type echoTool struct {
	mu    sync.Mutex
	calls []map[string]any
	fail  bool
	onRun func()
}

func (e *echoTool) Name() string    { return "echo" }
func (e *echoTool) Init() error     { return nil }
func (e *echoTool) Context() string { return "echo back arguments" }
func (e *echoTool) Run(_ context.Context, args map[string]any) tools.Result {
	e.mu.Lock()
	e.calls = append(e.calls, args)
	fail := e.fail
	e.fail = false
	hook := e.onRun
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return tools.Errorf("echo exploded")
	}
	return tools.OK(map[string]any{"echoed": args["text"]})
}

// captureTool records the arguments of its last invocation.
type captureTool struct {
	name string

	mu   sync.Mutex
	last map[string]any
}

func (c *captureTool) Name() string    { return c.name }
func (c *captureTool) Init() error     { return nil }
func (c *captureTool) Context() string { return "capture arguments" }
func (c *captureTool) Run(_ context.Context, args map[string]any) tools.Result {
	c.mu.Lock()
	c.last = args
	c.mu.Unlock()
	return tools.OK(nil)
}

func (c *captureTool) lastArgs() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func newTestOrchestrator(t *testing.T, chat ChatClient, tool tools.Tool, limit int) *Orchestrator {
	t.Helper()
	logger := slog.Default()
	registry := tools.NewRegistry(nil, logger)
	if tool != nil {
		registry.Register(tool)
	}
	builder := NewContextBuilder(nil, nil, nil, nil, nil)
	return New(chat, registry, builder, nil, NewAbortRegistry(), Options{
		LoopLimit: limit,
	}, logger)
}

func TestLoopDirectAnswer(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"reasoning": "easy", "actions": [], "final_answer": "42", "continue": false}`,
	}}
	orch := newTestOrchestrator(t, chat, nil, 5)

	answer, err := orch.Run(context.Background(), Request{Prompt: "meaning of life", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "42" {
		t.Errorf("answer: %q", answer)
	}
	if chat.calls != 1 {
		t.Errorf("llm calls: %d", chat.calls)
	}
}

func TestLoopToolThenAnswer(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"reasoning": "need the tool", "actions": [{"type": "tool_call", "tool": "echo", "arguments": {"text": "ping"}}], "final_answer": "", "continue": true}`,
		`{"reasoning": "done", "actions": [], "final_answer": "pong", "continue": false}`,
	}}
	tool := &echoTool{}
	orch := newTestOrchestrator(t, chat, tool, 5)

	answer, err := orch.Run(context.Background(), Request{Prompt: "ping please", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "pong" {
		t.Errorf("answer: %q", answer)
	}
	if len(tool.calls) != 1 || tool.calls[0]["text"] != "ping" {
		t.Errorf("tool calls: %v", tool.calls)
	}
}

func TestLoopToolFailureForcesContinue(t *testing.T) {
	// The model prematurely claims completion alongside a failing tool;
	// the loop must run another iteration so the model sees the failure.
	chat := &fakeChat{responses: []string{
		`{"reasoning": "one shot", "actions": [{"type": "tool_call", "tool": "echo", "arguments": {"text": "x"}}], "final_answer": "done!", "continue": false}`,
		`{"reasoning": "recovered", "actions": [], "final_answer": "sorry, retried", "continue": false}`,
	}}
	tool := &echoTool{fail: true}
	orch := newTestOrchestrator(t, chat, tool, 5)

	answer, err := orch.Run(context.Background(), Request{Prompt: "x", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "sorry, retried" {
		t.Errorf("answer: %q", answer)
	}
	if chat.calls != 2 {
		t.Errorf("llm calls: %d, want 2", chat.calls)
	}
}

func TestLoopLimitContinuation(t *testing.T) {
	working := `{"reasoning": "still going", "actions": [{"type": "tool_call", "tool": "echo", "arguments": {"text": "step"}}], "final_answer": "", "continue": true}`
	chat := &fakeChat{responses: []string{working, working,
		// Third response serves the resumed run.
		`{"reasoning": "finally", "actions": [], "final_answer": "all done", "continue": false}`,
	}}
	tool := &echoTool{}
	orch := newTestOrchestrator(t, chat, tool, 2)

	answer, err := orch.Run(context.Background(), Request{Prompt: "big task", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(answer, "step limit (2 steps)") {
		t.Fatalf("expected the step-limit question, got %q", answer)
	}

	t.Run("affirmative resumes", func(t *testing.T) {
		answer, err := orch.Run(context.Background(), Request{Prompt: "yes", Channel: "c1"})
		if err != nil {
			t.Fatalf("resume: %v", err)
		}
		if answer != "all done" {
			t.Errorf("answer: %q", answer)
		}
	})

	t.Run("continuation is consumed", func(t *testing.T) {
		orch.mu.Lock()
		_, saved := orch.continuations["c1"]
		orch.mu.Unlock()
		if saved {
			t.Error("continuation should be cleared after resume")
		}
	})
}

func TestLoopLimitDiscardOnNewTopic(t *testing.T) {
	working := `{"reasoning": "going", "actions": [{"type": "tool_call", "tool": "echo", "arguments": {"text": "s"}}], "final_answer": "", "continue": true}`
	chat := &fakeChat{responses: []string{working,
		`{"reasoning": "fresh", "actions": [], "final_answer": "new topic answer", "continue": false}`,
	}}
	orch := newTestOrchestrator(t, chat, &echoTool{}, 1)

	if _, err := orch.Run(context.Background(), Request{Prompt: "task", Channel: "c1"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	// A non-affirmative prompt discards the continuation and runs fresh.
	answer, err := orch.Run(context.Background(), Request{Prompt: "what's the weather", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "new topic answer" {
		t.Errorf("answer: %q", answer)
	}
}

func TestLoopAbort(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"reasoning": "", "actions": [], "final_answer": "should not arrive", "continue": false}`,
	}}
	orch := newTestOrchestrator(t, chat, nil, 5)

	orch.Aborts().Request("c1")
	answer, err := orch.Run(context.Background(), Request{Prompt: "x", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "Aborted." {
		t.Errorf("answer: %q", answer)
	}
	if chat.calls != 0 {
		t.Errorf("llm should not be called after abort, got %d calls", chat.calls)
	}
}

func TestLoopAbortMidChain(t *testing.T) {
	working := `{"reasoning": "going", "actions": [{"type": "tool_call", "tool": "echo", "arguments": {"text": "s"}}], "final_answer": "", "continue": true}`
	chat := &fakeChat{responses: []string{working, working}}
	tool := &echoTool{}
	orch := newTestOrchestrator(t, chat, tool, 5)
	// The stop request arrives while the first tool call is running.
	tool.onRun = func() { orch.Aborts().Request("c1") }

	answer, err := orch.Run(context.Background(), Request{Prompt: "long task", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(answer, "Aborted after 1 step") {
		t.Errorf("answer should account for completed steps: %q", answer)
	}
	if !strings.Contains(answer, "1 tool call") {
		t.Errorf("answer should mention the discarded tool results: %q", answer)
	}
}

func TestLoopFileBlockInjection(t *testing.T) {
	raw := `{"reasoning": "write it", "actions": [{"type": "tool_call", "tool": "file_write", "arguments": {"filepath": "notes.txt"}}], "final_answer": "", "continue": true}
===SKIPPY_FILE_START:notes.txt===
line one
line two
===SKIPPY_FILE_END===`
	chat := &fakeChat{responses: []string{raw,
		`{"reasoning": "done", "actions": [], "final_answer": "written", "continue": false}`,
	}}
	tool := &captureTool{name: "file_write"}
	orch := newTestOrchestrator(t, chat, tool, 5)

	answer, err := orch.Run(context.Background(), Request{Prompt: "save my notes", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "written" {
		t.Errorf("answer: %q", answer)
	}
	args := tool.lastArgs()
	if args == nil {
		t.Fatal("tool never ran")
	}
	if args["content"] != "line one\nline two" {
		t.Errorf("content: %q", args["content"])
	}
}

func TestLoopPatchBlockInjection(t *testing.T) {
	raw := `{"reasoning": "patch it", "actions": [{"type": "tool_call", "tool": "patch_file", "arguments": {"filepath": "main.go"}}], "final_answer": "", "continue": true}
===SKIPPY_PATCH_START:main.go===
===FIND===
old line
===REPLACE===
new line
===SKIPPY_PATCH_END===`
	chat := &fakeChat{responses: []string{raw,
		`{"reasoning": "done", "actions": [], "final_answer": "patched", "continue": false}`,
	}}
	tool := &captureTool{name: "patch_file"}
	orch := newTestOrchestrator(t, chat, tool, 5)

	answer, err := orch.Run(context.Background(), Request{Prompt: "fix main.go", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "patched" {
		t.Errorf("answer: %q", answer)
	}
	args := tool.lastArgs()
	if args == nil {
		t.Fatal("tool never ran")
	}
	changes, ok := args["changes"].([]tools.PatchChange)
	if !ok {
		t.Fatalf("changes: %T %v", args["changes"], args["changes"])
	}
	if len(changes) != 1 || changes[0].Find != "old line" || changes[0].Replace != "new line" {
		t.Errorf("changes: %+v", changes)
	}
}

func TestLoopFallbackSummary(t *testing.T) {
	chat := &fakeChat{
		responses: []string{
			`{"reasoning": "work", "actions": [{"type": "tool_call", "tool": "echo", "arguments": {"text": "x"}}], "final_answer": "", "continue": true}`,
			`{"reasoning": "forgot the answer", "actions": [], "final_answer": "", "continue": false}`,
		},
		summary: "I echoed x for you.",
	}
	orch := newTestOrchestrator(t, chat, &echoTool{}, 5)

	answer, err := orch.Run(context.Background(), Request{Prompt: "x", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "I echoed x for you." {
		t.Errorf("answer: %q", answer)
	}
}

func TestLoopFormatRetry(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"note": "I forgot the format entirely"}`,
		`{"reasoning": "", "actions": [], "final_answer": "recovered", "continue": false}`,
	}}
	orch := newTestOrchestrator(t, chat, nil, 5)

	answer, err := orch.Run(context.Background(), Request{Prompt: "x", Channel: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if answer != "recovered" {
		t.Errorf("answer: %q", answer)
	}
	if chat.calls != 2 {
		t.Errorf("llm calls: %d, want 2", chat.calls)
	}
}

func TestChannelBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	chat := &blockingChat{started: started, release: release}
	orch := newTestOrchestrator(t, chat, nil, 5)

	done := make(chan error, 1)
	go func() {
		_, err := orch.Run(context.Background(), Request{Prompt: "slow", Channel: "c1"})
		done <- err
	}()
	<-started

	if _, err := orch.Run(context.Background(), Request{Prompt: "second", Channel: "c1"}); err != ErrChannelBusy {
		t.Errorf("want ErrChannelBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

// blockingChat blocks until released, to hold a channel busy.
type blockingChat struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingChat) Chat(_ context.Context, _ llm.ChatRequest) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return `{"reasoning": "", "actions": [], "final_answer": "ok", "continue": false}`, nil
}

func (b *blockingChat) Summarize(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (b *blockingChat) Model() string { return "fake" }
