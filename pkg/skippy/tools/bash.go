// bash.go implements the shell tool. It is intentionally unsandboxed;
// the daemon refuses to start it as root unless tools.bash.unsafe is set.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skippy-ai/skippy/pkg/skippy/config"
)

// DefaultBashTimeout bounds a foreground command.
const DefaultBashTimeout = 2 * time.Minute

// BashTool runs shell commands and manages background jobs.
type BashTool struct {
	cfg    config.BashToolConfig
	logger *slog.Logger

	mu         sync.Mutex
	background map[string]*exec.Cmd
}

// NewBashTool creates the shell tool.
func NewBashTool(cfg config.BashToolConfig, logger *slog.Logger) *BashTool {
	return &BashTool{
		cfg:        cfg,
		logger:     logger.With("tool", "bash"),
		background: map[string]*exec.Cmd{},
	}
}

// Name implements Tool.
func (b *BashTool) Name() string { return "bash" }

// Init refuses root unless the unsafe flag is set.
func (b *BashTool) Init() error {
	if os.Geteuid() == 0 && !b.cfg.Unsafe {
		return fmt.Errorf("bash tool: refusing to run as root; set tools.bash.unsafe to override")
	}
	if b.cfg.WorkDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("bash tool: %w", err)
		}
		b.cfg.WorkDir = home
	}
	return nil
}

// KnownArgs implements ArgSpec.
func (b *BashTool) KnownArgs() []string {
	return []string{"op", "operation", "action", "command", "timeout", "background", "id", "args"}
}

// Run executes a command, starts a background job, or kills one.
func (b *BashTool) Run(ctx context.Context, args map[string]any) Result {
	if opArg(args) == "kill" {
		if fail := requireArgs(args, "id"); fail != nil {
			return fail
		}
		return b.kill(strArg(args, "id"))
	}

	if fail := requireArgs(args, "command"); fail != nil {
		return fail
	}
	command := strArg(args, "command")

	if boolArg(args, "background") {
		return b.startBackground(command)
	}

	timeout := DefaultBashTimeout
	if secs := intArg(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = b.cfg.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	b.logger.Debug("command finished",
		"command", command,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"error", err,
	)

	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = 1
		}
	}

	res := Result{
		"success":  err == nil,
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"exitCode": exitCode,
	}
	if err != nil {
		res["error"] = err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			res["error"] = fmt.Sprintf("command timed out after %s", timeout)
		}
	}
	return res
}

// startBackground launches a long-running command detached from the loop.
func (b *BashTool) startBackground(command string) Result {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = b.cfg.WorkDir
	if err := cmd.Start(); err != nil {
		return Errorf("starting background command: %v", err)
	}

	id := uuid.NewString()[:8]
	b.mu.Lock()
	b.background[id] = cmd
	b.mu.Unlock()

	go func() {
		err := cmd.Wait()
		b.mu.Lock()
		delete(b.background, id)
		b.mu.Unlock()
		if err != nil {
			b.logger.Warn("background command exited with error", "id", id, "error", err)
		}
	}()

	return OK(map[string]any{"id": id, "pid": cmd.Process.Pid})
}

// kill terminates a background job by id. This is the only forced kill
// the daemon performs on tool work.
func (b *BashTool) kill(id string) Result {
	b.mu.Lock()
	cmd, ok := b.background[id]
	b.mu.Unlock()
	if !ok {
		return Errorf("no background job %q", id)
	}
	if err := cmd.Process.Kill(); err != nil {
		return Errorf("killing job %q: %v", id, err)
	}
	return OK(map[string]any{"id": id, "killed": true})
}

// Context implements Tool.
func (b *BashTool) Context() string {
	return `Run shell commands on the host. Unsandboxed.
Operations:
- run: {command: string, timeout?: seconds, background?: bool}
  → {success, stdout, stderr, exitCode} or {success, id, pid} for background
- kill: {op: "kill", id: string} → {success, killed}
Commands run via sh -c in the configured working directory.`
}
