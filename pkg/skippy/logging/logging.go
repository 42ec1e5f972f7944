// Package logging wires slog to two sinks: a plain-text append-only file
// at ~/.Skippy/Skippy.log and an ANSI-colorized console sibling. Both
// carry source (file:line) attribution.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ANSI color codes for console levels.
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

// Setup builds the process logger. Returns the logger and a close func
// for the log file.
func Setup(level string, logPath string) (*slog.Logger, func() error, error) {
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	lvl := ParseLevel(level)
	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	})
	console := newConsoleHandler(os.Stderr, lvl)

	logger := slog.New(newTeeHandler(fileHandler, console))
	return logger, f.Close, nil
}

// ParseLevel converts a config string into a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teeHandler fans records out to both sinks.
type teeHandler struct {
	handlers []slog.Handler
}

func newTeeHandler(hs ...slog.Handler) *teeHandler {
	return &teeHandler{handlers: hs}
}

func (t *teeHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: hs}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: hs}
}

// consoleHandler renders one colorized line per record:
//
//	15:04:05 INFO  message key=value (file.go:42)
type consoleHandler struct {
	mu    sync.Mutex
	w     io.Writer
	lvl   slog.Level
	attrs []slog.Attr
}

func newConsoleHandler(w io.Writer, lvl slog.Level) *consoleHandler {
	return &consoleHandler{w: w, lvl: lvl}
}

func (c *consoleHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= c.lvl
}

func (c *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(colorGray)
	b.WriteString(r.Time.Format(time.TimeOnly))
	b.WriteString(colorReset)
	b.WriteByte(' ')
	b.WriteString(levelColor(r.Level))
	b.WriteString(fmt.Sprintf("%-5s", r.Level.String()))
	b.WriteString(colorReset)
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range c.attrs {
		b.WriteString(" " + colorGray + a.String() + colorReset)
	}
	r.Attrs(func(a slog.Attr) bool {
		b.WriteString(" " + colorGray + a.String() + colorReset)
		return true
	})

	if r.PC != 0 {
		fs := callerFrame(r.PC)
		if fs.File != "" {
			b.WriteString(fmt.Sprintf(" %s(%s:%d)%s",
				colorGray, filepath.Base(fs.File), fs.Line, colorReset))
		}
	}
	b.WriteByte('\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, b.String())
	return err
}

func (c *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)
	return &consoleHandler{w: c.w, lvl: c.lvl, attrs: merged}
}

func (c *consoleHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened on the console; the file handler keeps them.
	return c
}

func callerFrame(pc uintptr) runtime.Frame {
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	return f
}

func levelColor(lvl slog.Level) string {
	switch {
	case lvl >= slog.LevelError:
		return colorRed
	case lvl >= slog.LevelWarn:
		return colorYellow
	case lvl >= slog.LevelInfo:
		return colorBlue
	default:
		return colorGray
	}
}
