package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/skippy-ai/skippy/pkg/skippy/ctxitems"
	"github.com/skippy-ai/skippy/pkg/skippy/memory"
)

// systemRules is the fixed response-format contract injected at the top
// of every assembled context.
const systemRules = `You are Skippy, a personal assistant with tools. Respond with EXACTLY ONE JSON object:
{"reasoning": "<your thinking>", "actions": [{"type": "tool_call", "tool": "<name>", "arguments": {…}, "reasoning": "<why>"}], "final_answer": "<text for the user, empty while working>", "continue": <true while more steps are needed>}

Rules:
- Use tools through "actions"; results come back on the next turn.
- Set "continue": false and fill "final_answer" only when the task is done.
- NEVER put multi-line file content or patch text inside the JSON. After the
  closing brace, emit it as delimited blocks:
    ===SKIPPY_FILE_START:<path>===
    <verbatim file content>
    ===SKIPPY_FILE_END===
  and for patches:
    ===SKIPPY_PATCH_START:<path>===
    ===FIND===
    <text to find>
    ===REPLACE===
    <replacement>
    ===SKIPPY_PATCH_END===
- Output nothing outside the JSON object and its blocks.`

// ContextBuilder assembles the per-prompt system block.
type ContextBuilder struct {
	store      *memory.Store
	items      *ctxitems.Manager
	categories []string

	// toolContext returns the condensed tool context.
	toolContext func(ctx context.Context) string

	// channelNames returns the known chat channel names.
	channelNames func() []string
}

// NewContextBuilder wires the context sources together. channelNames
// may be nil for headless runs.
func NewContextBuilder(
	store *memory.Store,
	items *ctxitems.Manager,
	categories []string,
	toolContext func(ctx context.Context) string,
	channelNames func() []string,
) *ContextBuilder {
	return &ContextBuilder{
		store:        store,
		items:        items,
		categories:   categories,
		toolContext:  toolContext,
		channelNames: channelNames,
	}
}

// Build assembles the system block in its fixed order: rules, clock,
// identity, tool context, channel names, memory, skills, working
// directory, pinned files.
func (b *ContextBuilder) Build(ctx context.Context, user, channel string) string {
	var sb strings.Builder

	sb.WriteString(systemRules)
	sb.WriteString("\n\n")

	now := time.Now()
	zone, _ := now.Zone()
	fmt.Fprintf(&sb, "Current time: %s (%s)\n", now.Format("Monday, 2 January 2006 15:04"), zone)

	if user != "" {
		fmt.Fprintf(&sb, "Current user: %s\n", user)
	}
	if channel != "" {
		fmt.Fprintf(&sb, "Current channel: %s\n", channel)
	}
	sb.WriteString("\n")

	if b.toolContext != nil {
		sb.WriteString("# Tools\n")
		sb.WriteString(b.toolContext(ctx))
		sb.WriteString("\n\n")
	}

	if b.channelNames != nil {
		if names := b.channelNames(); len(names) > 0 {
			sorted := append([]string(nil), names...)
			sort.Strings(sorted)
			sb.WriteString("Known channels: " + strings.Join(sorted, ", ") + "\n\n")
		}
	}

	b.writeMemories(&sb)
	b.writeSkills(&sb, user)
	b.writeWorkdir(&sb)
	b.writeContextFiles(&sb)

	return strings.TrimRight(sb.String(), "\n")
}

func (b *ContextBuilder) writeMemories(sb *strings.Builder) {
	if b.store == nil {
		return
	}
	cats, err := b.store.ContextMemories(b.categories)
	if err != nil || len(cats) == 0 {
		return
	}
	sb.WriteString("# Memory\n")
	for _, cat := range cats {
		fmt.Fprintf(sb, "## %s\n", cat.Category)
		for _, kv := range cat.Items {
			fmt.Fprintf(sb, "%s: %v\n", kv.Key, kv.Value)
		}
	}
	sb.WriteString("\n")
}

func (b *ContextBuilder) writeSkills(sb *strings.Builder, user string) {
	if b.store == nil {
		return
	}
	skills, err := b.store.ContextSkills(user)
	if err != nil || len(skills) == 0 {
		return
	}
	sb.WriteString("# Skills\n")
	for _, sk := range skills {
		fmt.Fprintf(sb, "%s [%s]: %s\n", sk.Name, sk.Owner, sk.Description)
		if sk.Instructions != "" {
			fmt.Fprintf(sb, "Instructions: %s\n", sk.Instructions)
		}
	}
	sb.WriteString("\n")
}

// writeWorkdir adds the working directory and its first-level listing.
// Cosmetic context that informs shell use.
func (b *ContextBuilder) writeWorkdir(sb *strings.Builder) {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	fmt.Fprintf(sb, "Working directory: %s\n", wd)
	entries, err := os.ReadDir(wd)
	if err != nil || len(entries) == 0 {
		sb.WriteString("\n")
		return
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sb.WriteString("Contents: " + strings.Join(names, ", ") + "\n\n")
}

// writeContextFiles reads every pinned file fresh and wraps it in a
// file element. Unreadable files are noted, not fatal.
func (b *ContextBuilder) writeContextFiles(sb *strings.Builder) {
	if b.items == nil {
		return
	}
	for _, item := range b.items.List() {
		if item.Type != ctxitems.TypeFile {
			continue
		}
		data, err := os.ReadFile(item.Path)
		if err != nil {
			fmt.Fprintf(sb, "<file path=%q>unreadable: %v</file>\n", item.Path, err)
			continue
		}
		fmt.Fprintf(sb, "<file path=%q>\n%s\n</file>\n", item.Path, string(data))
	}
}
