// fs.go implements the file tools. File writes and patches receive
// their multi-line payloads out-of-band (the orchestrator injects the
// delimited block content into args before dispatch), so no payload ever
// travels through JSON escaping.
package tools

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileReadTool reads a file from disk.
type FileReadTool struct{}

func (FileReadTool) Name() string { return "file_read" }
func (FileReadTool) Init() error  { return nil }

func (FileReadTool) KnownArgs() []string { return []string{"filepath", "path"} }

func (FileReadTool) Run(_ context.Context, args map[string]any) Result {
	path := pathArg(args)
	if path == "" {
		return Errorf("missing required parameter %q", "filepath")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("reading %s: %v", path, err)
	}
	return OK(map[string]any{"filepath": path, "content": string(data), "size": len(data)})
}

func (FileReadTool) Context() string {
	return `Read a file. {filepath: string} → {success, content, size}`
}

// FileWriteTool writes (or overwrites) a file. The content argument is
// delivered out-of-band via a file block.
type FileWriteTool struct{}

func (FileWriteTool) Name() string { return "file_write" }
func (FileWriteTool) Init() error  { return nil }

func (FileWriteTool) KnownArgs() []string {
	return []string{"filepath", "path", "content", "append"}
}

func (FileWriteTool) Run(_ context.Context, args map[string]any) Result {
	path := pathArg(args)
	if path == "" {
		return Errorf("missing required parameter %q", "filepath")
	}
	content, present := args["content"].(string)
	if !present {
		return Errorf("missing file content for %s: supply it as a file block after the JSON", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Errorf("creating parent dir for %s: %v", path, err)
	}

	if boolArg(args, "append") {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return Errorf("opening %s: %v", path, err)
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return Errorf("appending to %s: %v", path, err)
		}
		return OK(map[string]any{"filepath": path, "appended": len(content)})
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Errorf("writing %s: %v", path, err)
	}
	return OK(map[string]any{"filepath": path, "written": len(content)})
}

func (FileWriteTool) Context() string {
	return `Write a file. {filepath: string, append?: bool}
The file content MUST NOT be placed in the JSON arguments; emit it after
the JSON as a ===SKIPPY_FILE_START:<path>=== block.
→ {success, written}`
}

// PatchFileTool applies find/replace changes to a file. Changes are
// delivered out-of-band via a patch block.
type PatchFileTool struct{}

func (PatchFileTool) Name() string { return "patch_file" }
func (PatchFileTool) Init() error  { return nil }

func (PatchFileTool) KnownArgs() []string { return []string{"filepath", "path", "changes"} }

// PatchChange is one find/replace pair.
type PatchChange struct {
	Find    string
	Replace string
}

func (PatchFileTool) Run(_ context.Context, args map[string]any) Result {
	path := pathArg(args)
	if path == "" {
		return Errorf("missing required parameter %q", "filepath")
	}
	changes := decodeChanges(args["changes"])
	if len(changes) == 0 {
		return Errorf("missing patch changes for %s: supply them as a patch block after the JSON", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("reading %s: %v", path, err)
	}
	content := string(data)

	for i, ch := range changes {
		if ch.Find == "" {
			return Errorf("change %d: find text is empty", i+1)
		}
		if !strings.Contains(content, ch.Find) {
			return Errorf("change %d: find text not found in %s", i+1, path)
		}
		// Exactly one occurrence is replaced per change.
		content = strings.Replace(content, ch.Find, ch.Replace, 1)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Errorf("writing %s: %v", path, err)
	}
	return OK(map[string]any{"filepath": path, "applied": len(changes)})
}

// decodeChanges accepts []PatchChange (injected by the orchestrator) or
// the equivalent []any of {find, replace} objects.
func decodeChanges(raw any) []PatchChange {
	switch v := raw.(type) {
	case []PatchChange:
		return v
	case []any:
		var out []PatchChange
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, PatchChange{
				Find:    strArg(obj, "find"),
				Replace: strArg(obj, "replace"),
			})
		}
		return out
	}
	return nil
}

func (PatchFileTool) Context() string {
	return `Patch a file with find/replace pairs. {filepath: string}
The changes MUST NOT be placed in the JSON arguments; emit them after
the JSON as a ===SKIPPY_PATCH_START:<path>=== block of ===FIND===/
===REPLACE=== pairs. Each pair replaces exactly one occurrence.
→ {success, applied} or {success: false, error: "find text not found"}`
}

// FileListTool lists a directory.
type FileListTool struct{}

func (FileListTool) Name() string { return "file_list" }
func (FileListTool) Init() error  { return nil }

func (FileListTool) KnownArgs() []string { return []string{"filepath", "path"} }

func (FileListTool) Run(_ context.Context, args map[string]any) Result {
	path := pathArg(args)
	if path == "" {
		path = "."
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Errorf("listing %s: %v", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return OK(map[string]any{"filepath": path, "entries": names})
}

func (FileListTool) Context() string {
	return `List a directory. {filepath: string} → {success, entries: [string]}`
}

// FileDeleteTool removes a file.
type FileDeleteTool struct{}

func (FileDeleteTool) Name() string { return "file_delete" }
func (FileDeleteTool) Init() error  { return nil }

func (FileDeleteTool) KnownArgs() []string { return []string{"filepath", "path"} }

func (FileDeleteTool) Run(_ context.Context, args map[string]any) Result {
	path := pathArg(args)
	if path == "" {
		return Errorf("missing required parameter %q", "filepath")
	}
	if err := os.Remove(path); err != nil {
		return Errorf("deleting %s: %v", path, err)
	}
	return OK(map[string]any{"filepath": path, "deleted": true})
}

func (FileDeleteTool) Context() string {
	return `Delete a file. {filepath: string} → {success, deleted}`
}

// pathArg accepts both filepath and path spellings.
func pathArg(args map[string]any) string {
	if p := strArg(args, "filepath"); p != "" {
		return p
	}
	return strArg(args, "path")
}

// RegisterFileTools adds the file tool family to a registry.
func RegisterFileTools(r *Registry) {
	r.Register(FileReadTool{})
	r.Register(FileWriteTool{})
	r.Register(PatchFileTool{})
	r.Register(FileListTool{})
	r.Register(FileDeleteTool{})
}
