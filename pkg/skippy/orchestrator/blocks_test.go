package orchestrator

import (
	"strings"
	"testing"
)

func TestSplitResponse(t *testing.T) {
	t.Run("no blocks", func(t *testing.T) {
		candidate, blocks := SplitResponse(`{"final_answer": "hi"}`)
		if candidate != `{"final_answer": "hi"}` {
			t.Errorf("candidate: %q", candidate)
		}
		if len(blocks.Files) != 0 || len(blocks.Patches) != 0 {
			t.Errorf("unexpected blocks: %+v", blocks)
		}
	})

	t.Run("file block", func(t *testing.T) {
		raw := `{"actions": [{"tool": "file_write", "arguments": {"filepath": "x.txt"}}], "continue": true}
===SKIPPY_FILE_START:x.txt===
X
===SKIPPY_FILE_END===`
		candidate, blocks := SplitResponse(raw)
		if !strings.HasPrefix(candidate, "{") || strings.Contains(candidate, "SKIPPY_FILE") {
			t.Errorf("candidate: %q", candidate)
		}
		if len(blocks.Files) != 1 {
			t.Fatalf("files: %+v", blocks.Files)
		}
		if blocks.Files[0].Path != "x.txt" {
			t.Errorf("path: %q", blocks.Files[0].Path)
		}
		if content, ok := blocks.FileContent("x.txt"); !ok || content != "X" {
			t.Errorf("content: %q ok=%v", content, ok)
		}
	})

	t.Run("file content preserved verbatim", func(t *testing.T) {
		payload := "line1\n\n  indented {\"json\": true}\nline4"
		raw := "{}\n===SKIPPY_FILE_START:code.go===\n" + payload + "\n===SKIPPY_FILE_END==="
		_, blocks := SplitResponse(raw)
		if content, _ := blocks.FileContent("code.go"); content != payload {
			t.Errorf("content:\n%q\nwant:\n%q", content, payload)
		}
	})

	t.Run("patch block pairs", func(t *testing.T) {
		raw := `{}
===SKIPPY_PATCH_START:main.go===
===FIND===
old line
===REPLACE===
new line
===FIND===
second old
===REPLACE===
second new
===SKIPPY_PATCH_END===`
		_, blocks := SplitResponse(raw)
		changes, ok := blocks.PatchChanges("main.go")
		if !ok || len(changes) != 2 {
			t.Fatalf("changes: %+v ok=%v", changes, ok)
		}
		if changes[0].Find != "old line" || changes[0].Replace != "new line" {
			t.Errorf("first pair: %+v", changes[0])
		}
		if changes[1].Find != "second old" || changes[1].Replace != "second new" {
			t.Errorf("second pair: %+v", changes[1])
		}
	})

	t.Run("multiple blocks", func(t *testing.T) {
		raw := `{}
===SKIPPY_FILE_START:a.txt===
A
===SKIPPY_FILE_END===
===SKIPPY_FILE_START:b.txt===
B
===SKIPPY_FILE_END===`
		_, blocks := SplitResponse(raw)
		if len(blocks.Files) != 2 {
			t.Fatalf("files: %+v", blocks.Files)
		}
		if content, _ := blocks.FileContent("b.txt"); content != "B" {
			t.Errorf("b.txt: %q", content)
		}
	})

	t.Run("missing end marker keeps payload", func(t *testing.T) {
		raw := "{}\n===SKIPPY_FILE_START:trunc.txt===\npartial content"
		_, blocks := SplitResponse(raw)
		if content, _ := blocks.FileContent("trunc.txt"); content != "partial content" {
			t.Errorf("content: %q", content)
		}
	})

	t.Run("base name matches nested path", func(t *testing.T) {
		raw := "{}\n===SKIPPY_FILE_START:cmd/app/main.go===\npackage main\n===SKIPPY_FILE_END==="
		_, blocks := SplitResponse(raw)
		if content, ok := blocks.FileContent("main.go"); !ok || content != "package main" {
			t.Errorf("content: %q ok=%v", content, ok)
		}
	})
}
