package orchestrator

import (
	"strings"

	"github.com/skippy-ai/skippy/pkg/skippy/tools"
)

// Out-of-band block delimiters. Multi-line payloads travel after the
// JSON envelope inside these blocks so code never needs JSON escaping.
const (
	fileStartPrefix  = "===SKIPPY_FILE_START:"
	fileEnd          = "===SKIPPY_FILE_END==="
	patchStartPrefix = "===SKIPPY_PATCH_START:"
	patchEnd         = "===SKIPPY_PATCH_END==="
	findMarker       = "===FIND==="
	replaceMarker    = "===REPLACE==="
	delimSuffix      = "==="
)

// FileBlock is one out-of-band file payload.
type FileBlock struct {
	Path    string
	Content string
}

// PatchBlock is one out-of-band patch payload.
type PatchBlock struct {
	Path    string
	Changes []tools.PatchChange
}

// Blocks holds every out-of-band payload found after the JSON envelope.
type Blocks struct {
	Files   []FileBlock
	Patches []PatchBlock
}

// FileContent returns the payload for path, matching on exact path or
// base-name suffix so "main.go" finds "cmd/app/main.go".
func (b *Blocks) FileContent(path string) (string, bool) {
	for _, f := range b.Files {
		if f.Path == path || strings.HasSuffix(f.Path, "/"+path) || strings.HasSuffix(path, "/"+f.Path) {
			return f.Content, true
		}
	}
	// A single unnamed-or-mismatched block still serves a single request.
	if len(b.Files) == 1 {
		return b.Files[0].Content, true
	}
	return "", false
}

// PatchChanges returns the changes for path, with the same matching
// rules as FileContent.
func (b *Blocks) PatchChanges(path string) ([]tools.PatchChange, bool) {
	for _, p := range b.Patches {
		if p.Path == path || strings.HasSuffix(p.Path, "/"+path) || strings.HasSuffix(path, "/"+p.Path) {
			return p.Changes, true
		}
	}
	if len(b.Patches) == 1 {
		return b.Patches[0].Changes, true
	}
	return nil, false
}

// SplitResponse splits a raw model response at the first block
// delimiter: the prefix is the JSON candidate, the suffix parses into
// blocks. A response without delimiters is all JSON candidate.
func SplitResponse(raw string) (jsonCandidate string, blocks Blocks) {
	fileIdx := strings.Index(raw, fileStartPrefix)
	patchIdx := strings.Index(raw, patchStartPrefix)

	cut := len(raw)
	if fileIdx >= 0 && fileIdx < cut {
		cut = fileIdx
	}
	if patchIdx >= 0 && patchIdx < cut {
		cut = patchIdx
	}

	jsonCandidate = strings.TrimSpace(raw[:cut])
	rest := raw[cut:]
	if rest == "" {
		return jsonCandidate, blocks
	}

	blocks = parseBlocks(rest)
	return jsonCandidate, blocks
}

// parseBlocks walks the block region extracting file and patch blocks
// in order. Malformed trailing blocks (missing end marker) are kept:
// everything up to the next start marker or EOF counts as the payload.
func parseBlocks(s string) Blocks {
	var blocks Blocks
	for {
		fileIdx := strings.Index(s, fileStartPrefix)
		patchIdx := strings.Index(s, patchStartPrefix)
		if fileIdx < 0 && patchIdx < 0 {
			return blocks
		}

		if fileIdx >= 0 && (patchIdx < 0 || fileIdx < patchIdx) {
			path, body, rest := extractBlock(s[fileIdx:], fileStartPrefix, fileEnd)
			blocks.Files = append(blocks.Files, FileBlock{Path: path, Content: body})
			s = rest
		} else {
			path, body, rest := extractBlock(s[patchIdx:], patchStartPrefix, patchEnd)
			blocks.Patches = append(blocks.Patches, PatchBlock{
				Path:    path,
				Changes: parsePatchBody(body),
			})
			s = rest
		}
	}
}

// extractBlock parses one block starting at s[0]: header line with the
// path, body up to the end marker (or the next start marker, or EOF).
func extractBlock(s, startPrefix, endMarker string) (path, body, rest string) {
	header := s[len(startPrefix):]
	nl := strings.IndexByte(header, '\n')
	if nl < 0 {
		// Header with no body.
		return strings.TrimSuffix(strings.TrimSpace(header), delimSuffix), "", ""
	}
	path = strings.TrimSuffix(strings.TrimSpace(header[:nl]), delimSuffix)
	body = header[nl+1:]

	if end := strings.Index(body, endMarker); end >= 0 {
		rest = body[end+len(endMarker):]
		body = body[:end]
	} else if next := nextStart(body); next >= 0 {
		rest = body[next:]
		body = body[:next]
	}
	// The delimiter sits on its own line; drop the trailing newline that
	// precedes it, but preserve interior whitespace verbatim.
	body = strings.TrimSuffix(body, "\n")
	return path, body, rest
}

func nextStart(s string) int {
	fileIdx := strings.Index(s, fileStartPrefix)
	patchIdx := strings.Index(s, patchStartPrefix)
	switch {
	case fileIdx < 0:
		return patchIdx
	case patchIdx < 0:
		return fileIdx
	case fileIdx < patchIdx:
		return fileIdx
	default:
		return patchIdx
	}
}

// parsePatchBody splits a patch body into FIND/REPLACE pairs. A FIND
// without a matching REPLACE is dropped.
func parsePatchBody(body string) []tools.PatchChange {
	var changes []tools.PatchChange
	parts := strings.Split(body, findMarker)
	for _, part := range parts[1:] {
		find := part
		replace := ""
		if idx := strings.Index(part, replaceMarker); idx >= 0 {
			find = part[:idx]
			replace = part[idx+len(replaceMarker):]
		} else {
			continue
		}
		changes = append(changes, tools.PatchChange{
			Find:    trimBlockEdges(find),
			Replace: trimBlockEdges(replace),
		})
	}
	return changes
}

// trimBlockEdges removes the single newline on each side of a marker
// without disturbing payload-internal whitespace.
func trimBlockEdges(s string) string {
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return s
}
