package orchestrator

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrUnparseable is returned when every extraction strategy fails.
var ErrUnparseable = errors.New("orchestrator: no JSON object found in response")

// ParseEnvelope extracts the control envelope from the JSON candidate
// using layered strategies, from cheapest to most forgiving:
//
//  1. direct parse
//  2. strip code fences and XML wrappers, parse again
//  3. scan candidate '{'/'[' start positions
//  4. string-aware brace matching from each candidate
//  5. repair pass (trailing commas, unquoted keys, unclosed brackets)
//  6. field-by-field regex fallback
//
// repaired reports that a lossy strategy (5 or 6) produced the result;
// the loop surfaces that to the model as a format warning.
func ParseEnvelope(candidate string) (env *Envelope, repaired bool, err error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, false, ErrUnparseable
	}

	// 1. Direct.
	if env := decodeEnvelope(candidate); env != nil {
		return env, false, nil
	}

	// 2. Unwrapped.
	stripped := stripWrappers(candidate)
	if stripped != candidate {
		if env := decodeEnvelope(stripped); env != nil {
			return env, false, nil
		}
	}

	// 3 + 4. Candidate starts with string-aware brace matching.
	for _, start := range candidateStarts(stripped) {
		if chunk, ok := matchBrackets(stripped[start:]); ok {
			if env := decodeEnvelope(chunk); env != nil {
				return env, false, nil
			}
			// 5. Repair the best-effort chunk.
			if env := decodeEnvelope(repairJSON(chunk)); env != nil {
				return env, true, nil
			}
		} else {
			// Truncated response: repair closes what it can.
			if env := decodeEnvelope(repairJSON(stripped[start:])); env != nil {
				return env, true, nil
			}
		}
	}

	// 6. Regex field fallback.
	if env := regexFallback(stripped); env != nil {
		return env, true, nil
	}
	return nil, false, ErrUnparseable
}

// ── strategy helpers ──

// fenceRE matches a fenced code block with optional language tag.
var fenceRE = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// xmlWrapRE matches a single-level XML wrapper element.
var xmlWrapRE = regexp.MustCompile(`(?s)<([a-zA-Z_]+)[^>]*>(.*)</([a-zA-Z_]+)>`)

// stripWrappers removes markdown fences and XML wrapper elements.
func stripWrappers(s string) string {
	if m := fenceRE.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	for {
		m := xmlWrapRE.FindStringSubmatch(strings.TrimSpace(s))
		if m == nil || m[1] != m[3] {
			break
		}
		s = m[2]
	}
	return strings.TrimSpace(s)
}

// candidateStarts lists positions where a JSON value could begin.
func candidateStarts(s string) []int {
	var starts []int
	for i, r := range s {
		if r == '{' || r == '[' {
			starts = append(starts, i)
			if len(starts) >= 5 {
				break
			}
		}
	}
	return starts
}

// matchBrackets returns the prefix of s that forms a balanced JSON
// value, respecting string literals and escape sequences.
func matchBrackets(s string) (string, bool) {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// trailingCommaRE matches a comma directly before a closing bracket.
var trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)

// unquotedKeyRE matches a bare identifier in key position.
var unquotedKeyRE = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)

// repairJSON applies the lossy fixups: trailing commas removed, bare
// keys quoted, unclosed brackets closed from a stack walk.
func repairJSON(s string) string {
	s = strings.TrimSpace(s)
	s = trailingCommaRE.ReplaceAllString(s, "$1")
	s = unquotedKeyRE.ReplaceAllString(s, `$1"$2"$3`)

	// Close whatever remains open, terminating an unfinished string first.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, ", \n\t")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

// Field regexes for the last-resort extraction.
var (
	finalAnswerRE = regexp.MustCompile(`"final_answer"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	reasoningRE   = regexp.MustCompile(`"reasoning"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	continueRE    = regexp.MustCompile(`"continue"\s*:\s*(true|false)`)
)

// regexFallback salvages the scalar fields when no structure parses.
// Actions cannot be recovered this way.
func regexFallback(s string) *Envelope {
	env := &Envelope{}
	found := false
	if m := finalAnswerRE.FindStringSubmatch(s); m != nil {
		env.FinalAnswer = unescapeJSONString(m[1])
		found = true
	}
	if m := reasoningRE.FindStringSubmatch(s); m != nil {
		env.Reasoning = unescapeJSONString(m[1])
		found = true
	}
	if m := continueRE.FindStringSubmatch(s); m != nil {
		env.Continue = m[1] == "true"
		found = true
	}
	if !found {
		return nil
	}
	return env
}

func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// ── decoding and shape normalization ──

// actionKeys are the recognized Action fields; everything else on an
// action object is meta, promoted into arguments by the registry.
var actionKeys = map[string]bool{
	"type":      true,
	"tool":      true,
	"name":      true,
	"arguments": true,
	"args":      true,
	"reasoning": true,
}

// decodeEnvelope parses s and normalizes the shapes the model emits:
// a bare action array is wrapped, a flat {tool, arguments} object is
// wrapped, actions missing type get "tool_call", and continue is forced
// true when actions exist without a final answer.
func decodeEnvelope(s string) *Envelope {
	var root any
	if err := json.Unmarshal([]byte(s), &root); err != nil {
		return nil
	}

	switch v := root.(type) {
	case []any:
		// Bare array of actions.
		env := &Envelope{Continue: true}
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				env.Actions = append(env.Actions, actionFromMap(obj))
			}
		}
		if len(env.Actions) == 0 {
			return nil
		}
		return env
	case map[string]any:
		return envelopeFromMap(v)
	}
	return nil
}

func envelopeFromMap(obj map[string]any) *Envelope {
	env := &Envelope{}
	env.Reasoning, _ = obj["reasoning"].(string)
	env.FinalAnswer, _ = obj["final_answer"].(string)
	env.Continue, _ = obj["continue"].(bool)

	switch actions := obj["actions"].(type) {
	case []any:
		for _, item := range actions {
			if m, ok := item.(map[string]any); ok {
				env.Actions = append(env.Actions, actionFromMap(m))
			}
		}
	case map[string]any:
		// A single action object where the array should be.
		env.Actions = append(env.Actions, actionFromMap(actions))
	case nil:
		// Flat shape: the envelope itself is the action.
		if tool, ok := obj["tool"].(string); ok && tool != "" {
			act := actionFromMap(obj)
			act.Tool = tool
			env.Actions = append(env.Actions, act)
			if !env.Continue && env.FinalAnswer == "" {
				env.Continue = true
			}
		}
	}

	// Actions with no final answer mean the model is mid-task even when
	// it forgot to say so.
	if len(env.Actions) > 0 && !env.Continue && env.FinalAnswer == "" {
		env.Continue = true
	}
	return env
}

func actionFromMap(obj map[string]any) Action {
	act := Action{}
	act.Type, _ = obj["type"].(string)
	if act.Type == "" {
		act.Type = "tool_call"
	}
	act.Tool, _ = obj["tool"].(string)
	if act.Tool == "" {
		act.Tool, _ = obj["name"].(string)
	}
	act.Reasoning, _ = obj["reasoning"].(string)
	if args, ok := obj["arguments"]; ok {
		act.Arguments = args
	} else if args, ok := obj["args"]; ok {
		act.Arguments = args
	}

	// Flattened shape: leftover keys ride along as meta.
	for k, v := range obj {
		if !actionKeys[k] {
			if act.Meta == nil {
				act.Meta = map[string]any{}
			}
			act.Meta[k] = v
		}
	}
	return act
}
