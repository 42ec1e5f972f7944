package orchestrator

import (
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		env, repaired, err := ParseEnvelope(
			`{"reasoning": "done", "actions": [], "final_answer": "hi", "continue": false}`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if repaired {
			t.Error("clean JSON flagged as repaired")
		}
		if env.FinalAnswer != "hi" || env.Continue {
			t.Errorf("got %+v", env)
		}
	})

	t.Run("fenced", func(t *testing.T) {
		env, _, err := ParseEnvelope("```json\n{\"final_answer\": \"ok\", \"continue\": false}\n```")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if env.FinalAnswer != "ok" {
			t.Errorf("got %+v", env)
		}
	})

	t.Run("prose around the object", func(t *testing.T) {
		env, _, err := ParseEnvelope(
			`Sure! Here is my response: {"final_answer": "found it", "continue": false} Hope that helps.`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if env.FinalAnswer != "found it" {
			t.Errorf("got %+v", env)
		}
	})

	t.Run("trailing comma repaired", func(t *testing.T) {
		env, repaired, err := ParseEnvelope(`{"final_answer": "x", "continue": false,}`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !repaired {
			t.Error("repair not flagged")
		}
		if env.FinalAnswer != "x" {
			t.Errorf("got %+v", env)
		}
	})

	t.Run("unquoted keys repaired", func(t *testing.T) {
		env, repaired, err := ParseEnvelope(`{final_answer: "x", continue: false}`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !repaired || env.FinalAnswer != "x" {
			t.Errorf("repaired=%v env=%+v", repaired, env)
		}
	})

	t.Run("truncated object closed", func(t *testing.T) {
		env, repaired, err := ParseEnvelope(`{"reasoning": "thinking", "final_answer": "partial`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !repaired {
			t.Error("repair not flagged")
		}
		if env.Reasoning != "thinking" {
			t.Errorf("got %+v", env)
		}
	})

	t.Run("regex fallback", func(t *testing.T) {
		env, repaired, err := ParseEnvelope(
			`garbage "final_answer": "salvaged" more garbage "continue": false tail`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !repaired || env.FinalAnswer != "salvaged" {
			t.Errorf("repaired=%v env=%+v", repaired, env)
		}
	})

	t.Run("nothing parseable", func(t *testing.T) {
		if _, _, err := ParseEnvelope("just a plain sentence with no structure"); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("escaped braces in strings", func(t *testing.T) {
		env, _, err := ParseEnvelope(
			`{"final_answer": "use {\"x\": 1} as input", "continue": false}`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if env.FinalAnswer != `use {"x": 1} as input` {
			t.Errorf("got %q", env.FinalAnswer)
		}
	})
}

func TestEnvelopeNormalization(t *testing.T) {
	t.Run("bare action array wrapped", func(t *testing.T) {
		env, _, err := ParseEnvelope(`[{"tool": "bash", "arguments": {"command": "ls"}}]`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(env.Actions) != 1 || env.Actions[0].Tool != "bash" {
			t.Fatalf("got %+v", env)
		}
		if !env.Continue {
			t.Error("bare actions imply continue")
		}
	})

	t.Run("flat tool object wrapped", func(t *testing.T) {
		env, _, err := ParseEnvelope(`{"tool": "weather", "arguments": {"days": 2}}`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(env.Actions) != 1 || env.Actions[0].Tool != "weather" {
			t.Fatalf("got %+v", env)
		}
	})

	t.Run("missing type defaults to tool_call", func(t *testing.T) {
		env, _, err := ParseEnvelope(
			`{"actions": [{"tool": "bash", "arguments": {}}], "continue": true, "final_answer": "", "reasoning": ""}`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if env.Actions[0].Type != "tool_call" {
			t.Errorf("type: %q", env.Actions[0].Type)
		}
	})

	t.Run("flattened meta keys collected", func(t *testing.T) {
		env, _, err := ParseEnvelope(
			`{"actions": [{"tool": "memory", "op": "get", "key": "birthday"}], "continue": true, "final_answer": "", "reasoning": ""}`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		act := env.Actions[0]
		if act.Meta["op"] != "get" || act.Meta["key"] != "birthday" {
			t.Errorf("meta: %v", act.Meta)
		}
	})

	t.Run("actions force continue", func(t *testing.T) {
		env, _, err := ParseEnvelope(
			`{"actions": [{"tool": "bash", "arguments": {}}], "continue": false, "final_answer": "", "reasoning": ""}`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !env.Continue {
			t.Error("actions with empty final answer must force continue")
		}
	})

	t.Run("empty object is empty envelope", func(t *testing.T) {
		env, _, err := ParseEnvelope(`{"unrelated": true}`)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !env.Empty() {
			t.Errorf("expected empty envelope, got %+v", env)
		}
	})
}
