package memory

import (
	"reflect"
	"testing"
)

func TestDeepMerge(t *testing.T) {
	t.Run("nested objects merge", func(t *testing.T) {
		dst := map[string]any{
			"config": map[string]any{"host": "a", "port": 1.0},
		}
		patch := map[string]any{
			"config": map[string]any{"port": 2.0},
		}
		got := DeepMerge(dst, patch)
		want := map[string]any{
			"config": map[string]any{"host": "a", "port": 2.0},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("null deletes the field", func(t *testing.T) {
		dst := map[string]any{"keep": "x", "drop": "y"}
		got := DeepMerge(dst, map[string]any{"drop": nil})
		if _, exists := got["drop"]; exists {
			t.Errorf("field should be deleted, got %v", got)
		}
		if got["keep"] != "x" {
			t.Errorf("unrelated field changed: %v", got)
		}
	})

	t.Run("arrays replace", func(t *testing.T) {
		dst := map[string]any{"tags": []any{"a", "b", "c"}}
		got := DeepMerge(dst, map[string]any{"tags": []any{"z"}})
		if !reflect.DeepEqual(got["tags"], []any{"z"}) {
			t.Errorf("array should replace, got %v", got["tags"])
		}
	})

	t.Run("scalar replaces object", func(t *testing.T) {
		dst := map[string]any{"v": map[string]any{"nested": true}}
		got := DeepMerge(dst, map[string]any{"v": "flat"})
		if got["v"] != "flat" {
			t.Errorf("got %v", got["v"])
		}
	})

	t.Run("object onto scalar starts fresh", func(t *testing.T) {
		dst := map[string]any{"v": "flat"}
		got := DeepMerge(dst, map[string]any{"v": map[string]any{"a": 1.0}})
		want := map[string]any{"a": 1.0}
		if !reflect.DeepEqual(got["v"], want) {
			t.Errorf("got %v, want %v", got["v"], want)
		}
	})

	t.Run("nil destination", func(t *testing.T) {
		got := DeepMerge(nil, map[string]any{"a": "b"})
		if got["a"] != "b" {
			t.Errorf("got %v", got)
		}
	})
}
