// args.go holds small typed accessors over the normalized argument map.
package tools

import (
	"fmt"
	"strconv"
)

// strArg returns args[key] as a string, tolerating numeric values the
// model sometimes emits for string parameters.
func strArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// intArg returns args[key] as an int, defaulting to def.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// boolArg returns args[key] as a bool.
func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// floatArg returns args[key] as a float64, defaulting to def.
func floatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// opArg returns the operation selector, accepting the op/operation/action
// spellings the model uses interchangeably.
func opArg(args map[string]any) string {
	for _, key := range []string{"op", "operation", "action"} {
		if v := strArg(args, key); v != "" {
			return v
		}
	}
	return ""
}

// requireArgs validates required parameters at the dispatcher, returning
// a non-nil failed Result naming the first missing one.
func requireArgs(args map[string]any, keys ...string) Result {
	for _, k := range keys {
		v, present := args[k]
		if !present || v == nil {
			return Errorf("missing required parameter %q", k)
		}
		if s, ok := v.(string); ok && s == "" {
			return Errorf("missing required parameter %q", k)
		}
	}
	return nil
}
