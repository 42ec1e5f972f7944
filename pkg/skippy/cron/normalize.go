package cron

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobFromArgs builds a Job from the loosely-shaped arguments an LLM
// emits. Normalization rules:
//
//   - delay (seconds) becomes a one_time time in the future
//   - message / prompt / text all mean a prompt action
//   - command means a bash action
//   - interval accepts seconds; interval_ms accepts milliseconds
//   - time accepts RFC3339 or "2006-01-02 15:04:05"
func JobFromArgs(args map[string]any) (*Job, error) {
	j := &Job{}

	// Action first: kind is inferred from which payload field is present.
	if cmd := stringField(args, "command"); cmd != "" {
		j.Action = Action{Kind: KindBash, Command: cmd}
	} else if text := firstString(args, "prompt", "message", "text"); text != "" {
		j.Action = Action{Kind: KindPrompt, Text: text}
	} else {
		return nil, fmt.Errorf("cron: job needs a command or a prompt/message")
	}

	if delay := numField(args, "delay"); delay > 0 {
		t := time.Now().UTC().Add(time.Duration(delay) * time.Second)
		j.Type = TypeOneTime
		j.Time = &t
	}
	if raw := stringField(args, "time"); raw != "" {
		t, err := parseUserTime(raw)
		if err != nil {
			return nil, err
		}
		j.Type = TypeOneTime
		j.Time = &t
	}
	if ms := int64(numField(args, "interval_ms")); ms > 0 {
		j.Type = TypeInterval
		j.IntervalMS = ms
	} else if sec := numField(args, "interval"); sec > 0 {
		j.Type = TypeInterval
		j.IntervalMS = int64(sec * 1000)
	}
	if raw, ok := args["schedule"]; ok && raw != nil {
		sched, err := scheduleFromAny(raw)
		if err != nil {
			return nil, err
		}
		j.Type = TypeSchedule
		j.Schedule = sched
	}

	if j.Type == "" {
		return nil, fmt.Errorf("cron: job needs a time, delay, interval or schedule")
	}
	return j, j.Validate()
}

func scheduleFromAny(raw any) (*Schedule, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("cron: invalid schedule: %w", err)
	}
	var sched Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, fmt.Errorf("cron: invalid schedule: %w", err)
	}
	return &sched, nil
}

func parseUserTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, sqliteTimeLayout, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cron: unparseable time %q", raw)
}

func stringField(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func firstString(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(args, k); s != "" {
			return s
		}
	}
	return ""
}

func numField(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}
