package cron

import (
	"testing"
	"time"
)

func TestJobDue(t *testing.T) {
	// 2026-03-02 is a Monday.
	monday9 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("one_time fires once passed", func(t *testing.T) {
		fireAt := monday9
		j := Job{Type: TypeOneTime, Time: &fireAt}
		if j.Due(monday9.Add(-time.Minute)) {
			t.Error("fired before its time")
		}
		if !j.Due(monday9) {
			t.Error("should fire exactly at its time")
		}
		if !j.Due(monday9.Add(time.Hour)) {
			t.Error("should fire after its time")
		}
	})

	t.Run("interval first firing is immediate", func(t *testing.T) {
		j := Job{Type: TypeInterval, IntervalMS: 60_000}
		if !j.Due(monday9) {
			t.Error("interval job with no last_fired should be due")
		}
	})

	t.Run("interval waits out the delta", func(t *testing.T) {
		last := monday9
		j := Job{Type: TypeInterval, IntervalMS: 120_000, LastFired: &last}
		if j.Due(monday9.Add(time.Minute)) {
			t.Error("fired before the interval elapsed")
		}
		if !j.Due(monday9.Add(2 * time.Minute)) {
			t.Error("should fire once the interval elapsed")
		}
	})

	t.Run("schedule matches day hour minute", func(t *testing.T) {
		j := Job{Type: TypeSchedule, Schedule: &Schedule{
			Days: []int{int(time.Monday)}, Hour: 9, Minute: 0,
		}}
		if !j.Due(monday9) {
			t.Error("should fire Monday 9:00")
		}
		if j.Due(monday9.Add(time.Minute)) {
			t.Error("fired at 9:01")
		}
		if j.Due(monday9.Add(24 * time.Hour)) {
			t.Error("fired on Tuesday")
		}
	})

	t.Run("schedule dedups within the minute", func(t *testing.T) {
		fired := monday9.Add(5 * time.Second)
		j := Job{Type: TypeSchedule, Schedule: &Schedule{
			Days: []int{int(time.Monday)}, Hour: 9, Minute: 0,
		}, LastFired: &fired}
		if j.Due(monday9.Add(30 * time.Second)) {
			t.Error("double-fired inside the same minute")
		}
		nextWeek := monday9.Add(7 * 24 * time.Hour)
		if !j.Due(nextWeek) {
			t.Error("should fire again the following Monday")
		}
	})

	t.Run("disabled never fires", func(t *testing.T) {
		j := Job{Type: TypeInterval, IntervalMS: 1000, Disabled: true}
		if j.Due(monday9) {
			t.Error("disabled job fired")
		}
	})
}

func TestJobValidate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"valid one_time bash", Job{
			Type: TypeOneTime, Time: &now,
			Action: Action{Kind: KindBash, Command: "true"},
		}, true},
		{"one_time without time", Job{
			Type:   TypeOneTime,
			Action: Action{Kind: KindBash, Command: "true"},
		}, false},
		{"bash without command", Job{
			Type: TypeOneTime, Time: &now,
			Action: Action{Kind: KindBash},
		}, false},
		{"prompt without text", Job{
			Type: TypeInterval, IntervalMS: 1000,
			Action: Action{Kind: KindPrompt},
		}, false},
		{"interval without interval_ms", Job{
			Type:   TypeInterval,
			Action: Action{Kind: KindPrompt, Text: "hi"},
		}, false},
		{"schedule day out of range", Job{
			Type:     TypeSchedule,
			Schedule: &Schedule{Days: []int{7}, Hour: 9},
			Action:   Action{Kind: KindPrompt, Text: "hi"},
		}, false},
		{"valid schedule", Job{
			Type:     TypeSchedule,
			Schedule: &Schedule{Days: []int{1, 3, 5}, Hour: 9, Minute: 30},
			Action:   Action{Kind: KindPrompt, Text: "hi"},
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.job.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestJobFromArgs(t *testing.T) {
	t.Run("delay becomes one_time", func(t *testing.T) {
		j, err := JobFromArgs(map[string]any{"delay": 300.0, "message": "check the oven"})
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if j.Type != TypeOneTime || j.Time == nil {
			t.Fatalf("got %+v", j)
		}
		if j.Action.Kind != KindPrompt || j.Action.Text != "check the oven" {
			t.Errorf("action: %+v", j.Action)
		}
		until := time.Until(*j.Time)
		if until < 4*time.Minute || until > 6*time.Minute {
			t.Errorf("fire time off: %v from now", until)
		}
	})

	t.Run("command becomes bash", func(t *testing.T) {
		j, err := JobFromArgs(map[string]any{"command": "df -h", "interval": 3600.0})
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if j.Type != TypeInterval || j.IntervalMS != 3_600_000 {
			t.Errorf("got %+v", j)
		}
		if j.Action.Kind != KindBash || j.Action.Command != "df -h" {
			t.Errorf("action: %+v", j.Action)
		}
	})

	t.Run("interval_ms wins over nothing", func(t *testing.T) {
		j, err := JobFromArgs(map[string]any{"prompt": "tick", "interval_ms": 500.0})
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if j.IntervalMS != 500 {
			t.Errorf("interval: %d", j.IntervalMS)
		}
	})

	t.Run("explicit time parsed", func(t *testing.T) {
		j, err := JobFromArgs(map[string]any{"prompt": "wake up", "time": "2026-09-01T07:00:00Z"})
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		want := time.Date(2026, 9, 1, 7, 0, 0, 0, time.UTC)
		if j.Type != TypeOneTime || !j.Time.Equal(want) {
			t.Errorf("got %+v", j)
		}
	})

	t.Run("schedule object", func(t *testing.T) {
		j, err := JobFromArgs(map[string]any{
			"prompt": "standup reminder",
			"schedule": map[string]any{
				"days": []any{1.0, 2.0, 3.0, 4.0, 5.0}, "hour": 9.0, "minute": 25.0,
			},
		})
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if j.Type != TypeSchedule || j.Schedule == nil {
			t.Fatalf("got %+v", j)
		}
		if len(j.Schedule.Days) != 5 || j.Schedule.Hour != 9 || j.Schedule.Minute != 25 {
			t.Errorf("schedule: %+v", j.Schedule)
		}
	})

	t.Run("no action rejected", func(t *testing.T) {
		if _, err := JobFromArgs(map[string]any{"delay": 10.0}); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("no trigger rejected", func(t *testing.T) {
		if _, err := JobFromArgs(map[string]any{"prompt": "hi"}); err == nil {
			t.Error("expected an error")
		}
	})
}
