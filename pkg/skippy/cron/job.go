// Package cron implements the persistent job scheduler: one-shot,
// interval and weekly-schedule jobs firing bash commands or prompts.
package cron

import (
	"fmt"
	"time"
)

// Job types.
const (
	TypeOneTime  = "one_time"
	TypeInterval = "interval"
	TypeSchedule = "schedule"
)

// Action kinds.
const (
	KindBash   = "bash"
	KindPrompt = "prompt"
)

// Action is what a job does when it fires.
type Action struct {
	Kind    string `json:"kind"`
	Command string `json:"command,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Schedule is a weekly firing pattern. Days uses time.Weekday numbering
// (0 = Sunday).
type Schedule struct {
	Days   []int `json:"days"`
	Hour   int   `json:"hour"`
	Minute int   `json:"minute"`
}

// Job is one persisted scheduler entry.
type Job struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Action     Action     `json:"action"`
	Schedule   *Schedule  `json:"schedule,omitempty"`
	Time       *time.Time `json:"time,omitempty"`
	IntervalMS int64      `json:"interval_ms,omitempty"`
	Disabled   bool       `json:"disabled"`
	LastFired  *time.Time `json:"last_fired,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Validate checks the per-type required fields.
func (j *Job) Validate() error {
	switch j.Action.Kind {
	case KindBash:
		if j.Action.Command == "" {
			return fmt.Errorf("cron: bash action requires a command")
		}
	case KindPrompt:
		if j.Action.Text == "" {
			return fmt.Errorf("cron: prompt action requires text")
		}
	default:
		return fmt.Errorf("cron: unknown action kind %q", j.Action.Kind)
	}

	switch j.Type {
	case TypeOneTime:
		if j.Time == nil {
			return fmt.Errorf("cron: one_time job requires a time")
		}
	case TypeInterval:
		if j.IntervalMS <= 0 {
			return fmt.Errorf("cron: interval job requires interval_ms > 0")
		}
	case TypeSchedule:
		if j.Schedule == nil {
			return fmt.Errorf("cron: schedule job requires a schedule")
		}
		if len(j.Schedule.Days) == 0 {
			return fmt.Errorf("cron: schedule requires at least one day")
		}
		for _, d := range j.Schedule.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("cron: schedule day %d out of range [0,6]", d)
			}
		}
		if j.Schedule.Hour < 0 || j.Schedule.Hour > 23 {
			return fmt.Errorf("cron: schedule hour %d out of range [0,23]", j.Schedule.Hour)
		}
		if j.Schedule.Minute < 0 || j.Schedule.Minute > 59 {
			return fmt.Errorf("cron: schedule minute %d out of range [0,59]", j.Schedule.Minute)
		}
	default:
		return fmt.Errorf("cron: unknown job type %q", j.Type)
	}
	return nil
}

// Due evaluates the type-specific firing predicate against now.
// one_time jobs fire once now has passed their time. interval jobs fire
// when last_fired is unset or the interval has elapsed. schedule jobs
// fire in the matching minute, deduplicated so tick jitter inside the
// same minute cannot double-fire.
func (j *Job) Due(now time.Time) bool {
	if j.Disabled {
		return false
	}
	switch j.Type {
	case TypeOneTime:
		return j.Time != nil && !now.Before(*j.Time)
	case TypeInterval:
		if j.LastFired == nil {
			return true
		}
		return now.Sub(*j.LastFired) >= time.Duration(j.IntervalMS)*time.Millisecond
	case TypeSchedule:
		if j.Schedule == nil {
			return false
		}
		if !containsDay(j.Schedule.Days, int(now.Weekday())) {
			return false
		}
		if now.Hour() != j.Schedule.Hour || now.Minute() != j.Schedule.Minute {
			return false
		}
		if j.LastFired != nil && sameMinute(*j.LastFired, now) {
			return false
		}
		return true
	}
	return false
}

func containsDay(days []int, d int) bool {
	for _, day := range days {
		if day == d {
			return true
		}
	}
	return false
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}
