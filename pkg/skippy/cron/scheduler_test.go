package cron

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestSchedulerStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundtrip(t *testing.T) {
	store := newTestSchedulerStore(t)

	job := &Job{
		Type:       TypeInterval,
		IntervalMS: 60_000,
		Action:     Action{Kind: KindPrompt, Text: "water the plants"},
	}
	if err := store.Add(job); err != nil {
		t.Fatalf("add: %v", err)
	}
	if job.ID == "" || len(job.ID) != 8 {
		t.Errorf("id not assigned: %q", job.ID)
	}

	t.Run("get", func(t *testing.T) {
		got, err := store.Get(job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Action.Text != "water the plants" || got.IntervalMS != 60_000 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("disable", func(t *testing.T) {
		if err := store.SetDisabled(job.ID, true); err != nil {
			t.Fatalf("disable: %v", err)
		}
		got, _ := store.Get(job.ID)
		if !got.Disabled {
			t.Error("not disabled")
		}
	})

	t.Run("mark fired", func(t *testing.T) {
		at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		if err := store.MarkFired(job.ID, at); err != nil {
			t.Fatalf("mark fired: %v", err)
		}
		got, _ := store.Get(job.ID)
		if got.LastFired == nil || !got.LastFired.Equal(at) {
			t.Errorf("last fired: %v", got.LastFired)
		}
	})

	t.Run("schedule persists", func(t *testing.T) {
		sj := &Job{
			Type:     TypeSchedule,
			Schedule: &Schedule{Days: []int{1}, Hour: 9, Minute: 0},
			Action:   Action{Kind: KindBash, Command: "true"},
		}
		if err := store.Add(sj); err != nil {
			t.Fatalf("add: %v", err)
		}
		got, err := store.Get(sj.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Schedule == nil || got.Schedule.Hour != 9 {
			t.Errorf("schedule lost: %+v", got.Schedule)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := store.Remove(job.ID); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := store.Remove(job.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second remove: %v", err)
		}
		if _, err := store.Get(job.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("get after remove: %v", err)
		}
	})

	t.Run("invalid job rejected", func(t *testing.T) {
		if err := store.Add(&Job{Type: TypeOneTime}); err == nil {
			t.Error("expected validation error")
		}
	})
}

// collectRunner funnels fired prompts into a channel.
func collectRunner(fired chan<- string) PromptRunner {
	return func(_ context.Context, prompt string) {
		fired <- prompt
	}
}

func waitFired(t *testing.T, fired <-chan string) string {
	t.Helper()
	select {
	case p := <-fired:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
		return ""
	}
}

func assertQuiet(t *testing.T, fired <-chan string) {
	t.Helper()
	select {
	case p := <-fired:
		t.Fatalf("unexpected firing: %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerTick(t *testing.T) {
	monday9 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("one_time fires and is removed", func(t *testing.T) {
		store := newTestSchedulerStore(t)
		fired := make(chan string, 1)
		s := NewScheduler(store, collectRunner(fired), slog.Default())

		fireAt := monday9
		job := &Job{Type: TypeOneTime, Time: &fireAt,
			Action: Action{Kind: KindPrompt, Text: "one shot"}}
		if err := store.Add(job); err != nil {
			t.Fatal(err)
		}

		s.Tick(monday9.Add(-time.Minute))
		assertQuiet(t, fired)

		s.Tick(monday9)
		if got := waitFired(t, fired); got != "one shot" {
			t.Errorf("prompt: %q", got)
		}
		if _, err := store.Get(job.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("one_time job should be removed after firing, got %v", err)
		}

		s.Tick(monday9.Add(time.Minute))
		assertQuiet(t, fired)
	})

	t.Run("interval respects the delta", func(t *testing.T) {
		store := newTestSchedulerStore(t)
		fired := make(chan string, 2)
		s := NewScheduler(store, collectRunner(fired), slog.Default())

		job := &Job{Type: TypeInterval, IntervalMS: 120_000,
			Action: Action{Kind: KindPrompt, Text: "heartbeat"}}
		if err := store.Add(job); err != nil {
			t.Fatal(err)
		}

		s.Tick(monday9)
		waitFired(t, fired)

		s.Tick(monday9.Add(time.Minute))
		assertQuiet(t, fired)

		s.Tick(monday9.Add(2 * time.Minute))
		waitFired(t, fired)
	})

	t.Run("schedule fires once per matching minute", func(t *testing.T) {
		store := newTestSchedulerStore(t)
		fired := make(chan string, 2)
		s := NewScheduler(store, collectRunner(fired), slog.Default())

		job := &Job{Type: TypeSchedule,
			Schedule: &Schedule{Days: []int{int(time.Monday)}, Hour: 9, Minute: 0},
			Action:   Action{Kind: KindPrompt, Text: "standup"}}
		if err := store.Add(job); err != nil {
			t.Fatal(err)
		}

		s.Tick(monday9)
		waitFired(t, fired)

		// Jittered second tick inside the same minute must not double-fire.
		s.Tick(monday9.Add(20 * time.Second))
		assertQuiet(t, fired)

		s.Tick(monday9.Add(7 * 24 * time.Hour))
		waitFired(t, fired)
	})

	t.Run("disabled job never fires", func(t *testing.T) {
		store := newTestSchedulerStore(t)
		fired := make(chan string, 1)
		s := NewScheduler(store, collectRunner(fired), slog.Default())

		job := &Job{Type: TypeInterval, IntervalMS: 1000,
			Action: Action{Kind: KindPrompt, Text: "never"}}
		if err := store.Add(job); err != nil {
			t.Fatal(err)
		}
		if err := store.SetDisabled(job.ID, true); err != nil {
			t.Fatal(err)
		}

		s.Tick(monday9)
		assertQuiet(t, fired)
	})
}
