package cron

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	robfig "github.com/robfig/cron/v3"
)

// PromptRunner executes a prompt action through the orchestrator. The
// scheduler never waits on the result.
type PromptRunner func(ctx context.Context, prompt string)

// Scheduler evaluates jobs once per minute and fires the due ones.
type Scheduler struct {
	store  *Store
	runner PromptRunner
	logger *slog.Logger
	ticker *robfig.Cron

	// now is swappable in tests.
	now func() time.Time
}

// NewScheduler creates a scheduler over the store. runner handles
// prompt actions; bash actions run directly.
func NewScheduler(store *Store, runner PromptRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		runner: runner,
		logger: logger.With("component", "cron"),
		now:    time.Now,
	}
}

// Start begins the minute tick. Returns after scheduling; firing happens
// on the ticker goroutine.
func (s *Scheduler) Start() error {
	s.ticker = robfig.New()
	if _, err := s.ticker.AddFunc("* * * * *", func() { s.Tick(s.now()) }); err != nil {
		return err
	}
	s.ticker.Start()
	s.logger.Info("scheduler started")
	return nil
}

// Stop halts the tick. In-flight firings are not awaited.
func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
}

// Tick evaluates every enabled job against now and fires the due ones.
// Exported so tests can drive it with a fixed clock.
func (s *Scheduler) Tick(now time.Time) {
	jobs, err := s.store.List()
	if err != nil {
		s.logger.Error("loading jobs", "error", err)
		return
	}

	for i := range jobs {
		job := jobs[i]
		if !job.Due(now) {
			continue
		}
		s.logger.Info("job due", "id", job.ID, "type", job.Type, "kind", job.Action.Kind)

		// Bookkeeping happens before the action runs so a slow action
		// cannot double-fire on the next tick.
		if job.Type == TypeOneTime {
			if err := s.store.Remove(job.ID); err != nil {
				s.logger.Error("removing one_time job", "id", job.ID, "error", err)
			}
		} else {
			if err := s.store.MarkFired(job.ID, now); err != nil {
				s.logger.Error("marking job fired", "id", job.ID, "error", err)
			}
		}

		go s.fire(job)
	}
}

// fire executes one job action. Runs on its own goroutine; the tick
// never blocks on job completion.
func (s *Scheduler) fire(job Job) {
	switch job.Action.Kind {
	case KindBash:
		out, err := exec.Command("sh", "-c", job.Action.Command).CombinedOutput()
		if err != nil {
			s.logger.Error("bash job failed",
				"id", job.ID, "error", err, "output", string(out))
			return
		}
		s.logger.Info("bash job finished", "id", job.ID, "bytes", len(out))
	case KindPrompt:
		if s.runner == nil {
			s.logger.Warn("prompt job fired with no runner", "id", job.ID)
			return
		}
		s.runner(context.Background(), job.Action.Text)
	}
}
