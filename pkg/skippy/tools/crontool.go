// crontool.go exposes the scheduler to the model: add, list, remove,
// enable and disable jobs.
package tools

import (
	"context"

	"github.com/skippy-ai/skippy/pkg/skippy/cron"
)

// CronTool manages scheduled jobs.
type CronTool struct {
	store *cron.Store
}

// NewCronTool creates the cron tool over the shared job store.
func NewCronTool(store *cron.Store) *CronTool {
	return &CronTool{store: store}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Init() error  { return nil }

func (t *CronTool) KnownArgs() []string {
	return []string{"op", "operation", "action", "id",
		"command", "prompt", "message", "text",
		"delay", "time", "interval", "interval_ms", "schedule"}
}

func (t *CronTool) Run(_ context.Context, args map[string]any) Result {
	switch op := opArg(args); op {
	case "add", "create", "":
		return t.add(args)
	case "list":
		return t.list()
	case "remove", "delete":
		return t.setOrRemove(args, "remove")
	case "enable":
		return t.setOrRemove(args, "enable")
	case "disable":
		return t.setOrRemove(args, "disable")
	default:
		return Errorf("unknown cron operation %q; use add, list, remove, enable or disable", op)
	}
}

func (t *CronTool) add(args map[string]any) Result {
	job, err := cron.JobFromArgs(args)
	if err != nil {
		return Errorf("%v", err)
	}
	if err := t.store.Add(job); err != nil {
		return Errorf("adding job: %v", err)
	}
	return OK(map[string]any{"job": job})
}

func (t *CronTool) list() Result {
	jobs, err := t.store.List()
	if err != nil {
		return Errorf("listing jobs: %v", err)
	}
	if jobs == nil {
		jobs = []cron.Job{}
	}
	return OK(map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (t *CronTool) setOrRemove(args map[string]any, op string) Result {
	if fail := requireArgs(args, "id"); fail != nil {
		return fail
	}
	id := strArg(args, "id")

	var err error
	switch op {
	case "remove":
		err = t.store.Remove(id)
	case "enable":
		err = t.store.SetDisabled(id, false)
	case "disable":
		err = t.store.SetDisabled(id, true)
	}
	if err != nil {
		return Errorf("%s job %s: %v", op, id, err)
	}
	return OK(map[string]any{"id": id, "op": op})
}

func (t *CronTool) Context() string {
	return `Schedule jobs. Operations:
- add: one of
    {command: string, delay: seconds}              (one-shot shell command)
    {prompt: string, time: "2026-01-02T15:04:05Z"} (one-shot prompt)
    {command|prompt, interval: seconds}            (repeating)
    {command|prompt, schedule: {days: [0..6], hour: 0..23, minute: 0..59}}
  message is accepted as an alias for prompt.
- list: {op: "list"} → {success, jobs}
- remove | enable | disable: {op, id}`
}
