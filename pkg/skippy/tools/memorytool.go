// memorytool.go exposes the memory store to the model: global and
// channel key/value operations, skill operations, and cross-scope
// search. Required parameters are validated per operation before the
// store is touched.
package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/skippy-ai/skippy/pkg/skippy/memory"
)

// MemoryTool dispatches memory operations.
type MemoryTool struct {
	store *memory.Store
}

// NewMemoryTool creates the memory tool over the shared store.
func NewMemoryTool(store *memory.Store) *MemoryTool {
	return &MemoryTool{store: store}
}

func (t *MemoryTool) Name() string { return "memory" }
func (t *MemoryTool) Init() error  { return nil }

func (t *MemoryTool) KnownArgs() []string {
	return []string{"op", "operation", "action",
		"key", "value", "category", "tags", "channel", "query",
		"name", "description", "instructions", "owner", "skill_data",
		"patch", "counter", "user"}
}

// required parameters per operation, checked before dispatch.
var memoryRequired = map[string][]string{
	"set":           {"key", "value"},
	"get":           {"key"},
	"delete":        {"key"},
	"search":        {"query"},
	"purge_channel": {"channel"},
	"create_skill":  {"name"},
	"get_skill":     {"name"},
	"update_skill":  {"name"},
	"delete_skill":  {"name"},
	"train_skill":   {"name", "counter"},
}

func (t *MemoryTool) Run(_ context.Context, args map[string]any) Result {
	op := opArg(args)
	if op == "" {
		return Errorf("missing required parameter %q", "op")
	}
	op = strings.ToLower(op)

	if required, known := memoryRequired[op]; known {
		if fail := requireArgs(args, required...); fail != nil {
			return fail
		}
	}

	scope := strArg(args, "channel")

	switch op {
	case "set":
		return t.set(scope, args)
	case "get":
		return t.get(scope, args)
	case "delete":
		return t.delete(scope, args)
	case "list":
		return t.list(scope, args)
	case "search":
		return t.search(args)
	case "channels":
		return t.channels()
	case "purge_channel":
		return t.purgeChannel(args)
	case "create_skill":
		return t.createSkill(args)
	case "get_skill":
		return t.getSkill(args)
	case "update_skill":
		return t.updateSkill(args)
	case "delete_skill":
		return t.deleteSkill(args)
	case "list_skills":
		return t.listSkills(args)
	case "train_skill":
		return t.trainSkill(args)
	default:
		return Errorf("unknown memory operation %q", op)
	}
}

// ── key/value operations ──

func (t *MemoryTool) set(scope string, args map[string]any) Result {
	var tags []string
	switch v := args["tags"].(type) {
	case string:
		if v != "" {
			tags = strings.Split(v, ",")
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	err := t.store.Set(scope, strArg(args, "key"), args["value"], strArg(args, "category"), tags)
	if err != nil {
		return Errorf("storing memory: %v", err)
	}
	return OK(map[string]any{"key": strArg(args, "key"), "scope": scopeName(scope)})
}

func (t *MemoryTool) get(scope string, args map[string]any) Result {
	rec, err := t.store.Get(scope, strArg(args, "key"))
	if errors.Is(err, memory.ErrNotFound) {
		return Errorf("memory %q not found in scope %s", strArg(args, "key"), scopeName(scope))
	}
	if err != nil {
		return Errorf("reading memory: %v", err)
	}
	return OK(map[string]any{"memory": rec})
}

func (t *MemoryTool) delete(scope string, args map[string]any) Result {
	err := t.store.Delete(scope, strArg(args, "key"))
	if errors.Is(err, memory.ErrNotFound) {
		return Errorf("memory %q not found in scope %s", strArg(args, "key"), scopeName(scope))
	}
	if err != nil {
		return Errorf("deleting memory: %v", err)
	}
	return OK(map[string]any{"key": strArg(args, "key"), "deleted": true})
}

func (t *MemoryTool) list(scope string, args map[string]any) Result {
	recs, err := t.store.List(scope, strArg(args, "category"))
	if err != nil {
		return Errorf("listing memories: %v", err)
	}
	if recs == nil {
		recs = []memory.Record{}
	}
	return OK(map[string]any{"memories": recs, "count": len(recs), "scope": scopeName(scope)})
}

func (t *MemoryTool) search(args map[string]any) Result {
	hits, err := t.store.Search(strArg(args, "query"))
	if errors.Is(err, memory.ErrQueryEmpty) {
		return Errorf("search query is empty")
	}
	if err != nil {
		return Errorf("searching: %v", err)
	}
	if hits == nil {
		hits = []memory.SearchHit{}
	}
	return OK(map[string]any{"hits": hits, "count": len(hits)})
}

func (t *MemoryTool) channels() Result {
	channels, err := t.store.Channels()
	if err != nil {
		return Errorf("listing channels: %v", err)
	}
	if channels == nil {
		channels = []string{}
	}
	return OK(map[string]any{"channels": channels})
}

func (t *MemoryTool) purgeChannel(args map[string]any) Result {
	ch := strArg(args, "channel")
	err := t.store.PurgeChannel(ch)
	if errors.Is(err, memory.ErrNotFound) {
		return Errorf("channel %q has no memories", ch)
	}
	if err != nil {
		return Errorf("purging channel: %v", err)
	}
	return OK(map[string]any{"channel": ch, "purged": true})
}

// ── skill operations ──

func (t *MemoryTool) createSkill(args map[string]any) Result {
	data, _ := args["skill_data"].(map[string]any)
	err := t.store.CreateSkill(
		strArg(args, "name"),
		strArg(args, "description"),
		strArg(args, "instructions"),
		strArg(args, "owner"),
		data,
	)
	if err != nil {
		return Errorf("creating skill: %v", err)
	}
	return OK(map[string]any{"name": strArg(args, "name")})
}

func (t *MemoryTool) getSkill(args map[string]any) Result {
	sk, err := t.store.GetSkill(strArg(args, "name"))
	if errors.Is(err, memory.ErrNotFound) {
		return Errorf("skill %q not found", strArg(args, "name"))
	}
	if err != nil {
		return Errorf("reading skill: %v", err)
	}
	return OK(map[string]any{"skill": sk})
}

func (t *MemoryTool) updateSkill(args map[string]any) Result {
	// The patch is either the explicit patch object or the direct fields
	// of the call, minus the dispatch keys.
	patch, _ := args["patch"].(map[string]any)
	if patch == nil {
		patch = map[string]any{}
		for k, v := range args {
			switch k {
			case "op", "operation", "action", "name", "patch":
				continue
			}
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return Errorf("update_skill needs fields to change")
	}

	sk, err := t.store.UpdateSkill(strArg(args, "name"), patch)
	if errors.Is(err, memory.ErrNotFound) {
		return Errorf("skill %q not found", strArg(args, "name"))
	}
	if err != nil {
		return Errorf("updating skill: %v", err)
	}
	return OK(map[string]any{"skill": sk})
}

func (t *MemoryTool) deleteSkill(args map[string]any) Result {
	err := t.store.DeleteSkill(strArg(args, "name"))
	if errors.Is(err, memory.ErrNotFound) {
		return Errorf("skill %q not found", strArg(args, "name"))
	}
	if err != nil {
		return Errorf("deleting skill: %v", err)
	}
	return OK(map[string]any{"name": strArg(args, "name"), "deleted": true})
}

func (t *MemoryTool) listSkills(args map[string]any) Result {
	skills, err := t.store.ListSkills(strArg(args, "user"))
	if err != nil {
		return Errorf("listing skills: %v", err)
	}
	if skills == nil {
		skills = []memory.Skill{}
	}
	return OK(map[string]any{"skills": skills, "count": len(skills)})
}

func (t *MemoryTool) trainSkill(args map[string]any) Result {
	err := t.store.BumpTrainingProgress(strArg(args, "name"), strArg(args, "counter"))
	if errors.Is(err, memory.ErrNotFound) {
		return Errorf("skill %q not found", strArg(args, "name"))
	}
	if err != nil {
		return Errorf("training skill: %v", err)
	}
	return OK(map[string]any{"name": strArg(args, "name"), "counter": strArg(args, "counter")})
}

func scopeName(scope string) string {
	if scope == "" {
		return memory.ScopeGlobal
	}
	return scope
}

func (t *MemoryTool) Context() string {
	return `Persistent memory. All ops take {op: string, …}; channel ops add {channel: string}.
Key/value: set {key, value, category?, tags?}, get {key}, delete {key},
list {category?}, channels {}, purge_channel {channel}.
Search: search {query} → {hits: [{scope, key, value, category}]}
  (tokenized, matches keys/values/categories/tags across all scopes and skills)
Skills: create_skill {name, description?, instructions?, owner?, skill_data?},
get_skill {name}, update_skill {name, …fields or {skill_data: obj|null}},
delete_skill {name}, list_skills {user?}, train_skill {name, counter}.
Skill updates deep-merge: nested objects merge, arrays replace, null deletes
a field, {skill_data: null} clears all data.`
}
