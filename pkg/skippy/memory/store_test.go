package memory

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"), slog.Default())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundtrip(t *testing.T) {
	s := newTestStore(t)

	t.Run("set and get global", func(t *testing.T) {
		if err := s.Set(ScopeGlobal, "birthday", "march 3rd", "personal", []string{"dates"}); err != nil {
			t.Fatalf("set: %v", err)
		}
		rec, err := s.Get(ScopeGlobal, "birthday")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if rec.Value != "march 3rd" || rec.Category != "personal" {
			t.Errorf("got %+v", rec)
		}
		if len(rec.Tags) != 1 || rec.Tags[0] != "dates" {
			t.Errorf("tags: %v", rec.Tags)
		}
	})

	t.Run("upsert replaces", func(t *testing.T) {
		if err := s.Set(ScopeGlobal, "birthday", "april 1st", "", nil); err != nil {
			t.Fatalf("set: %v", err)
		}
		rec, err := s.Get(ScopeGlobal, "birthday")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if rec.Value != "april 1st" {
			t.Errorf("value not replaced: %v", rec.Value)
		}
		if rec.Category != DefaultCategory {
			t.Errorf("category should default: %v", rec.Category)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		if _, err := s.Get(ScopeGlobal, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ScopeGlobal, "birthday"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ScopeGlobal, "birthday"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete should be ErrNotFound, got %v", err)
		}
	})
}

func TestChannelScopes(t *testing.T) {
	s := newTestStore(t)

	t.Run("channel table created on first write", func(t *testing.T) {
		channels, err := s.Channels()
		if err != nil {
			t.Fatalf("channels: %v", err)
		}
		if len(channels) != 0 {
			t.Fatalf("expected no channels, got %v", channels)
		}

		if err := s.Set("general", "topic", "homelab", "", nil); err != nil {
			t.Fatalf("set: %v", err)
		}
		channels, err = s.Channels()
		if err != nil {
			t.Fatalf("channels: %v", err)
		}
		if len(channels) != 1 || channels[0] != "general" {
			t.Errorf("got %v", channels)
		}
	})

	t.Run("channel name sanitized", func(t *testing.T) {
		if err := s.Set("My-Cool Channel!", "k", "v", "", nil); err != nil {
			t.Fatalf("set: %v", err)
		}
		if got := SanitizeChannel("My-Cool Channel!"); got != "my_cool_channel_" {
			t.Errorf("sanitize: got %q", got)
		}
		if _, err := s.Get("My-Cool Channel!", "k"); err != nil {
			t.Errorf("get via unsanitized name: %v", err)
		}
	})

	t.Run("read from unknown channel", func(t *testing.T) {
		if _, err := s.Get("ghost", "k"); !errors.Is(err, ErrNotFound) {
			t.Errorf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("purge drops the table", func(t *testing.T) {
		if err := s.PurgeChannel("general"); err != nil {
			t.Fatalf("purge: %v", err)
		}
		if err := s.PurgeChannel("general"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second purge should be ErrNotFound, got %v", err)
		}
	})
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set(ScopeGlobal, "mega_furnace", "basement heater model X", "home", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("workshop", "paint", "matte black", "", nil); err != nil {
		t.Fatalf("set: %v", err)
	}

	t.Run("empty query", func(t *testing.T) {
		if _, err := s.Search("   "); !errors.Is(err, ErrQueryEmpty) {
			t.Errorf("want ErrQueryEmpty, got %v", err)
		}
	})

	// Underscores normalize to spaces on both sides, so every spelling
	// of the furnace key matches.
	for _, query := range []string{"mega", "furnace", "mega_furnace", "FURNACE mega"} {
		t.Run("query "+query, func(t *testing.T) {
			hits, err := s.Search(query)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			found := false
			for _, h := range hits {
				if h.Key == "mega_furnace" {
					found = true
				}
			}
			if !found {
				t.Errorf("query %q did not match mega_furnace: %v", query, hits)
			}
		})
	}

	t.Run("channel scope included", func(t *testing.T) {
		hits, err := s.Search("matte")
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].Scope != "workshop" {
			t.Errorf("got %v", hits)
		}
	})

	t.Run("skills included", func(t *testing.T) {
		if err := s.CreateSkill("espresso", "dialing in shots", "", "", nil); err != nil {
			t.Fatalf("create skill: %v", err)
		}
		hits, err := s.Search("espresso")
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		found := false
		for _, h := range hits {
			if h.Scope == "skill" && h.Key == "espresso" {
				found = true
			}
		}
		if !found {
			t.Errorf("skill not found: %v", hits)
		}
	})
}

func TestSkills(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateSkill("tea", "brewing tea", "steep 3 min", "alice", map[string]any{
		"favorites": map[string]any{"green": "sencha"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("duplicate name rejected", func(t *testing.T) {
		if err := s.CreateSkill("tea", "", "", "", nil); err == nil {
			t.Error("duplicate create should fail")
		}
	})

	t.Run("update merges nested data", func(t *testing.T) {
		sk, err := s.UpdateSkill("tea", map[string]any{
			"skill_data": map[string]any{
				"favorites": map[string]any{"black": "assam"},
			},
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		favorites, _ := sk.SkillData["favorites"].(map[string]any)
		if favorites["green"] != "sencha" || favorites["black"] != "assam" {
			t.Errorf("merge lost data: %v", sk.SkillData)
		}
	})

	t.Run("unreserved direct fields merge into data", func(t *testing.T) {
		sk, err := s.UpdateSkill("tea", map[string]any{"water_temp": "80C"})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if sk.SkillData["water_temp"] != "80C" {
			t.Errorf("direct field not merged: %v", sk.SkillData)
		}
	})

	t.Run("instructions stay top-level", func(t *testing.T) {
		sk, err := s.UpdateSkill("tea", map[string]any{"instructions": "steep 4 min"})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if sk.Instructions != "steep 4 min" {
			t.Errorf("instructions: %q", sk.Instructions)
		}
		if _, inData := sk.SkillData["instructions"]; inData {
			t.Error("instructions leaked into skill_data")
		}
	})

	t.Run("skill_data null clears", func(t *testing.T) {
		sk, err := s.UpdateSkill("tea", map[string]any{"skill_data": nil})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if len(sk.SkillData) != 0 {
			t.Errorf("data should be empty: %v", sk.SkillData)
		}
	})

	t.Run("training counter", func(t *testing.T) {
		if err := s.BumpTrainingProgress("tea", "sessions"); err != nil {
			t.Fatalf("bump: %v", err)
		}
		if err := s.BumpTrainingProgress("tea", "sessions"); err != nil {
			t.Fatalf("bump: %v", err)
		}
		sk, err := s.GetSkill("tea")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if sk.TrainingProgress["sessions"] != 2.0 {
			t.Errorf("counter: %v", sk.TrainingProgress)
		}
	})

	t.Run("visibility", func(t *testing.T) {
		if err := s.CreateSkill("shared", "for everyone", "", "", nil); err != nil {
			t.Fatalf("create: %v", err)
		}
		skills, err := s.ListSkills("bob")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		// bob sees the global skill but not alice's.
		if len(skills) != 1 || skills[0].Name != "shared" {
			t.Errorf("bob sees %v", skillNames(skills))
		}
		skills, err = s.ListSkills("alice")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(skills) != 2 {
			t.Errorf("alice sees %v", skillNames(skills))
		}
	})
}

func skillNames(skills []Skill) []string {
	var names []string
	for _, sk := range skills {
		names = append(names, sk.Name)
	}
	return names
}

func TestExportImport(t *testing.T) {
	src := newTestStore(t)
	if err := src.Set(ScopeGlobal, "k1", "v1", "general", nil); err != nil {
		t.Fatal(err)
	}
	if err := src.Set("lab", "k2", map[string]any{"deep": true}, "notes", nil); err != nil {
		t.Fatal(err)
	}
	if err := src.CreateSkill("sk", "desc", "inst", "", map[string]any{"n": 1.0}); err != nil {
		t.Fatal(err)
	}

	exp, err := src.ListAll()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := newTestStore(t)
	if err := dst.SetAll(exp); err != nil {
		t.Fatalf("import: %v", err)
	}

	rec, err := dst.Get(ScopeGlobal, "k1")
	if err != nil || rec.Value != "v1" {
		t.Errorf("global roundtrip: %v %v", rec, err)
	}
	rec, err = dst.Get("lab", "k2")
	if err != nil {
		t.Fatalf("channel roundtrip: %v", err)
	}
	if m, ok := rec.Value.(map[string]any); !ok || m["deep"] != true {
		t.Errorf("channel value: %v", rec.Value)
	}
	sk, err := dst.GetSkill("sk")
	if err != nil || sk.SkillData["n"] != 1.0 {
		t.Errorf("skill roundtrip: %v %v", sk, err)
	}
}

func TestContextMemories(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set(ScopeGlobal, "name", "Skippy", "identity", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ScopeGlobal, "coffee", "black", "preferences", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ScopeGlobal, "noise", "ignored", "scratch", nil); err != nil {
		t.Fatal(err)
	}

	cats, err := s.ContextMemories([]string{"preferences", "identity"})
	if err != nil {
		t.Fatalf("context memories: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("got %d categories", len(cats))
	}
	// Caller's category order is preserved.
	if cats[0].Category != "preferences" || cats[1].Category != "identity" {
		t.Errorf("order: %v %v", cats[0].Category, cats[1].Category)
	}
	if cats[0].Items[0].Key != "coffee" {
		t.Errorf("items: %v", cats[0].Items)
	}
}
