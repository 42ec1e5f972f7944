// skills.go implements the skill scope: named knowledge units with
// always-injectable description/instructions and on-demand structured
// skill_data, updated with deep-merge semantics.
package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OwnerGlobal is the sentinel owner for skills visible to everyone.
const OwnerGlobal = "global"

// Skill is one stored skill record.
type Skill struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Instructions     string         `json:"instructions"`
	Owner            string         `json:"owner"`
	SkillData        map[string]any `json:"skill_data"`
	TrainingProgress map[string]any `json:"training_progress"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// reserved top-level skill fields that never merge into skill_data.
var reservedSkillFields = map[string]bool{
	"name":              true,
	"description":       true,
	"instructions":      true,
	"owner":             true,
	"skill_data":        true,
	"training_progress": true,
}

// CreateSkill inserts a new skill. The name must be unique.
func (s *Store) CreateSkill(name, description, instructions, owner string, data map[string]any) error {
	if name == "" {
		return fmt.Errorf("memory: skill name is required")
	}
	if owner == "" {
		owner = OwnerGlobal
	}
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("memory: encoding skill_data: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO skills (name, description, instructions, owner, skill_data)
		VALUES (?, ?, ?, ?, ?)`,
		name, description, instructions, owner, string(raw))
	if err != nil {
		return fmt.Errorf("memory: creating skill %q: %w", name, err)
	}
	return nil
}

// PutSkill upserts a full skill record. Used by import.
func (s *Store) PutSkill(sk *Skill) error {
	if sk.Name == "" {
		return fmt.Errorf("memory: skill name is required")
	}
	if sk.Owner == "" {
		sk.Owner = OwnerGlobal
	}
	data, err := json.Marshal(orEmpty(sk.SkillData))
	if err != nil {
		return err
	}
	progress, err := json.Marshal(orEmpty(sk.TrainingProgress))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO skills (name, description, instructions, owner, skill_data, training_progress)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			instructions = excluded.instructions,
			owner = excluded.owner,
			skill_data = excluded.skill_data,
			training_progress = excluded.training_progress,
			updated_at = CURRENT_TIMESTAMP`,
		sk.Name, sk.Description, sk.Instructions, sk.Owner, string(data), string(progress))
	return err
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// GetSkill returns a skill by name, or ErrNotFound.
func (s *Store) GetSkill(name string) (*Skill, error) {
	row := s.db.QueryRow(`
		SELECT name, description, instructions, owner, skill_data, training_progress,
		       created_at, updated_at
		FROM skills WHERE name = ?`, name)

	var sk Skill
	var data, progress, created, updated string
	err := row.Scan(&sk.Name, &sk.Description, &sk.Instructions, &sk.Owner,
		&data, &progress, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &sk.SkillData); err != nil {
		sk.SkillData = map[string]any{}
	}
	if err := json.Unmarshal([]byte(progress), &sk.TrainingProgress); err != nil {
		sk.TrainingProgress = map[string]any{}
	}
	sk.CreatedAt = parseSQLiteTime(created)
	sk.UpdatedAt = parseSQLiteTime(updated)
	return &sk, nil
}

// UpdateSkill applies a patch to an existing skill with deep-merge
// semantics. Three patch shapes are accepted for robustness against an
// LLM caller:
//
//   - direct fields: {"description": ..., "some_key": ...}; reserved
//     fields update their columns, everything else merges into skill_data
//   - wrapper: {"skill_data": {...}} merges the object into skill_data
//   - clear: {"skill_data": null} resets skill_data to the empty object
//
// description and instructions are top-level fields and are never merged
// into skill_data.
func (s *Store) UpdateSkill(name string, patch map[string]any) (*Skill, error) {
	sk, err := s.GetSkill(name)
	if err != nil {
		return nil, err
	}

	if v, ok := patch["description"].(string); ok {
		sk.Description = v
	}
	if v, ok := patch["instructions"].(string); ok {
		sk.Instructions = v
	}
	if v, ok := patch["owner"].(string); ok {
		sk.Owner = v
	}
	if v, ok := patch["training_progress"].(map[string]any); ok {
		sk.TrainingProgress = DeepMerge(sk.TrainingProgress, v)
	}

	if raw, present := patch["skill_data"]; present {
		switch v := raw.(type) {
		case nil:
			// {skill_data: null} clears data entirely.
			sk.SkillData = map[string]any{}
		case map[string]any:
			sk.SkillData = DeepMerge(sk.SkillData, v)
		default:
			return nil, fmt.Errorf("memory: skill_data must be an object or null")
		}
	}

	// Direct-field shape: unreserved keys merge into skill_data.
	direct := map[string]any{}
	for k, v := range patch {
		if !reservedSkillFields[k] {
			direct[k] = v
		}
	}
	if len(direct) > 0 {
		sk.SkillData = DeepMerge(sk.SkillData, direct)
	}

	if err := s.PutSkill(sk); err != nil {
		return nil, err
	}
	return s.GetSkill(name)
}

// BumpTrainingProgress increments the named counter in a skill's
// training_progress object.
func (s *Store) BumpTrainingProgress(name, counter string) error {
	sk, err := s.GetSkill(name)
	if err != nil {
		return err
	}
	if sk.TrainingProgress == nil {
		sk.TrainingProgress = map[string]any{}
	}
	n, _ := sk.TrainingProgress[counter].(float64)
	sk.TrainingProgress[counter] = n + 1
	return s.PutSkill(sk)
}

// DeleteSkill removes a skill, returning ErrNotFound when absent.
func (s *Store) DeleteSkill(name string) error {
	res, err := s.db.Exec(`DELETE FROM skills WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSkills returns skills visible to user: global skills plus those
// owned by user. An empty user lists everything (export path).
func (s *Store) ListSkills(user string) ([]Skill, error) {
	q := `SELECT name FROM skills`
	var args []any
	if user != "" {
		q += ` WHERE owner = ? OR owner = ?`
		args = append(args, OwnerGlobal, user)
	}
	q += ` ORDER BY name`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Skill, 0, len(names))
	for _, n := range names {
		sk, err := s.GetSkill(n)
		if err != nil {
			return nil, err
		}
		out = append(out, *sk)
	}
	return out, nil
}

// ContextSkills returns the always-injectable portion of every skill
// visible to user: name, description, instructions and owner.
func (s *Store) ContextSkills(user string) ([]Skill, error) {
	skills, err := s.ListSkills(user)
	if err != nil {
		return nil, err
	}
	// Strip on-demand data; the context only carries the injectable text.
	for i := range skills {
		skills[i].SkillData = nil
		skills[i].TrainingProgress = nil
	}
	return skills, nil
}
