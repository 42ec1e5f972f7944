// Package memory implements the SQLite-backed key/value store with
// global, per-channel and skill scopes, tokenized search, and deep-merge
// skill updates. The database runs in WAL mode with a 5s busy timeout;
// all operations are short transactions.
package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// ScopeGlobal is the scope name for global memories. Any other scope is
// treated as a channel name.
const ScopeGlobal = "global"

// DefaultCategory is assigned when a record carries no category.
const DefaultCategory = "general"

var (
	// ErrNotFound is returned when a key or skill does not exist.
	ErrNotFound = errors.New("memory: not found")

	// ErrQueryEmpty is returned by Search for a blank query.
	ErrQueryEmpty = errors.New("memory: query is empty")
)

// Record is one stored memory.
type Record struct {
	Scope     string    `json:"scope"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchHit is one search result with its origin scope.
type SearchHit struct {
	Scope    string `json:"scope"`
	Key      string `json:"key"`
	Value    any    `json:"value"`
	Category string `json:"category"`
}

// Store wraps the memory database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the memory database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "memory")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// initSchema creates the global and skill tables. Channel tables are
// created lazily on first write to a channel.
func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT 'general',
			tags       TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS skills (
			name              TEXT PRIMARY KEY,
			description       TEXT NOT NULL DEFAULT '',
			instructions      TEXT NOT NULL DEFAULT '',
			owner             TEXT NOT NULL DEFAULT 'global',
			skill_data        TEXT NOT NULL DEFAULT '{}',
			training_progress TEXT NOT NULL DEFAULT '{}',
			created_at        DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at        DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// channelNameRE strips anything outside alphanumerics and underscore.
var channelNameRE = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SanitizeChannel maps an arbitrary channel name onto a table-safe
// identifier. Sanitization is irreversible.
func SanitizeChannel(name string) string {
	return channelNameRE.ReplaceAllString(strings.ToLower(name), "_")
}

// tableFor resolves a scope to its table, creating channel tables on
// first write when create is set.
func (s *Store) tableFor(scope string, create bool) (string, error) {
	if scope == "" || scope == ScopeGlobal {
		return "memories", nil
	}
	table := "channel_" + SanitizeChannel(scope)
	if create {
		_, err := s.db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %q (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				category   TEXT NOT NULL DEFAULT 'general',
				tags       TEXT NOT NULL DEFAULT '',
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`, table))
		if err != nil {
			return "", fmt.Errorf("create channel table: %w", err)
		}
	} else if !s.tableExists(table) {
		return "", ErrNotFound
	}
	return table, nil
}

// tableExists checks sqlite_master for a table.
func (s *Store) tableExists(name string) bool {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	return err == nil && n > 0
}

// Channels lists channel scopes that have a memory table.
func (s *Store) Channels() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'channel_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, strings.TrimPrefix(name, "channel_"))
	}
	return out, rows.Err()
}

// Set upserts a record. The key is unique within its scope.
func (s *Store) Set(scope, key string, value any, category string, tags []string) error {
	if key == "" {
		return fmt.Errorf("memory: key is required")
	}
	table, err := s.tableFor(scope, true)
	if err != nil {
		return err
	}
	if category == "" {
		category = DefaultCategory
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: encoding value: %w", err)
	}
	_, err = s.db.Exec(fmt.Sprintf(`
		INSERT INTO %q (key, value, category, tags) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			tags = excluded.tags,
			updated_at = CURRENT_TIMESTAMP`, table),
		key, string(raw), category, strings.Join(tags, ","))
	return err
}

// Get returns the record for scope+key, or ErrNotFound.
func (s *Store) Get(scope, key string) (*Record, error) {
	table, err := s.tableFor(scope, false)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT key, value, category, tags, created_at, updated_at FROM %q WHERE key = ?`, table), key)
	rec, err := scanRecord(row, scope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Delete removes a record, returning ErrNotFound when absent.
func (s *Store) Delete(scope, key string) error {
	table, err := s.tableFor(scope, false)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %q WHERE key = ?`, table), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every record in a scope, optionally filtered by category,
// ordered by key.
func (s *Store) List(scope, category string) ([]Record, error) {
	table, err := s.tableFor(scope, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	q := fmt.Sprintf(`SELECT key, value, category, tags, created_at, updated_at FROM %q`, table)
	var args []any
	if category != "" {
		q += ` WHERE category = ?`
		args = append(args, category)
	}
	q += ` ORDER BY key`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// PurgeChannel drops a channel's memory table entirely.
func (s *Store) PurgeChannel(name string) error {
	table := "channel_" + SanitizeChannel(name)
	if !s.tableExists(table) {
		return ErrNotFound
	}
	_, err := s.db.Exec(fmt.Sprintf(`DROP TABLE %q`, table))
	return err
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, scope string) (*Record, error) {
	var (
		rec     Record
		raw     string
		tags    string
		created string
		updated string
	)
	if err := row.Scan(&rec.Key, &raw, &rec.Category, &tags, &created, &updated); err != nil {
		return nil, err
	}
	rec.Scope = scope
	if scope == "" {
		rec.Scope = ScopeGlobal
	}
	if err := json.Unmarshal([]byte(raw), &rec.Value); err != nil {
		// Pre-JSON rows are kept readable as plain strings.
		rec.Value = raw
	}
	if tags != "" {
		rec.Tags = strings.Split(tags, ",")
	}
	rec.CreatedAt = parseSQLiteTime(created)
	rec.UpdatedAt = parseSQLiteTime(updated)
	return &rec, nil
}

func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ---------- Search ----------

// Tokenize lowercases the query, replaces underscores with spaces and
// splits on whitespace.
func Tokenize(query string) []string {
	q := strings.ReplaceAll(strings.ToLower(query), "_", " ")
	return strings.Fields(q)
}

// Search runs the tokenized search across the global scope, every
// channel scope and the skills table. Matching is per-token LIKE over
// key/value/category/tags (name/description/instructions/skill_data for
// skills), token sets joined by OR.
func (s *Store) Search(query string) ([]SearchHit, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, ErrQueryEmpty
	}

	var hits []SearchHit

	scopes := []string{ScopeGlobal}
	channels, err := s.Channels()
	if err != nil {
		return nil, err
	}
	scopes = append(scopes, channels...)

	for _, scope := range scopes {
		table, err := s.tableFor(scope, false)
		if err != nil {
			continue
		}
		where, args := likeClause([]string{"key", "value", "category", "tags"}, tokens)
		rows, err := s.db.Query(fmt.Sprintf(
			`SELECT key, value, category FROM %q WHERE %s ORDER BY key`, table, where), args...)
		if err != nil {
			return nil, err
		}
		if err := collectHits(rows, scope, &hits); err != nil {
			return nil, err
		}
	}

	// Skills participate in cross-scope search under a skill: scope tag.
	where, args := likeClause([]string{"name", "description", "instructions", "skill_data"}, tokens)
	rows, err := s.db.Query(
		`SELECT name, description, 'skill' FROM skills WHERE `+where+` ORDER BY name`, args...)
	if err != nil {
		return nil, err
	}
	if err := collectHits(rows, "skill", &hits); err != nil {
		return nil, err
	}

	return hits, nil
}

// likeClause builds the OR-joined LIKE expression for columns × tokens.
// Column text is normalized the same way as the query: lowercased with
// underscores treated as spaces.
func likeClause(cols, tokens []string) (string, []any) {
	var parts []string
	var args []any
	for _, col := range cols {
		for _, tok := range tokens {
			parts = append(parts, fmt.Sprintf("LOWER(REPLACE(%s, '_', ' ')) LIKE ?", col))
			args = append(args, "%"+tok+"%")
		}
	}
	return strings.Join(parts, " OR "), args
}

func collectHits(rows *sql.Rows, scope string, hits *[]SearchHit) error {
	defer rows.Close()
	for rows.Next() {
		var hit SearchHit
		var raw string
		if err := rows.Scan(&hit.Key, &raw, &hit.Category); err != nil {
			return err
		}
		hit.Scope = scope
		if err := json.Unmarshal([]byte(raw), &hit.Value); err != nil {
			hit.Value = raw
		}
		*hits = append(*hits, hit)
	}
	return rows.Err()
}

// ---------- Context auto-injection ----------

// KV is one key/value pair for context injection.
type KV struct {
	Key   string
	Value any
}

// CategoryMemories groups global memories per category, in the caller's
// category order.
type CategoryMemories struct {
	Category string
	Items    []KV
}

// ContextMemories returns global memories grouped by the given
// categories, ordered by category order then key.
func (s *Store) ContextMemories(categories []string) ([]CategoryMemories, error) {
	var out []CategoryMemories
	for _, cat := range categories {
		recs, err := s.List(ScopeGlobal, cat)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			continue
		}
		cm := CategoryMemories{Category: cat}
		for _, r := range recs {
			cm.Items = append(cm.Items, KV{Key: r.Key, Value: r.Value})
		}
		out = append(out, cm)
	}
	return out, nil
}

// ---------- Export / import ----------

// Export dumps every scope for backup. The channel map key is the
// sanitized channel name.
type Export struct {
	Global   []Record            `json:"global"`
	Channels map[string][]Record `json:"channels"`
	Skills   []Skill             `json:"skills"`
}

// ListAll exports the entire store.
func (s *Store) ListAll() (*Export, error) {
	global, err := s.List(ScopeGlobal, "")
	if err != nil {
		return nil, err
	}
	exp := &Export{Global: global, Channels: map[string][]Record{}}

	channels, err := s.Channels()
	if err != nil {
		return nil, err
	}
	sort.Strings(channels)
	for _, ch := range channels {
		recs, err := s.List(ch, "")
		if err != nil {
			return nil, err
		}
		exp.Channels[ch] = recs
	}

	skills, err := s.ListSkills("")
	if err != nil {
		return nil, err
	}
	exp.Skills = skills
	return exp, nil
}

// SetAll imports an export produced by ListAll. Existing keys are
// upserted; nothing is deleted.
func (s *Store) SetAll(exp *Export) error {
	for _, r := range exp.Global {
		if err := s.Set(ScopeGlobal, r.Key, r.Value, r.Category, r.Tags); err != nil {
			return err
		}
	}
	for ch, recs := range exp.Channels {
		for _, r := range recs {
			if err := s.Set(ch, r.Key, r.Value, r.Category, r.Tags); err != nil {
				return err
			}
		}
	}
	for _, sk := range exp.Skills {
		if err := s.PutSkill(&sk); err != nil {
			return err
		}
	}
	return nil
}
