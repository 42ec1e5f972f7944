package cron

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("cron: job not found")

// Store persists jobs in the cron database.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the cron database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cron db: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cron schema: %w", err)
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			action      TEXT NOT NULL,
			schedule    TEXT,
			fire_at     DATETIME,
			interval_ms INTEGER NOT NULL DEFAULT 0,
			disabled    INTEGER NOT NULL DEFAULT 0,
			last_fired  DATETIME,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

// Add validates and inserts a job, assigning an id when empty.
func (s *Store) Add(j *Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if j.ID == "" {
		j.ID = uuid.NewString()[:8]
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}

	action, err := json.Marshal(j.Action)
	if err != nil {
		return fmt.Errorf("cron: encoding action: %w", err)
	}
	var schedule any
	if j.Schedule != nil {
		raw, err := json.Marshal(j.Schedule)
		if err != nil {
			return fmt.Errorf("cron: encoding schedule: %w", err)
		}
		schedule = string(raw)
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs (id, type, action, schedule, fire_at, interval_ms, disabled, last_fired, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, string(action), schedule,
		timeOrNil(j.Time), j.IntervalMS, boolToInt(j.Disabled),
		timeOrNil(j.LastFired), j.CreatedAt.Format(sqliteTimeLayout))
	return err
}

// List returns all jobs ordered by creation time.
func (s *Store) List() ([]Job, error) {
	rows, err := s.db.Query(`
		SELECT id, type, action, schedule, fire_at, interval_ms, disabled, last_fired, created_at
		FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// Get returns one job by id.
func (s *Store) Get(id string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT id, type, action, schedule, fire_at, interval_ms, disabled, last_fired, created_at
		FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// Remove deletes a job.
func (s *Store) Remove(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDisabled enables or disables a job.
func (s *Store) SetDisabled(id string, disabled bool) error {
	res, err := s.db.Exec(`UPDATE jobs SET disabled = ? WHERE id = ?`, boolToInt(disabled), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFired records a firing timestamp.
func (s *Store) MarkFired(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE jobs SET last_fired = ? WHERE id = ?`,
		at.UTC().Format(sqliteTimeLayout), id)
	return err
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j        Job
		action   string
		schedule sql.NullString
		fireAt   sql.NullString
		last     sql.NullString
		disabled int
		created  string
	)
	err := row.Scan(&j.ID, &j.Type, &action, &schedule, &fireAt,
		&j.IntervalMS, &disabled, &last, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(action), &j.Action); err != nil {
		return nil, fmt.Errorf("cron: decoding action for %s: %w", j.ID, err)
	}
	if schedule.Valid && schedule.String != "" {
		j.Schedule = &Schedule{}
		if err := json.Unmarshal([]byte(schedule.String), j.Schedule); err != nil {
			return nil, fmt.Errorf("cron: decoding schedule for %s: %w", j.ID, err)
		}
	}
	j.Disabled = disabled != 0
	if t, ok := parseTime(fireAt); ok {
		j.Time = &t
	}
	if t, ok := parseTime(last); ok {
		j.LastFired = &t
	}
	if t, err := time.Parse(sqliteTimeLayout, created); err == nil {
		j.CreatedAt = t.UTC()
	}
	return &j, nil
}

func parseTime(v sql.NullString) (time.Time, bool) {
	if !v.Valid || v.String == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
