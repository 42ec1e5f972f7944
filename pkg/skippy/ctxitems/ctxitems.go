// Package ctxitems manages the persistent context list: files and
// images the user has pinned so that every prompt carries them. The
// list lives in context.json; file content is read fresh per prompt,
// never cached.
package ctxitems

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Item types.
const (
	TypeFile  = "file"
	TypeImage = "image"
)

// Item is one pinned context entry.
type Item struct {
	Type    string    `json:"type"`
	Path    string    `json:"path"`
	AddedAt time.Time `json:"added_at"`
	AddedBy string    `json:"added_by"`
}

// Manager holds the list and persists it on every mutation.
type Manager struct {
	mu    sync.Mutex
	path  string
	items []Item
}

// Load reads the context list from path. A missing file yields an empty
// list, not an error.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading context list: %w", err)
	}
	if err := json.Unmarshal(data, &m.items); err != nil {
		return nil, fmt.Errorf("parsing context list: %w", err)
	}
	return m, nil
}

// Add pins a file or image. The path must exist at add time.
func (m *Manager) Add(itemType, path, addedBy string) error {
	if itemType != TypeFile && itemType != TypeImage {
		return fmt.Errorf("context item type must be %q or %q", TypeFile, TypeImage)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("context item %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.Path == path {
			return fmt.Errorf("context item %s already added", path)
		}
	}
	m.items = append(m.items, Item{
		Type:    itemType,
		Path:    path,
		AddedAt: time.Now().UTC(),
		AddedBy: addedBy,
	})
	return m.save()
}

// Remove drops the item at the given 1-based position, returning it.
func (m *Manager) Remove(pos int) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos < 1 || pos > len(m.items) {
		return nil, fmt.Errorf("context item %d does not exist (have %d)", pos, len(m.items))
	}
	removed := m.items[pos-1]
	m.items = append(m.items[:pos-1], m.items[pos:]...)
	if err := m.save(); err != nil {
		return nil, err
	}
	return &removed, nil
}

// Clear drops every item.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return m.save()
}

// List returns a copy of the current items.
func (m *Manager) List() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}

// Status describes the list for the /context command: each item plus an
// estimated token footprint of the pinned files (chars / 4).
func (m *Manager) Status() (items []Item, estTokens int) {
	items = m.List()
	for _, it := range items {
		if it.Type != TypeFile {
			continue
		}
		if st, err := os.Stat(it.Path); err == nil {
			estTokens += int(st.Size() / 4)
		}
	}
	return items, estTokens
}

// save writes the list atomically. Caller holds the lock.
func (m *Manager) save() error {
	items := m.items
	if items == nil {
		items = []Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding context list: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing context list: %w", err)
	}
	return os.Rename(tmp, m.path)
}
