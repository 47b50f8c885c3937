// Package store persists the all-time ranking outside the live registry.
// The world server only queries it on a low-frequency poll; it never feeds
// back into authoritative online state.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Entry is one all-time ranking row, keyed by display name.
type Entry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Storer is the query interface the hub depends on.
type Storer interface {
	Add(name string, delta int) error
	Top(n int) ([]Entry, error)
}

// FileStore keeps cumulative scores in a single JSON document, rewritten
// atomically on every update.
type FileStore struct {
	path   string
	mu     sync.Mutex
	scores map[string]int
}

// NewFileStore loads existing scores from path, or starts empty when the
// file does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, scores: make(map[string]int)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.scores); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Add accumulates delta onto the named player's all-time score.
func (s *FileStore) Add(name string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scores[name] += delta

	data, err := json.MarshalIndent(s.scores, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling scores: %w", err)
	}
	return atomicWrite(s.path, data, 0644)
}

// Top returns the n highest all-time entries, score descending, names
// ascending on ties so repeated polls stay stable.
func (s *FileStore) Top(n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.scores))
	for name, score := range s.scores {
		entries = append(entries, Entry{Name: name, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// atomicWrite writes data to a temp file then renames it to the target
// path, so an interrupted process never leaves a partial document.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
