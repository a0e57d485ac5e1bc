// Package transcript holds the ordered conversation history sent to the model on every round.
package transcript

import (
	"fmt"
	"sync"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Entry is one message of the conversation.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store is an append-only transcript. Each Append is atomic with respect to
// Snapshot, so readers never observe a partially written history.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
}

// New creates a store seeded with a single system entry.
func New(system string) *Store {
	return &Store{entries: []Entry{{Role: RoleSystem, Content: system}}}
}

// Append adds entries to the end of the transcript in order.
func (s *Store) Append(entries ...Entry) error {
	for _, e := range entries {
		if !e.Role.Valid() {
			return fmt.Errorf("transcript: invalid role %q", e.Role)
		}
	}
	s.mu.Lock()
	s.entries = append(s.entries, entries...)
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the transcript.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Last returns the most recent entry.
func (s *Store) Last() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}
