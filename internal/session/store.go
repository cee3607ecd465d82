// Package session keeps the most recently generated presentation for the
// lifetime of the process.
package session

import (
	"sync"
	"time"

	"slidegen/internal/slides"
)

// Entry is what the session slot remembers about the last generation.
type Entry struct {
	Presentation *slides.Presentation  `json:"presentation"`
	Reason       slides.FallbackReason `json:"fallback_reason"`
	Warnings     []string              `json:"warnings"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// UsedFallback reports whether the stored deck came from the canned fallback.
func (e *Entry) UsedFallback() bool {
	return e != nil && e.Reason != "" && e.Reason != slides.ReasonNone
}

func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Presentation = e.Presentation.Clone()
	out.Warnings = append([]string{}, e.Warnings...)
	return &out
}

// Store holds at most one Entry. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	entry *Entry
	now   func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Set replaces the current entry, stamps UpdatedAt and returns a copy of
// what was stored.
func (s *Store) Set(e Entry) *Entry {
	stored := e.clone()
	if s.now != nil {
		stored.UpdatedAt = s.now()
	} else {
		stored.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	s.entry = stored
	s.mu.Unlock()
	return stored.clone()
}

// Current returns a copy of the current entry, or nil when the slot is empty.
func (s *Store) Current() *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry.clone()
}

// Clear empties the slot and reports whether there was anything to remove.
func (s *Store) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.entry != nil
	s.entry = nil
	return had
}
