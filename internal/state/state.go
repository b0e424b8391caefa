// Package state holds the published outputs of the feed pipeline: the current
// event set, the renderer selection and the live rate-limit status.
package state

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/ratelimit"
)

// ErrNotFound is returned when selecting an identifier absent from the current set.
var ErrNotFound = errors.New("event not found")

// Snapshot is a read-only copy of the published event set.
type Snapshot struct {
	Events    []domain.Quake
	Loaded    bool
	UpdatedAt time.Time
}

// State is the application state shared by the scheduler and the renderer API.
// It is created once at startup and passed explicitly; readers always receive
// copies.
type State struct {
	mu         sync.RWMutex
	events     []domain.Quake
	loaded     bool
	updatedAt  time.Time
	selectedID string
	status     ratelimit.Status
}

// New creates an empty, not-yet-loaded State.
func New() *State {
	return &State{
		events: []domain.Quake{},
		status: ratelimit.Status{Remaining: ratelimit.Capacity, Limit: ratelimit.Capacity},
	}
}

// ReplaceEvents publishes events as the new authoritative set.
func (s *State) ReplaceEvents(events []domain.Quake, at time.Time) {
	if events == nil {
		events = []domain.Quake{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
	s.loaded = true
	s.updatedAt = at
}

// MarkLoaded flags the state as loaded without touching the event set. Used
// when the first attempt could not produce data.
func (s *State) MarkLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
}

// Loaded reports whether any attempt has resolved yet.
func (s *State) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Snapshot returns a copy of the current event set.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Events:    slices.Clone(s.events),
		Loaded:    s.loaded,
		UpdatedAt: s.updatedAt,
	}
}

// Events returns a copy of the current event set.
func (s *State) Events() []domain.Quake {
	return s.Snapshot().Events
}

// Select marks the event with id as selected.
func (s *State) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if indexOf(s.events, id) < 0 {
		return ErrNotFound
	}
	s.selectedID = id
	return nil
}

// ClearSelection removes any selection.
func (s *State) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = ""
}

// Selected returns the selected event if it is still part of the current set.
func (s *State) Selected() (domain.Quake, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedID == "" {
		return domain.Quake{}, false
	}
	i := indexOf(s.events, s.selectedID)
	if i < 0 {
		return domain.Quake{}, false
	}
	return s.events[i], true
}

// SetStatus publishes the latest rate-limit status.
func (s *State) SetStatus(st ratelimit.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Status returns the last published rate-limit status.
func (s *State) Status() ratelimit.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func indexOf(events []domain.Quake, id string) int {
	return slices.IndexFunc(events, func(q domain.Quake) bool { return q.ID == id })
}
