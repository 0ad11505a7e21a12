package inspect

import "sync"

// Mode is the set of actors currently in inspect mode.
type Mode struct {
	mu     sync.RWMutex
	actors map[string]struct{}
}

// NewMode creates an empty set.
func NewMode() *Mode {
	return &Mode{actors: make(map[string]struct{})}
}

// Toggle flips actorID's membership and returns the new state.
func (m *Mode) Toggle(actorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.actors[actorID]; ok {
		delete(m.actors, actorID)
		return false
	}
	m.actors[actorID] = struct{}{}
	return true
}

// IsInspecting reports whether actorID is in inspect mode.
func (m *Mode) IsInspecting(actorID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.actors[actorID]
	return ok
}

// Count returns how many actors are inspecting.
func (m *Mode) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actors)
}
