// Package session correlates container opens with their closes and turns
// the difference in contents into per-item deltas.
package session

import (
	"sort"
	"sync"

	"github.com/blocklog/blocklog/pkg/types"
)

// Session is one open container, owned by a single actor.
type Session struct {
	EventID  string
	Pos      types.BlockPos
	Snapshot map[types.Material]int
}

// Tracker holds at most one session per actor. Sessions that are never
// closed stay until Forget.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]Session)}
}

// Open records the contents seen when actorID opened the container at pos.
// Any earlier session of the same actor is replaced.
func (t *Tracker) Open(actorID, eventID string, pos types.BlockPos, snapshot map[types.Material]int) {
	cp := make(map[types.Material]int, len(snapshot))
	for k, v := range snapshot {
		cp[k] = v
	}

	t.mu.Lock()
	t.sessions[actorID] = Session{EventID: eventID, Pos: pos, Snapshot: cp}
	t.mu.Unlock()
}

// Close ends the actor's session and returns one transaction per item type
// whose count changed, sorted by item type. IDs are left empty for the
// pipeline to assign. Without an open session Close returns nil.
func (t *Tracker) Close(actorID, actorName string, contents map[types.Material]int, now int64) []types.ContainerTransaction {
	t.mu.Lock()
	s, ok := t.sessions[actorID]
	if ok {
		delete(t.sessions, actorID)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}

	keys := make(map[types.Material]struct{}, len(s.Snapshot)+len(contents))
	for k := range s.Snapshot {
		keys[k] = struct{}{}
	}
	for k := range contents {
		keys[k] = struct{}{}
	}

	items := make([]types.Material, 0, len(keys))
	for k := range keys {
		items = append(items, k)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })

	var out []types.ContainerTransaction
	for _, item := range items {
		delta := contents[item] - s.Snapshot[item]
		if delta == 0 {
			continue
		}
		out = append(out, types.ContainerTransaction{
			EventID:   s.EventID,
			ActorID:   actorID,
			ActorName: actorName,
			World:     s.Pos.World,
			X:         s.Pos.X,
			Y:         s.Pos.Y,
			Z:         s.Pos.Z,
			ItemType:  item,
			Delta:     delta,
			CreatedAt: now,
		})
	}
	return out
}

// Forget drops the actor's session without producing deltas.
func (t *Tracker) Forget(actorID string) {
	t.mu.Lock()
	delete(t.sessions, actorID)
	t.mu.Unlock()
}

// Active returns the number of open sessions.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CountItems sums stack amounts per item type, skipping empty slots.
func CountItems(stacks []types.ItemStack) map[types.Material]int {
	counts := make(map[types.Material]int)
	for _, st := range stacks {
		if st.Type.IsAir() || st.Amount <= 0 {
			continue
		}
		counts[st.Type] += st.Amount
	}
	return counts
}
