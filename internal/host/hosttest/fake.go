// Package hosttest provides in-memory host collaborators for tests.
package hosttest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blocklog/blocklog/internal/host"
	"github.com/blocklog/blocklog/pkg/types"
)

// World is an in-memory world. Unset positions are AIR.
type World struct {
	mu        sync.Mutex
	blocks    map[types.BlockPos]types.Material
	heights   map[string]int
	unknown   map[string]bool
	SetCalls  int
	FailOnSet bool
}

var _ host.World = (*World)(nil)

// NewWorld creates a world named name with the given build height.
func NewWorld(name string, maxHeight int) *World {
	return &World{
		blocks:  make(map[types.BlockPos]types.Material),
		heights: map[string]int{name: maxHeight},
		unknown: make(map[string]bool),
	}
}

// Put sets a block without counting as a SetBlock call.
func (w *World) Put(pos types.BlockPos, m types.Material) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m.IsAir() {
		delete(w.blocks, pos)
		return
	}
	w.blocks[pos] = m
}

// Forget makes ResolveMaterial fail for name.
func (w *World) Forget(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unknown[strings.ToUpper(name)] = true
}

// BlockAt implements host.World.
func (w *World) BlockAt(pos types.BlockPos) (types.Material, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.heights[pos.World]; !ok {
		return "", fmt.Errorf("hosttest: unknown world %q", pos.World)
	}
	if m, ok := w.blocks[pos]; ok {
		return m, nil
	}
	return types.Air, nil
}

// SetBlock implements host.World.
func (w *World) SetBlock(pos types.BlockPos, m types.Material) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailOnSet {
		return fmt.Errorf("hosttest: set rejected")
	}
	w.SetCalls++
	if m.IsAir() {
		delete(w.blocks, pos)
	} else {
		w.blocks[pos] = m
	}
	return nil
}

// MaxHeight implements host.World.
func (w *World) MaxHeight(world string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.heights[world]
	return h, ok
}

// ResolveMaterial implements host.World.
func (w *World) ResolveMaterial(name string) (types.Material, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" || w.unknown[n] {
		return "", false
	}
	return types.Material(n), true
}

// HistoryReport is one recorded Reporter.History call.
type HistoryReport struct {
	ActorID string
	Pos     types.BlockPos
	Entries []types.LogEntry
	Txns    []types.ContainerTransaction
}

// Reporter records everything sent to actors.
type Reporter struct {
	mu        sync.Mutex
	histories []HistoryReport
	messages  map[string][]string
}

var _ host.Reporter = (*Reporter)(nil)

// NewReporter creates an empty recorder.
func NewReporter() *Reporter {
	return &Reporter{messages: make(map[string][]string)}
}

// History implements host.Reporter.
func (r *Reporter) History(actorID string, pos types.BlockPos, entries []types.LogEntry, txns []types.ContainerTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories = append(r.histories, HistoryReport{ActorID: actorID, Pos: pos, Entries: entries, Txns: txns})
}

// Message implements host.Reporter.
func (r *Reporter) Message(actorID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[actorID] = append(r.messages[actorID], text)
}

// Histories returns a copy of the recorded history reports.
func (r *Reporter) Histories() []HistoryReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HistoryReport(nil), r.histories...)
}

// Messages returns the lines sent to actorID.
func (r *Reporter) Messages(actorID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages[actorID]...)
}

// MainThread queues posted functions until Drain runs them, modelling a
// host tick.
type MainThread struct {
	mu      sync.Mutex
	pending []func()
}

var _ host.MainThread = (*MainThread)(nil)

// Post implements host.MainThread.
func (m *MainThread) Post(fn func()) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Drain runs every posted function, including ones posted while draining,
// and returns how many ran.
func (m *MainThread) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// Pending returns the number of queued functions.
func (m *MainThread) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
