// Package types holds the value types shared by the ingestion pipeline,
// the event store and the query engines.
package types

import (
	"fmt"
	"time"
)

// Sentinel identity used for actions without a player behind them.
const (
	ExplosionActorID   = "00000000-0000-0000-0000-000000000000"
	ExplosionActorName = "[EXPLOSION]"
)

// Material is the host's identifier for a block or item kind, e.g. "STONE".
type Material string

// Air is the empty block.
const Air Material = "AIR"

// IsAir reports whether m denotes the empty block.
func (m Material) IsAir() bool {
	return m == Air || m == ""
}

// BlockPos is an integer block coordinate inside a named world.
type BlockPos struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
}

// String renders the position as world:x:y:z.
func (p BlockPos) String() string {
	return fmt.Sprintf("%s:%d:%d:%d", p.World, p.X, p.Y, p.Z)
}

// DistanceSq returns the squared Euclidean distance between p and o,
// ignoring the world names.
func (p BlockPos) DistanceSq(o BlockPos) int64 {
	dx := int64(p.X - o.X)
	dy := int64(p.Y - o.Y)
	dz := int64(p.Z - o.Z)
	return dx*dx + dy*dy + dz*dz
}

// LogEntry is one immutable world-mutating action.
type LogEntry struct {
	ID        string     `json:"id"`
	ActorID   string     `json:"actor_id"`
	ActorName string     `json:"actor_name"`
	World     string     `json:"world"`
	X         int        `json:"x"`
	Y         int        `json:"y"`
	Z         int        `json:"z"`
	Material  Material   `json:"block_type"`
	Action    ActionKind `json:"action"`
	CreatedAt int64      `json:"created_at"` // milliseconds since epoch
	Cause     Cause      `json:"cause,omitempty"`
}

// Pos returns the block coordinate of the entry.
func (e LogEntry) Pos() BlockPos {
	return BlockPos{World: e.World, X: e.X, Y: e.Y, Z: e.Z}
}

// Time returns CreatedAt as a time.Time.
func (e LogEntry) Time() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// ContainerTransaction is the net change of one item type across a single
// container open/close session.
type ContainerTransaction struct {
	ID        string   `json:"id"`
	EventID   string   `json:"event_id"`
	ActorID   string   `json:"actor_id"`
	ActorName string   `json:"actor_name"`
	World     string   `json:"world"`
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Z         int      `json:"z"`
	ItemType  Material `json:"item_type"`
	Delta     int      `json:"delta"`
	CreatedAt int64    `json:"created_at"`
}

// Pos returns the container's block coordinate.
func (t ContainerTransaction) Pos() BlockPos {
	return BlockPos{World: t.World, X: t.X, Y: t.Y, Z: t.Z}
}

// ItemStack is a stack of items as reported by the host's inventory view.
type ItemStack struct {
	Type   Material
	Amount int
}
