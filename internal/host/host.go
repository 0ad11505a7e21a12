// Package host declares what blocklog needs from the environment that
// embeds it: live world state, the main thread and a way to talk to actors.
package host

import "github.com/blocklog/blocklog/pkg/types"

// World exposes live block state. Methods are only called on the main
// thread.
type World interface {
	// BlockAt returns the current material at pos.
	BlockAt(pos types.BlockPos) (types.Material, error)

	// SetBlock replaces the block at pos without triggering physics.
	SetBlock(pos types.BlockPos, m types.Material) error

	// MaxHeight returns the build height of the named world.
	MaxHeight(world string) (int, bool)

	// ResolveMaterial maps a logged material name to a material the host
	// still knows, or reports false.
	ResolveMaterial(name string) (types.Material, bool)
}

// MainThread schedules fn on the host's primary context.
type MainThread interface {
	Post(fn func())
}

// MainThreadFunc adapts a function to MainThread.
type MainThreadFunc func(fn func())

// Post calls f(fn).
func (f MainThreadFunc) Post(fn func()) { f(fn) }

// Inline runs posted functions immediately on the calling goroutine.
var Inline MainThread = MainThreadFunc(func(fn func()) { fn() })

// Reporter delivers results to an actor. Calls happen on the main thread.
type Reporter interface {
	// History reports the logged actions and container deltas at pos.
	History(actorID string, pos types.BlockPos, entries []types.LogEntry, txns []types.ContainerTransaction)

	// Message sends a plain line of text.
	Message(actorID string, text string)
}

// Container is an inventory holder's current contents.
type Container interface {
	Contents() []types.ItemStack
}

// Host bundles the collaborators an embedding environment provides.
type Host struct {
	World    World
	Main     MainThread
	Reporter Reporter
}
