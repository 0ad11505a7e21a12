// Package dispatch turns host events and operator commands into pipeline
// writes, inspect queries and rollbacks.
//
// Every Handler method is called on the host's main thread. Storage work
// is handed to the worker pool and results come back through
// host.MainThread.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	blerrors "github.com/blocklog/blocklog/internal/errors"
	"github.com/blocklog/blocklog/internal/host"
	"github.com/blocklog/blocklog/internal/inspect"
	"github.com/blocklog/blocklog/internal/rollback"
	"github.com/blocklog/blocklog/internal/session"
	"github.com/blocklog/blocklog/internal/worker"
	"github.com/blocklog/blocklog/pkg/types"
)

// Messages sent to actors.
const (
	MsgUnavailable     = "Database not available."
	MsgInspectOn       = "BlockLog inspect mode enabled. Hit or place blocks to inspect them."
	MsgInspectOff      = "BlockLog inspect mode disabled."
	MsgInspectFailed   = "Failed to query block history. See console."
	MsgRollbackFailed  = "Rollback failed, check console."
	MsgNothingToRevert = "No actions found to rollback."
	MsgBusy            = "BlockLog is busy, try again shortly."
)

// Pipeline is the ingestion side used by the handler.
type Pipeline interface {
	EnqueueAction(e types.LogEntry) (types.LogEntry, error)
	EnqueueContainerTransaction(t types.ContainerTransaction) (types.ContainerTransaction, error)
	Flush(ctx context.Context) error
	Available() bool
}

// Inspector runs inspect queries.
type Inspector interface {
	Inspect(ctx context.Context, pos types.BlockPos) (inspect.History, error)
}

// Rollbacker plans and applies rollbacks.
type Rollbacker interface {
	Plan(ctx context.Context, req rollback.Request) (*rollback.Plan, error)
	Apply(plan *rollback.Plan, w host.World) rollback.Result
}

// Submitter runs jobs off the main thread.
type Submitter interface {
	Submit(job worker.Job) error
}

// Actor identifies who triggered an event.
type Actor struct {
	ID   string
	Name string
}

// Click is the mouse button of an interaction.
type Click int

const (
	LeftClick Click = iota + 1
	RightClick
)

// Outcome tells the host what to do with the original event.
type Outcome struct {
	// Cancel asks the host to suppress the world mutation.
	Cancel bool
}

// Block is one block affected by an explosion.
type Block struct {
	Pos      types.BlockPos
	Material types.Material
}

// RollbackCommand is a parsed rollback request from an operator.
type RollbackCommand struct {
	ActorName     string
	LookbackHours int
	Radius        int
}

// Limits bounds rollback commands.
type Limits struct {
	MaxRadius        int
	MaxLookbackHours int
	DefaultMaxHeight int
}

// Options configures a Handler.
type Options struct {
	Limits      Limits
	Interactive Interactive
	Logger      *zap.Logger
	Now         func() time.Time
}

// Handler is the dispatcher between the host and the engines.
type Handler struct {
	pipeline  Pipeline
	inspector Inspector
	rollback  Rollbacker
	pool      Submitter
	sessions  *session.Tracker
	mode      *inspect.Mode
	host      host.Host

	limits      Limits
	interactive Interactive
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler wires a handler. sessions and mode may be nil to get fresh
// ones.
func NewHandler(p Pipeline, in Inspector, rb Rollbacker, pool Submitter, h host.Host, sessions *session.Tracker, mode *inspect.Mode, opts Options) *Handler {
	if sessions == nil {
		sessions = session.NewTracker()
	}
	if mode == nil {
		mode = inspect.NewMode()
	}
	if opts.Interactive == nil {
		opts.Interactive = IsInteractive
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Limits.DefaultMaxHeight <= 0 {
		opts.Limits.DefaultMaxHeight = rollback.DefaultMaxHeight
	}
	if h.Main == nil {
		h.Main = host.Inline
	}

	return &Handler{
		pipeline:    p,
		inspector:   in,
		rollback:    rb,
		pool:        pool,
		sessions:    sessions,
		mode:        mode,
		host:        h,
		limits:      opts.Limits,
		interactive: opts.Interactive,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// Mode returns the inspect-mode set.
func (h *Handler) Mode() *inspect.Mode { return h.mode }

// Sessions returns the container session tracker.
func (h *Handler) Sessions() *session.Tracker { return h.sessions }

// OnBlockBreak logs a Broken action, or inspects pos when the actor is
// inspecting.
func (h *Handler) OnBlockBreak(actor Actor, pos types.BlockPos, m types.Material) Outcome {
	if h.mode.IsInspecting(actor.ID) {
		h.inspect(actor, pos)
		return Outcome{Cancel: true}
	}
	h.logAction(actor, pos, m, types.ActionBroken, types.CausePlayer)
	return Outcome{}
}

// OnBlockPlace logs a Placed action, or inspects pos when the actor is
// inspecting.
func (h *Handler) OnBlockPlace(actor Actor, pos types.BlockPos, m types.Material) Outcome {
	if h.mode.IsInspecting(actor.ID) {
		h.inspect(actor, pos)
		return Outcome{Cancel: true}
	}
	h.logAction(actor, pos, m, types.ActionPlaced, types.CausePlayer)
	return Outcome{}
}

// OnInteract handles a click on a block. In inspect mode either button
// inspects. Otherwise a right-click on an interactive block is logged, and
// when container is non-nil a container session is opened.
func (h *Handler) OnInteract(actor Actor, click Click, pos types.BlockPos, m types.Material, container host.Container) Outcome {
	if click != LeftClick && click != RightClick {
		return Outcome{}
	}
	if h.mode.IsInspecting(actor.ID) {
		h.inspect(actor, pos)
		return Outcome{Cancel: true}
	}
	if click != RightClick || !h.interactive(m, container != nil) {
		return Outcome{}
	}

	e, ok := h.logAction(actor, pos, m, types.ActionInteraction, types.CausePlayer)
	if ok && container != nil {
		h.sessions.Open(actor.ID, e.ID, pos, session.CountItems(container.Contents()))
	}
	return Outcome{}
}

// OnInventoryClose closes the actor's container session and queues one
// transaction per changed item type.
func (h *Handler) OnInventoryClose(actor Actor, contents []types.ItemStack) {
	txns := h.sessions.Close(actor.ID, actor.Name, session.CountItems(contents), h.now().UnixMilli())
	for _, t := range txns {
		if _, err := h.pipeline.EnqueueContainerTransaction(t); errors.Is(err, blerrors.ErrUnavailable) {
			return
		}
	}
}

// OnExplosion logs every destroyed block as Broken by the explosion actor.
func (h *Handler) OnExplosion(blocks []Block) {
	if !h.pipeline.Available() {
		return
	}
	explosion := Actor{ID: types.ExplosionActorID, Name: types.ExplosionActorName}
	for _, b := range blocks {
		h.logAction(explosion, b.Pos, b.Material, types.ActionBroken, types.CauseExplosion)
	}
}

// OnQuit drops state kept for a disconnecting actor.
func (h *Handler) OnQuit(actor Actor) {
	h.sessions.Forget(actor.ID)
}

// ToggleInspect flips inspect mode for actor, reports the new state and
// flushes so that the actor's latest actions are visible.
func (h *Handler) ToggleInspect(actor Actor) bool {
	on := h.mode.Toggle(actor.ID)
	if on {
		h.message(actor.ID, MsgInspectOn)
	} else {
		h.message(actor.ID, MsgInspectOff)
	}

	if err := h.pool.Submit(func(ctx context.Context) {
		_ = h.pipeline.Flush(ctx)
	}); err != nil {
		h.logger.Debug("Skipped flush on inspect toggle", zap.Error(err))
	}
	return on
}

// Rollback validates cmd and starts a rollback around origin. Planning
// runs on the worker pool, applying on the main thread. The returned error
// covers validation and scheduling only; the outcome is reported to the
// executor.
func (h *Handler) Rollback(executor Actor, origin types.BlockPos, cmd RollbackCommand) error {
	if err := h.validate(cmd); err != nil {
		h.message(executor.ID, err.Error())
		return err
	}
	if !h.pipeline.Available() || h.host.World == nil {
		h.message(executor.ID, MsgUnavailable)
		return blerrors.ErrUnavailable
	}

	maxHeight := h.limits.DefaultMaxHeight
	if mh, ok := h.host.World.MaxHeight(origin.World); ok {
		maxHeight = mh
	}
	req := rollback.Request{
		ActorName:     cmd.ActorName,
		World:         origin.World,
		LookbackHours: cmd.LookbackHours,
		Origin:        origin,
		Radius:        cmd.Radius,
		MaxHeight:     maxHeight,
	}

	err := h.pool.Submit(func(ctx context.Context) {
		plan, err := h.rollback.Plan(ctx, req)
		if err != nil {
			h.post(executor.ID, MsgRollbackFailed)
			return
		}
		if plan.Empty() {
			h.post(executor.ID, MsgNothingToRevert)
			return
		}
		h.host.Main.Post(func() {
			res := h.rollback.Apply(plan, h.host.World)
			h.message(executor.ID, fmt.Sprintf("Rollback complete. %d blocks changed, %d skipped.", res.Affected, res.Skipped))
		})
	})
	if err != nil {
		h.message(executor.ID, MsgBusy)
		return err
	}

	h.message(executor.ID, fmt.Sprintf("Starting rollback for %s, last %dh, radius %d...", cmd.ActorName, cmd.LookbackHours, cmd.Radius))
	return nil
}

func (h *Handler) validate(cmd RollbackCommand) error {
	if cmd.ActorName == "" {
		return blerrors.NewValidationError("Usage: rollback <playerName> <hours> <radius>")
	}
	if cmd.LookbackHours <= 0 || cmd.Radius <= 0 {
		return blerrors.NewValidationError("Hours and radius must be greater than 0.")
	}
	if h.limits.MaxRadius > 0 && cmd.Radius > h.limits.MaxRadius {
		return blerrors.NewValidationError(fmt.Sprintf("Radius must be at most %d.", h.limits.MaxRadius))
	}
	if h.limits.MaxLookbackHours > 0 && cmd.LookbackHours > h.limits.MaxLookbackHours {
		return blerrors.NewValidationError(fmt.Sprintf("Hours must be at most %d.", h.limits.MaxLookbackHours))
	}
	return nil
}

func (h *Handler) inspect(actor Actor, pos types.BlockPos) {
	if !h.pipeline.Available() {
		h.message(actor.ID, MsgUnavailable)
		return
	}

	err := h.pool.Submit(func(ctx context.Context) {
		hist, err := h.inspector.Inspect(ctx, pos)
		if err != nil {
			if errors.Is(err, blerrors.ErrUnavailable) {
				h.post(actor.ID, MsgUnavailable)
			} else {
				h.post(actor.ID, MsgInspectFailed)
			}
			return
		}
		h.host.Main.Post(func() {
			if h.host.Reporter != nil {
				h.host.Reporter.History(actor.ID, pos, hist.Entries, hist.Txns)
			}
		})
	})
	if err != nil {
		h.message(actor.ID, MsgBusy)
	}
}

// logAction queues an entry and reports whether it was accepted.
func (h *Handler) logAction(actor Actor, pos types.BlockPos, m types.Material, kind types.ActionKind, cause types.Cause) (types.LogEntry, bool) {
	e, err := h.pipeline.EnqueueAction(types.LogEntry{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		World:     pos.World,
		X:         pos.X,
		Y:         pos.Y,
		Z:         pos.Z,
		Material:  m,
		Action:    kind,
		Cause:     cause,
	})
	return e, err == nil
}

func (h *Handler) message(actorID, text string) {
	if h.host.Reporter != nil {
		h.host.Reporter.Message(actorID, text)
	}
}

// post sends text from a worker via the main thread.
func (h *Handler) post(actorID, text string) {
	h.host.Main.Post(func() { h.message(actorID, text) })
}
