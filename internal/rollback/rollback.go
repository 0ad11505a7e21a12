// Package rollback selects an actor's recent Placed and Broken actions
// inside a sphere and reverts them against the live world.
//
// Planning reads the store and may run on any goroutine. Applying touches
// the world and must run on the host's main thread.
package rollback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	blerrors "github.com/blocklog/blocklog/internal/errors"
	"github.com/blocklog/blocklog/internal/host"
	"github.com/blocklog/blocklog/internal/observability"
	"github.com/blocklog/blocklog/internal/store"
	"github.com/blocklog/blocklog/pkg/types"
)

// DefaultMaxHeight is used when a request carries no world height.
const DefaultMaxHeight = 320

// Request describes one rollback.
type Request struct {
	ActorName     string
	World         string
	LookbackHours int
	Origin        types.BlockPos
	Radius        int
	// MaxHeight is the world's build height; zero selects the default.
	MaxHeight int
}

// Validate checks the request's own bounds.
func (r Request) Validate() error {
	if r.ActorName == "" {
		return blerrors.NewValidationError("actor name is required")
	}
	if r.World == "" {
		return blerrors.NewValidationError("world is required")
	}
	if r.LookbackHours <= 0 || r.Radius <= 0 {
		return blerrors.NewValidationError("hours and radius must be greater than 0")
	}
	return nil
}

// Plan is the ordered candidate list of a request, oldest first.
type Plan struct {
	Request    Request
	Query      store.RollbackQuery
	Scanned    int // rows inside the bounding box
	Candidates []types.LogEntry
}

// Empty reports whether nothing qualifies for rollback.
func (p *Plan) Empty() bool {
	return len(p.Candidates) == 0
}

// Result counts the outcome of an applied plan.
type Result struct {
	Affected int
	Skipped  int
}

// Reader is the rollback query of the event store.
type Reader interface {
	ActionsForRollback(ctx context.Context, q store.RollbackQuery) ([]types.LogEntry, error)
}

// Pipeline forces a flush before the query runs.
type Pipeline interface {
	FlushAndQuery(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options configures an Engine.
type Options struct {
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Engine plans and applies rollbacks.
type Engine struct {
	pipeline Pipeline
	reader   Reader
	now      func() time.Time
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewEngine creates an engine reading through p and r.
func NewEngine(p Pipeline, r Reader, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		pipeline: p,
		reader:   r,
		now:      opts.Now,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// BuildQuery derives the store query of req at time now: the time floor
// and the bounding box, with Y clamped to [0, max height].
func BuildQuery(req Request, now time.Time) store.RollbackQuery {
	maxHeight := req.MaxHeight
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	o, r := req.Origin, req.Radius

	return store.RollbackQuery{
		ActorName: req.ActorName,
		World:     req.World,
		Since:     now.Add(-time.Duration(req.LookbackHours) * time.Hour).UnixMilli(),
		MinX:      o.X - r,
		MaxX:      o.X + r,
		MinY:      max(0, o.Y-r),
		MaxY:      min(maxHeight, o.Y+r),
		MinZ:      o.Z - r,
		MaxZ:      o.Z + r,
	}
}

// Plan flushes, queries the bounding box and keeps the candidates inside
// the sphere of the request's radius.
func (e *Engine) Plan(ctx context.Context, req Request) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { e.metrics.ObserveQuery("rollback", time.Since(start)) }()

	plan := &Plan{Request: req, Query: BuildQuery(req, e.now())}

	var rows []types.LogEntry
	err := e.pipeline.FlushAndQuery(ctx, func(ctx context.Context) error {
		var err error
		rows, err = e.reader.ActionsForRollback(ctx, plan.Query)
		return err
	})
	if err != nil {
		e.logger.Error("Rollback query failed",
			zap.String("actor", req.ActorName),
			zap.String("world", req.World),
			zap.Error(err))
		return nil, err
	}

	plan.Scanned = len(rows)
	origin := types.BlockPos{World: req.World, X: req.Origin.X, Y: req.Origin.Y, Z: req.Origin.Z}
	radiusSq := int64(req.Radius) * int64(req.Radius)
	for _, row := range rows {
		if row.Pos().DistanceSq(origin) > radiusSq {
			continue
		}
		plan.Candidates = append(plan.Candidates, row)
	}
	return plan, nil
}

// Decision is the classification of one candidate against live state.
type Decision struct {
	Entry   types.LogEntry
	Revert  bool
	Target  types.Material // block to set when Revert is true
	Current types.Material
	Reason  string
}

// classify decides what to do with entry given the block currently at its
// position. Any mismatch is skipped.
func classify(w host.World, entry types.LogEntry) Decision {
	d := Decision{Entry: entry}

	logged, ok := w.ResolveMaterial(string(entry.Material))
	if !ok {
		d.Reason = fmt.Sprintf("unknown material %s", entry.Material)
		return d
	}

	current, err := w.BlockAt(entry.Pos())
	if err != nil {
		d.Reason = err.Error()
		return d
	}
	d.Current = current

	switch entry.Action {
	case types.ActionPlaced:
		if current == logged {
			d.Revert, d.Target = true, types.Air
		} else {
			d.Reason = fmt.Sprintf("block is now %s", current)
		}
	case types.ActionBroken:
		if current.IsAir() {
			d.Revert, d.Target = true, logged
		} else {
			d.Reason = fmt.Sprintf("block is now %s", current)
		}
	default:
		d.Reason = fmt.Sprintf("%s is not reversible", entry.Action)
	}
	return d
}

// Preview classifies every candidate without changing the world. Later
// candidates are judged against the current world, not against the
// effect of earlier ones.
func (e *Engine) Preview(plan *Plan, w host.World) []Decision {
	out := make([]Decision, 0, len(plan.Candidates))
	for _, c := range plan.Candidates {
		out = append(out, classify(w, c))
	}
	return out
}

// Apply reverts the plan's candidates in order. It must run on the main
// thread. Candidates that no longer match, cannot be resolved or cannot
// be written are skipped.
func (e *Engine) Apply(plan *Plan, w host.World) Result {
	var res Result
	for _, c := range plan.Candidates {
		d := classify(w, c)
		if !d.Revert {
			res.Skipped++
			continue
		}
		if err := w.SetBlock(c.Pos(), d.Target); err != nil {
			e.logger.Warn("Rollback failed to set block",
				zap.Stringer("pos", c.Pos()),
				zap.Error(err))
			res.Skipped++
			continue
		}
		res.Affected++
	}

	e.metrics.ObserveRollback(res.Affected, res.Skipped)
	e.logger.Info("Rollback applied",
		zap.String("actor", plan.Request.ActorName),
		zap.String("world", plan.Request.World),
		zap.Int("hours", plan.Request.LookbackHours),
		zap.Int("radius", plan.Request.Radius),
		zap.Int("affected", res.Affected),
		zap.Int("skipped", res.Skipped))
	return res
}

// Rollback plans and applies req on the calling goroutine.
func (e *Engine) Rollback(ctx context.Context, req Request, w host.World) (Result, error) {
	if h, ok := w.MaxHeight(req.World); ok && req.MaxHeight == 0 {
		req.MaxHeight = h
	}
	plan, err := e.Plan(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return e.Apply(plan, w), nil
}
