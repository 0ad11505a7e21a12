// Package inspect answers "what happened here?" for a block position and
// tracks which actors are in inspect mode.
package inspect

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/blocklog/blocklog/internal/bloom"
	"github.com/blocklog/blocklog/internal/observability"
	"github.com/blocklog/blocklog/pkg/types"
)

// Default result sizes.
const (
	DefaultLimit          = 10
	DefaultContainerLimit = 10
)

// Reader is the read side of the event store.
type Reader interface {
	RecentActionsAt(ctx context.Context, pos types.BlockPos, limit int) ([]types.LogEntry, error)
	ContainerHistoryAt(ctx context.Context, pos types.BlockPos, limit int) ([]types.ContainerTransaction, error)
	Locations(ctx context.Context, fn func(types.BlockPos) error) error
}

// Pipeline gives ordered access to the store.
type Pipeline interface {
	FlushAndQuery(ctx context.Context, fn func(ctx context.Context) error) error
	WithStore(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options configures an Engine.
type Options struct {
	Limit          int
	ContainerLimit int
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// History is everything logged at one position.
type History struct {
	Pos     types.BlockPos
	Entries []types.LogEntry
	Txns    []types.ContainerTransaction
}

// Engine runs inspect queries. Every query forces a flush first.
type Engine struct {
	pipeline Pipeline
	reader   Reader
	filter   *bloom.LocationFilter
	// warm is set once the filter holds every stored position. A cold
	// filter is never trusted to rule a position out.
	warm atomic.Bool

	limit          int
	containerLimit int
	logger         *zap.Logger
	metrics        *observability.Metrics
}

// NewEngine creates an engine. filter may be nil, and must be nil unless
// this process is the only writer to the store: a negative answer is
// final and positions committed by other writers never reach it.
func NewEngine(p Pipeline, r Reader, filter *bloom.LocationFilter, opts Options) *Engine {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.ContainerLimit <= 0 {
		opts.ContainerLimit = DefaultContainerLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		pipeline:       p,
		reader:         r,
		filter:         filter,
		limit:          opts.Limit,
		containerLimit: opts.ContainerLimit,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
}

// WarmFilter loads every logged position into the location filter. Until
// it succeeds every query goes to the store.
func (e *Engine) WarmFilter(ctx context.Context) error {
	if e.filter == nil {
		return nil
	}
	return e.pipeline.WithStore(ctx, func(ctx context.Context) error {
		e.warm.Store(false)
		e.filter.Reset()
		err := e.reader.Locations(ctx, func(p types.BlockPos) error {
			e.filter.Add(p)
			return nil
		})
		if err != nil {
			return err
		}
		e.warm.Store(true)
		return nil
	})
}

// FilterWarm reports whether the location filter is consulted.
func (e *Engine) FilterWarm() bool {
	return e.filter != nil && e.warm.Load()
}

// Observe feeds a committed batch into the location filter. It has the
// shape of an ingest commit hook.
func (e *Engine) Observe(entries []types.LogEntry, txns []types.ContainerTransaction) {
	if e.filter == nil {
		return
	}
	for _, en := range entries {
		e.filter.Add(en.Pos())
	}
	for _, t := range txns {
		e.filter.Add(t.Pos())
	}
}

// known reports whether pos may have history. Only valid after a flush.
func (e *Engine) known(pos types.BlockPos) bool {
	if !e.FilterWarm() || e.filter.MayContain(pos) {
		return true
	}
	e.metrics.IncFilterSkip()
	return false
}

// RecentActionsAt returns up to limit entries at pos, most recent first.
// A non-positive limit uses the configured default.
func (e *Engine) RecentActionsAt(ctx context.Context, pos types.BlockPos, limit int) ([]types.LogEntry, error) {
	if limit <= 0 {
		limit = e.limit
	}
	start := time.Now()
	defer func() { e.metrics.ObserveQuery("history", time.Since(start)) }()

	var out []types.LogEntry
	err := e.pipeline.FlushAndQuery(ctx, func(ctx context.Context) error {
		if !e.known(pos) {
			return nil
		}
		var err error
		out, err = e.reader.RecentActionsAt(ctx, pos, limit)
		return err
	})
	if err != nil {
		e.logger.Error("Failed to query block history", zap.Stringer("pos", pos), zap.Error(err))
		return nil, err
	}
	return out, nil
}

// ContainerHistoryAt returns up to limit container deltas at pos, most
// recent first.
func (e *Engine) ContainerHistoryAt(ctx context.Context, pos types.BlockPos, limit int) ([]types.ContainerTransaction, error) {
	if limit <= 0 {
		limit = e.containerLimit
	}
	start := time.Now()
	defer func() { e.metrics.ObserveQuery("containers", time.Since(start)) }()

	var out []types.ContainerTransaction
	err := e.pipeline.FlushAndQuery(ctx, func(ctx context.Context) error {
		if !e.known(pos) {
			return nil
		}
		var err error
		out, err = e.reader.ContainerHistoryAt(ctx, pos, limit)
		return err
	})
	if err != nil {
		e.logger.Error("Failed to query container history", zap.Stringer("pos", pos), zap.Error(err))
		return nil, err
	}
	return out, nil
}

// Inspect returns both the action history and the container deltas at
// pos from a single flush.
func (e *Engine) Inspect(ctx context.Context, pos types.BlockPos) (History, error) {
	h := History{Pos: pos}
	start := time.Now()
	defer func() { e.metrics.ObserveQuery("inspect", time.Since(start)) }()

	err := e.pipeline.FlushAndQuery(ctx, func(ctx context.Context) error {
		if !e.known(pos) {
			return nil
		}
		var err error
		if h.Entries, err = e.reader.RecentActionsAt(ctx, pos, e.limit); err != nil {
			return err
		}
		h.Txns, err = e.reader.ContainerHistoryAt(ctx, pos, e.containerLimit)
		return err
	})
	if err != nil {
		e.logger.Error("Failed to inspect block", zap.Stringer("pos", pos), zap.Error(err))
		return History{Pos: pos}, err
	}
	return h, nil
}
