package inspect

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklog/blocklog/internal/bloom"
	blerrors "github.com/blocklog/blocklog/internal/errors"
	"github.com/blocklog/blocklog/internal/ingest"
	"github.com/blocklog/blocklog/internal/observability"
	"github.com/blocklog/blocklog/internal/store"
	"github.com/blocklog/blocklog/pkg/types"
)

type fixture struct {
	store    *store.Store
	pipeline *ingest.Pipeline
	filter   *bloom.LocationFilter
	engine   *Engine
}

func newFixture(t *testing.T, withFilter bool) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "blocklog.sqlite"), store.Options{})
	require.NoError(t, err)
	p := ingest.New(s, ingest.Options{Capacity: 100})
	t.Cleanup(func() { p.Close() })

	var f *bloom.LocationFilter
	if withFilter {
		f = bloom.NewLocationFilter(1000, 0.001)
	}
	e := NewEngine(p, s, f, Options{
		Limit:   3,
		Metrics: observability.NewMetrics(prometheus.NewRegistry()),
	})
	p.OnCommit(e.Observe)
	if withFilter {
		require.NoError(t, e.WarmFilter(context.Background()))
	}
	return &fixture{store: s, pipeline: p, filter: f, engine: e}
}

var block = types.BlockPos{World: "world", X: 4, Y: 64, Z: 4}

func logAt(t *testing.T, p *ingest.Pipeline, pos types.BlockPos, kind types.ActionKind, at int64) types.LogEntry {
	t.Helper()
	e, err := p.EnqueueAction(types.LogEntry{
		ActorID: "id-alice", ActorName: "alice",
		World: pos.World, X: pos.X, Y: pos.Y, Z: pos.Z,
		Material: "STONE", Action: kind, CreatedAt: at, Cause: types.CausePlayer,
	})
	require.NoError(t, err)
	return e
}

func TestRecentActionsAt_ForcesFlushAndOrdersNewestFirst(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	logAt(t, fx.pipeline, block, types.ActionPlaced, 100)
	logAt(t, fx.pipeline, block, types.ActionBroken, 200)
	logAt(t, fx.pipeline, types.BlockPos{World: "world", X: 5, Y: 64, Z: 4}, types.ActionPlaced, 300)

	got, err := fx.engine.RecentActionsAt(ctx, block, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.ActionBroken, got[0].Action)
	assert.Equal(t, types.ActionPlaced, got[1].Action)

	pending, _ := fx.pipeline.Pending()
	assert.Zero(t, pending)
}

func TestRecentActionsAt_DefaultLimit(t *testing.T) {
	fx := newFixture(t, false)
	for i := 0; i < 5; i++ {
		logAt(t, fx.pipeline, block, types.ActionPlaced, int64(i+1))
	}

	got, err := fx.engine.RecentActionsAt(context.Background(), block, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = fx.engine.RecentActionsAt(context.Background(), block, 10)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestInspect_IncludesContainerHistory(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()

	open := logAt(t, fx.pipeline, block, types.ActionInteraction, 100)
	_, err := fx.pipeline.EnqueueContainerTransaction(types.ContainerTransaction{
		EventID: open.ID, ActorID: "id-alice", ActorName: "alice",
		World: block.World, X: block.X, Y: block.Y, Z: block.Z,
		ItemType: "DIAMOND", Delta: -2, CreatedAt: 150,
	})
	require.NoError(t, err)

	h, err := fx.engine.Inspect(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, block, h.Pos)
	require.Len(t, h.Entries, 1)
	require.Len(t, h.Txns, 1)
	assert.Equal(t, open.ID, h.Txns[0].EventID)

	txns, err := fx.engine.ContainerHistoryAt(ctx, block, 0)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestFilter_SkipsUnknownLocationsButSeesFreshOnes(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()

	got, err := fx.engine.RecentActionsAt(ctx, block, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	// queued but unflushed: the forced flush must feed the filter first
	logAt(t, fx.pipeline, block, types.ActionPlaced, 100)
	got, err = fx.engine.RecentActionsAt(ctx, block, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.True(t, fx.filter.MayContain(block))
}

func TestWarmFilter_LoadsExistingHistory(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()

	// write behind the engine's back, as a previous process would have
	require.NoError(t, fx.store.WriteBatch(ctx, []types.LogEntry{{
		ID: "old", ActorID: "id-alice", ActorName: "alice",
		World: block.World, X: block.X, Y: block.Y, Z: block.Z,
		Material: "STONE", Action: types.ActionPlaced, CreatedAt: 1,
	}}, nil))
	assert.False(t, fx.filter.MayContain(block))

	require.NoError(t, fx.engine.WarmFilter(ctx))
	assert.True(t, fx.filter.MayContain(block))

	got, err := fx.engine.RecentActionsAt(ctx, block, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFilter_FailedWarmFallsBackToStore(t *testing.T) {
	fx := newFixture(t, true)
	require.True(t, fx.engine.FilterWarm())

	require.NoError(t, fx.store.WriteBatch(context.Background(), []types.LogEntry{{
		ID: "old", ActorID: "id-alice", ActorName: "alice",
		World: block.World, X: block.X, Y: block.Y, Z: block.Z,
		Material: "STONE", Action: types.ActionPlaced, CreatedAt: 1,
	}}, nil))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, fx.engine.WarmFilter(cancelled))
	assert.False(t, fx.engine.FilterWarm())

	got, err := fx.engine.RecentActionsAt(context.Background(), block, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, fx.engine.WarmFilter(context.Background()))
	assert.True(t, fx.engine.FilterWarm())
}

func TestFilter_ColdFilterIsNotConsulted(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "blocklog.sqlite"), store.Options{})
	require.NoError(t, err)
	p := ingest.New(s, ingest.Options{Capacity: 10})
	t.Cleanup(func() { p.Close() })

	require.NoError(t, s.WriteBatch(context.Background(), []types.LogEntry{{
		ID: "old", ActorID: "id-alice", ActorName: "alice",
		World: block.World, X: block.X, Y: block.Y, Z: block.Z,
		Material: "STONE", Action: types.ActionPlaced, CreatedAt: 1,
	}}, nil))

	e := NewEngine(p, s, bloom.NewLocationFilter(100, 0.01), Options{})
	got, err := e.RecentActionsAt(context.Background(), block, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRecentActionsAt_ClosedPipeline(t *testing.T) {
	fx := newFixture(t, false)
	require.NoError(t, fx.pipeline.Close())

	_, err := fx.engine.RecentActionsAt(context.Background(), block, 0)
	assert.True(t, errors.Is(err, blerrors.ErrUnavailable))
}
