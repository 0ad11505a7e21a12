package blocklog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklog/blocklog/internal/host/hosttest"
	"github.com/blocklog/blocklog/pkg/types"
)

func TestService_LogsAndInspects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	world := hosttest.NewWorld("world", 320)
	main := &hosttest.MainThread{}
	reporter := hosttest.NewReporter()

	svc, err := New(context.Background(), cfg, Host{World: world, Main: main, Reporter: reporter}, nil)
	require.NoError(t, err)
	defer svc.Close()
	assert.True(t, svc.Available())

	steve := Actor{ID: "u1", Name: "Steve"}
	pos := types.BlockPos{World: "world", X: 3, Y: 65, Z: 3}
	svc.Handler().OnBlockPlace(steve, pos, "STONE")
	require.NoError(t, svc.Flush(context.Background()))

	assert.True(t, svc.Handler().ToggleInspect(steve))
	out := svc.Handler().OnBlockBreak(steve, pos, "STONE")
	assert.True(t, out.Cancel)

	assert.Eventually(t, func() bool {
		main.Drain()
		return len(reporter.Histories()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h := reporter.Histories()[0]
	require.Len(t, h.Entries, 1)
	assert.Equal(t, "Steve", h.Entries[0].ActorName)
}

func TestLoadConfig_EnvOverlay(t *testing.T) {
	t.Setenv("BLOCKLOG_DATA_DIR", "/tmp/blocklog-env")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/blocklog-env", cfg.DataDir)
}
