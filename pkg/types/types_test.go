package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionKind_Codes(t *testing.T) {
	for _, a := range []ActionKind{ActionPlaced, ActionBroken, ActionInteraction} {
		got, err := ActionKindFromCode(int(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)

		parsed, err := ParseActionKind(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}

	_, err := ActionKindFromCode(0)
	assert.Error(t, err)
	_, err = ActionKindFromCode(4)
	assert.Error(t, err)
	assert.Equal(t, "ActionKind(9)", ActionKind(9).String())
}

func TestParseActionKind(t *testing.T) {
	a, err := ParseActionKind(" placed ")
	require.NoError(t, err)
	assert.Equal(t, ActionPlaced, a)

	a, err = ParseActionKind("interacted")
	require.NoError(t, err)
	assert.Equal(t, ActionInteraction, a)

	_, err = ParseActionKind("exploded")
	assert.Error(t, err)
}

func TestActionKind_Reversible(t *testing.T) {
	assert.True(t, ActionPlaced.Reversible())
	assert.True(t, ActionBroken.Reversible())
	assert.False(t, ActionInteraction.Reversible())
}

func TestCauseFromCode(t *testing.T) {
	c, err := CauseFromCode(2)
	require.NoError(t, err)
	assert.Equal(t, CauseExplosion, c)
	assert.Equal(t, "EXPLOSION", c.String())

	_, err = CauseFromCode(0)
	assert.Error(t, err)
	_, err = CauseFromCode(5)
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN", CauseUnknown.String())
}

func TestMaterial_IsAir(t *testing.T) {
	assert.True(t, Air.IsAir())
	assert.True(t, Material("").IsAir())
	assert.False(t, Material("STONE").IsAir())
}

func TestBlockPos(t *testing.T) {
	p := BlockPos{World: "world", X: 1, Y: -2, Z: 3}
	assert.Equal(t, "world:1:-2:3", p.String())
	assert.Equal(t, int64(0), p.DistanceSq(p))
	assert.Equal(t, int64(1+4+9), p.DistanceSq(BlockPos{World: "nether"}))
}

func TestLogEntry_PosAndTime(t *testing.T) {
	e := LogEntry{World: "w", X: 4, Y: 5, Z: 6, CreatedAt: 1_700_000_000_123}
	assert.Equal(t, BlockPos{World: "w", X: 4, Y: 5, Z: 6}, e.Pos())
	assert.True(t, e.Time().Equal(time.UnixMilli(1_700_000_000_123)))

	tx := ContainerTransaction{World: "w", X: 1, Y: 2, Z: 3}
	assert.Equal(t, BlockPos{World: "w", X: 1, Y: 2, Z: 3}, tx.Pos())
}
