package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_DistanceSq(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	coord := gen.IntRange(-30_000_000, 30_000_000)
	height := gen.IntRange(-64, 320)

	properties.Property("distance is symmetric and non-negative", prop.ForAll(
		func(x1, y1, z1, x2, y2, z2 int) bool {
			a := BlockPos{X: x1, Y: y1, Z: z1}
			b := BlockPos{X: x2, Y: y2, Z: z2}
			d := a.DistanceSq(b)
			return d >= 0 && d == b.DistanceSq(a)
		},
		coord, height, coord, coord, height, coord,
	))

	properties.Property("unit steps have distance one", prop.ForAll(
		func(x, y, z int) bool {
			p := BlockPos{X: x, Y: y, Z: z}
			return p.DistanceSq(BlockPos{X: x + 1, Y: y, Z: z}) == 1 &&
				p.DistanceSq(BlockPos{X: x, Y: y - 1, Z: z}) == 1
		},
		coord, height, coord,
	))

	properties.TestingRun(t)
}
