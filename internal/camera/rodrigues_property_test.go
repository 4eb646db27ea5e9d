package camera

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRodrigues_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("matrix to vector inverts vector to matrix", prop.ForAll(
		func(x, y, z float64) bool {
			v := r3.Vector{X: x, Y: y, Z: z}
			got := matrixToRodrigues(rodriguesToMatrix(v))
			return got.Sub(v).Norm() < 1e-6
		},
		gen.Float64Range(-1.5, 1.5),
		gen.Float64Range(-1.5, 1.5),
		gen.Float64Range(-1.5, 1.5),
	))

	properties.TestingRun(t)
}
