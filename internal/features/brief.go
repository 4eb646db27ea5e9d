package features

import (
	"math"
	"math/rand/v2"

	"github.com/MeKo-Tech/arenacal/internal/utils"
)

const descriptorBits = 256

type samplePair struct {
	x1, y1, x2, y2 int
}

type briefPattern []samplePair

// newBriefPattern draws the sampling pairs from an isotropic Gaussian around
// the keypoint. The seed is fixed so descriptors are comparable across runs.
func newBriefPattern(patchSize int) briefPattern {
	half := patchSize / 2
	sigma := float64(patchSize) / 5
	rng := rand.New(rand.NewPCG(0xb41ef, descriptorBits)) //nolint:gosec // fixed sampling pattern
	sample := func() int {
		v := int(math.Round(rng.NormFloat64() * sigma))
		return max(-half, min(half, v))
	}

	p := make(briefPattern, descriptorBits)
	for i := range p {
		p[i] = samplePair{x1: sample(), y1: sample(), x2: sample(), y2: sample()}
	}
	return p
}

func (p briefPattern) describe(g *utils.Gray, x, y int) Descriptor {
	var d Descriptor
	for i, s := range p {
		if g.At(x+s.x1, y+s.y1) < g.At(x+s.x2, y+s.y2) {
			d[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return d
}
