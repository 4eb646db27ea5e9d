package geom

import (
	"testing"

	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFourPoint_Identity tests homography computation for points mapping to themselves.
func TestFourPoint_Identity(t *testing.T) {
	p := [4]utils.Point{
		{X: 0, Y: 0},
		{X: 100, Y: 0},
		{X: 100, Y: 100},
		{X: 0, Y: 100},
	}

	h, ok := FourPoint(p, p)
	require.True(t, ok)
	for i, want := range Identity() {
		assert.InDelta(t, want, h[i], 1e-9)
	}
}

func TestFourPoint_Collinear(t *testing.T) {
	p := [4]utils.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	q := [4]utils.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	_, ok := FourPoint(p, q)
	assert.False(t, ok)
}

// TestApply tests homography application.
func TestApply(t *testing.T) {
	h := Identity()
	x, y := h.Apply(10, 20)
	assert.InDelta(t, 10, x, 1e-9)
	assert.InDelta(t, 20, y, 1e-9)

	// zero denominator
	h[8] = 0
	x, y = h.Apply(0, 0)
	assert.Less(t, x, -1e8)
	assert.Less(t, y, -1e8)
}

func TestInverseAndMul(t *testing.T) {
	h := Homography{1.2, 0.1, 5, -0.05, 0.9, -3, 1e-4, 2e-4, 1}
	inv, ok := h.Inverse()
	require.True(t, ok)

	id := h.Mul(inv)
	for i, want := range Identity() {
		assert.InDelta(t, want, id[i], 1e-9)
	}

	p := utils.Point{X: 40, Y: -12}
	back := inv.ApplyPoint(h.ApplyPoint(p))
	assert.InDelta(t, p.X, back.X, 1e-6)
	assert.InDelta(t, p.Y, back.Y, 1e-6)

	_, ok = Homography{}.Inverse()
	assert.False(t, ok)
}

func gridPoints(n int, step float64) []utils.Point {
	pts := make([]utils.Point, 0, n*n)
	for y := range n {
		for x := range n {
			pts = append(pts, utils.Point{X: float64(x) * step, Y: float64(y)*step + float64(x%3)})
		}
	}
	return pts
}

func TestFitDLT_RecoversKnownTransform(t *testing.T) {
	h := Homography{0.95, 0.08, 12, -0.04, 1.05, -7, 2e-4, -1e-4, 1}
	src := gridPoints(6, 20)
	dst := make([]utils.Point, len(src))
	for i, p := range src {
		dst[i] = h.ApplyPoint(p)
	}

	got, err := FitDLT(src, dst)
	require.NoError(t, err)
	for i := range h {
		assert.InDelta(t, h[i], got[i], 1e-6, "entry %d", i)
	}

	_, err = FitDLT(src[:3], dst[:3])
	require.Error(t, err)
	_, err = FitDLT(src, dst[:5])
	require.Error(t, err)
}

func TestFitRANSAC_RejectsOutliers(t *testing.T) {
	h := Homography{1, 0.02, 30, -0.01, 1, 15, 1e-4, 0, 1}
	src := gridPoints(8, 15)
	dst := make([]utils.Point, len(src))
	for i, p := range src {
		dst[i] = h.ApplyPoint(p)
	}
	// corrupt every fifth correspondence
	for i := 0; i < len(dst); i += 5 {
		dst[i] = utils.Point{X: dst[i].X + 80, Y: dst[i].Y - 60}
	}

	got, mask, err := FitRANSAC(src, dst, DefaultRANSACConfig())
	require.NoError(t, err)
	require.Len(t, mask, len(src))
	for i := range mask {
		assert.Equal(t, i%5 != 0, mask[i], "mask %d", i)
	}
	for i := range h {
		assert.InDelta(t, h[i], got[i], 1e-6)
	}

	again, againMask, err := FitRANSAC(src, dst, DefaultRANSACConfig())
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, mask, againMask)
}

func TestFitRANSAC_TooFewPoints(t *testing.T) {
	_, _, err := FitRANSAC(gridPoints(1, 1), gridPoints(1, 1), DefaultRANSACConfig())
	assert.ErrorIs(t, err, ErrDegenerate)
}
