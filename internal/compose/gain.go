package compose

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Gain model weights: alpha penalises intensity differences in overlaps, beta
// keeps the gains close to one.
const (
	gainAlpha = 0.01
	gainBeta  = 100
)

// GainCompensator equalises exposure across overlapping layers.
type GainCompensator struct{}

// Gains returns one multiplicative gain per layer.
func (GainCompensator) Gains(layers []*Layer) ([]float64, error) {
	n := len(layers)
	counts := mat.NewDense(n, n, nil)
	means := mat.NewDense(n, n, nil)

	for i, l := range layers {
		c := 0
		for _, m := range l.Mask {
			if m {
				c++
			}
		}
		counts.Set(i, i, float64(c))
	}

	for i := range n {
		for j := i + 1; j < n; j++ {
			overlap := layers[i].Rect().Intersect(layers[j].Rect())
			if overlap.Empty() {
				continue
			}
			c, sumI, sumJ := overlapIntensity(layers[i], layers[j], overlap)
			nij := float64(max(1, c))
			counts.Set(i, j, nij)
			counts.Set(j, i, nij)
			means.Set(i, j, sumI/nij)
			means.Set(j, i, sumJ/nij)
		}
	}

	a := mat.NewDense(n, n, nil)
	b := mat.NewDense(n, 1, nil)
	for i := range n {
		for j := range n {
			nij := counts.At(i, j)
			b.Set(i, 0, b.At(i, 0)+gainBeta*nij)
			a.Set(i, i, a.At(i, i)+gainBeta*nij)
			if j == i {
				continue
			}
			iij, iji := means.At(i, j), means.At(j, i)
			a.Set(i, i, a.At(i, i)+2*gainAlpha*iij*iij*nij)
			a.Set(i, j, a.At(i, j)-2*gainAlpha*iij*iji*nij)
		}
	}

	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		return nil, fmt.Errorf("gain system: %w", err)
	}
	gains := make([]float64, n)
	for i := range gains {
		g := x.At(i, 0)
		if math.IsNaN(g) || math.IsInf(g, 0) || g <= 0 {
			g = 1
		}
		gains[i] = g
	}
	return gains, nil
}

// overlapIntensity sums the colour norm of both layers over the pixels of r
// covered by both masks.
func overlapIntensity(a, b *Layer, r image.Rectangle) (int, float64, float64) {
	var count int
	var sumA, sumB float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			ia := (y-a.Corner.Y)*a.Width + (x - a.Corner.X)
			ib := (y-b.Corner.Y)*b.Width + (x - b.Corner.X)
			if !a.Mask[ia] || !b.Mask[ib] {
				continue
			}
			count++
			sumA += colourNorm(a.Pix[3*ia:])
			sumB += colourNorm(b.Pix[3*ib:])
		}
	}
	return count, sumA, sumB
}

func colourNorm(p []float32) float64 {
	r, g, b := float64(p[0]), float64(p[1]), float64(p[2])
	return math.Sqrt(r*r + g*g + b*b)
}

// Apply multiplies every pixel of l by gain, clamped to the 8-bit range.
func (GainCompensator) Apply(l *Layer, gain float64) {
	g := float32(gain)
	for i, v := range l.Pix {
		l.Pix[i] = min(v*g, 255)
	}
}
