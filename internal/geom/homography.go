// Package geom holds the projective geometry shared by matching and squaring:
// exact four-point homographies, normalised DLT fits and a deterministic RANSAC.
package geom

import (
	"errors"
	"math"

	"github.com/MeKo-Tech/arenacal/internal/utils"
	"gonum.org/v1/gonum/mat"
)

// Homography is a row-major 3x3 projective transform.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography { return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1} }

// ErrDegenerate is returned when the point configuration does not determine a homography.
var ErrDegenerate = errors.New("geom: degenerate point configuration")

// maxFourPointCond bounds the condition number of the normalised four-point
// system; anything above it is treated as collinear input.
const maxFourPointCond = 1e12

// FourPoint computes H mapping p[i] -> q[i] exactly. Returns false for collinear input.
func FourPoint(p, q [4]utils.Point) (Homography, bool) {
	np, tp := normalizePoints(p[:])
	nq, tq := normalizePoints(q[:])

	// With h22 fixed to 1 each correspondence gives two linear equations
	// u*(h20 x + h21 y + 1) = h00 x + h01 y + h02 and likewise for v.
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := range 4 {
		x, y := np[i].X, np[i].Y
		u, v := nq[i].X, nq[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var lu mat.LU
	lu.Factorize(a)
	if c := lu.Cond(); math.IsInf(c, 0) || math.IsNaN(c) || c > maxFourPointCond {
		return Homography{}, false
	}
	var sol mat.VecDense
	if err := lu.SolveVecTo(&sol, false, b); err != nil {
		return Homography{}, false
	}

	var hn Homography
	for i := range 8 {
		hn[i] = sol.AtVec(i)
	}
	hn[8] = 1
	tqInv, ok := tq.Inverse()
	if !ok {
		return Homography{}, false
	}
	h := tqInv.Mul(hn).Mul(tp)
	if math.Abs(h[8]) < 1e-12 {
		return Homography{}, false
	}
	return h, true
}

// Apply maps (x, y) through h. A point on the line at infinity maps to (-1e9, -1e9).
func (h Homography) Apply(x, y float64) (float64, float64) {
	denom := h[6]*x + h[7]*y + h[8]
	if denom == 0 {
		return -1e9, -1e9
	}
	sx := (h[0]*x + h[1]*y + h[2]) / denom
	sy := (h[3]*x + h[4]*y + h[5]) / denom
	return sx, sy
}

// ApplyPoint is Apply for utils.Point.
func (h Homography) ApplyPoint(p utils.Point) utils.Point {
	x, y := h.Apply(p.X, p.Y)
	return utils.Point{X: x, Y: y}
}

// Dense returns h as a gonum matrix.
func (h Homography) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, h[:])
	return mat.NewDense(3, 3, data)
}

// FromDense converts a 3x3 matrix, normalising so that the last entry is 1
// whenever it is not vanishingly small.
func FromDense(m mat.Matrix) Homography {
	var h Homography
	for r := range 3 {
		for c := range 3 {
			h[r*3+c] = m.At(r, c)
		}
	}
	if math.Abs(h[8]) > 1e-12 {
		s := 1 / h[8]
		for i := range h {
			h[i] *= s
		}
	}
	return h
}

// Inverse returns the inverse transform.
func (h Homography) Inverse() (Homography, bool) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return Homography{}, false
	}
	return FromDense(&inv), true
}

// Mul returns h * o (o applied first).
func (h Homography) Mul(o Homography) Homography {
	var out mat.Dense
	out.Mul(h.Dense(), o.Dense())
	return FromDense(&out)
}

// ReprojectionError returns the distance between h(src) and dst.
func (h Homography) ReprojectionError(src, dst utils.Point) float64 {
	return h.ApplyPoint(src).Dist(dst)
}
