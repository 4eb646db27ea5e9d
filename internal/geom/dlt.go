package geom

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/arenacal/internal/utils"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints applies Hartley normalisation: centroid at the origin and
// mean distance sqrt(2). It returns the normalised points and the transform used.
func normalizePoints(pts []utils.Point) ([]utils.Point, Homography) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range pts {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= n
	s := 1.0
	if meanDist > 1e-12 {
		s = math.Sqrt2 / meanDist
	}

	out := make([]utils.Point, len(pts))
	for i, p := range pts {
		out[i] = utils.Point{X: (p.X - cx) * s, Y: (p.Y - cy) * s}
	}
	return out, Homography{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}
}

// FitDLT estimates the homography mapping src to dst in the least-squares
// sense using the normalised direct linear transform.
func FitDLT(src, dst []utils.Point) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, fmt.Errorf("geom: point count mismatch %d != %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return Homography{}, fmt.Errorf("geom: need at least 4 correspondences, got %d", len(src))
	}

	ns, ts := normalizePoints(src)
	nd, td := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range ns {
		x, y := ns[i].X, ns[i].Y
		u, v := nd[i].X, nd[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Homography{}, ErrDegenerate
	}
	var v mat.Dense
	svd.VTo(&v)
	sol := mat.Col(nil, 8, &v)

	var hn Homography
	copy(hn[:], sol)

	tdInv, ok := td.Inverse()
	if !ok {
		return Homography{}, ErrDegenerate
	}
	h := tdInv.Mul(hn).Mul(ts)
	if math.Abs(h[8]) < 1e-12 {
		return Homography{}, ErrDegenerate
	}
	return h, nil
}
