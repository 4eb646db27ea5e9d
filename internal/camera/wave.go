package camera

import (
	"math"

	"github.com/MeKo-Tech/arenacal/internal/geom"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

func column(r [9]float64, c int) r3.Vector {
	return r3.Vector{X: r[c], Y: r[3+c], Z: r[6+c]}
}

// WaveCorrect levels the panorama horizontally. The new up axis is the direction
// most orthogonal to every camera's X axis; the result is returned as a new slice.
func WaveCorrect(cams []Params) []Params {
	out := Clone(cams)
	if len(cams) <= 1 {
		return out
	}

	moment := mat.NewSymDense(3, nil)
	var imgK r3.Vector
	for _, c := range cams {
		x := column(c.R, 0)
		v := []float64{x.X, x.Y, x.Z}
		moment.SymRankOne(moment, 1, mat.NewVecDense(3, v))
		imgK = imgK.Add(column(c.R, 2))
	}

	var eig mat.EigenSym
	if !eig.Factorize(moment, true) {
		return out
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues are ascending, so column 0 belongs to the smallest one.
	rg1 := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}

	rg0 := rg1.Cross(imgK)
	if rg0.Norm() <= math.SmallestNonzeroFloat64 {
		return out
	}
	rg0 = rg0.Normalize()
	rg2 := rg0.Cross(rg1)

	var conf float64
	for _, c := range cams {
		conf += rg0.Dot(column(c.R, 0))
	}
	if conf < 0 {
		rg0 = rg0.Mul(-1)
		rg1 = rg1.Mul(-1)
	}

	level := [9]float64{
		rg0.X, rg0.Y, rg0.Z,
		rg1.X, rg1.Y, rg1.Z,
		rg2.X, rg2.Y, rg2.Z,
	}
	for i := range out {
		out[i].R = geom.Mul3(level, out[i].R)
	}
	return out
}
