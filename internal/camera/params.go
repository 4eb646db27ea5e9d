// Package camera estimates and refines the rotation and intrinsics of every
// calibration camera under a common-centre (rotation only) model.
package camera

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotConnected is returned when the match graph does not span all cameras.
	ErrNotConnected = errors.New("camera: match graph does not connect all cameras")
	// ErrNotEnoughInliers is returned when no pair is confident enough to refine on.
	ErrNotEnoughInliers = errors.New("camera: not enough confident matches for bundle adjustment")
)

// Params is the model of one camera. R rotates camera rays into the panorama
// frame and is stored row-major.
type Params struct {
	Focal  float64    `json:"focal" yaml:"focal"`
	Aspect float64    `json:"aspect" yaml:"aspect"`
	PPX    float64    `json:"ppx" yaml:"ppx"`
	PPY    float64    `json:"ppy" yaml:"ppy"`
	R      [9]float64 `json:"r" yaml:"r"`
}

// K returns the intrinsic matrix, row-major.
func (p Params) K() [9]float64 {
	return [9]float64{
		p.Focal, 0, p.PPX,
		0, p.Focal * p.Aspect, p.PPY,
		0, 0, 1,
	}
}

// KInv returns the inverse of K.
func (p Params) KInv() [9]float64 {
	fy := p.Focal * p.Aspect
	return [9]float64{
		1 / p.Focal, 0, -p.PPX / p.Focal,
		0, 1 / fy, -p.PPY / fy,
		0, 0, 1,
	}
}

// Clone returns a deep copy of cams.
func Clone(cams []Params) []Params {
	out := make([]Params, len(cams))
	copy(out, cams)
	return out
}

// Focals returns the focal length of every camera.
func Focals(cams []Params) []float64 {
	out := make([]float64, len(cams))
	for i, c := range cams {
		out[i] = c.Focal
	}
	return out
}

func dense3(a [9]float64) *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), a[:]...))
}

func array3(m mat.Matrix) [9]float64 {
	var a [9]float64
	for r := range 3 {
		for c := range 3 {
			a[r*3+c] = m.At(r, c)
		}
	}
	return a
}

// nearestRotation projects m onto SO(3) using its singular value decomposition.
func nearestRotation(m [9]float64) ([9]float64, bool) {
	var svd mat.SVD
	if !svd.Factorize(dense3(m), mat.SVDFull) {
		return [9]float64{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := range 3 {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	return array3(&r), true
}
