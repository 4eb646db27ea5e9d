package camera

import (
	"math"

	"github.com/golang/geo/r3"
)

// rodriguesToMatrix converts an axis-angle vector to a rotation matrix.
func rodriguesToMatrix(v r3.Vector) [9]float64 {
	theta := v.Norm()
	if theta < 1e-12 {
		return [9]float64{
			1, -v.Z, v.Y,
			v.Z, 1, -v.X,
			-v.Y, v.X, 1,
		}
	}
	k := v.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return [9]float64{
		c + t*k.X*k.X, t*k.X*k.Y - s*k.Z, t*k.X*k.Z + s*k.Y,
		t*k.Y*k.X + s*k.Z, c + t*k.Y*k.Y, t*k.Y*k.Z - s*k.X,
		t*k.Z*k.X - s*k.Y, t*k.Z*k.Y + s*k.X, c + t*k.Z*k.Z,
	}
}

// matrixToRodrigues converts a rotation matrix to its axis-angle vector.
func matrixToRodrigues(r [9]float64) r3.Vector {
	axis := r3.Vector{X: r[7] - r[5], Y: r[2] - r[6], Z: r[3] - r[1]}
	s := axis.Norm() / 2
	c := (r[0] + r[4] + r[8] - 1) / 2
	c = math.Max(-1, math.Min(1, c))
	theta := math.Atan2(s, c)

	switch {
	case s < 1e-9 && c > 0:
		return r3.Vector{}
	case s < 1e-5:
		// theta close to pi: the axis comes from the symmetric part.
		k := r3.Vector{
			X: math.Sqrt(math.Max(0, (r[0]+1)/2)),
			Y: math.Sqrt(math.Max(0, (r[4]+1)/2)),
			Z: math.Sqrt(math.Max(0, (r[8]+1)/2)),
		}
		if r[1] < 0 {
			k.Y = -k.Y
		}
		if r[2] < 0 {
			k.Z = -k.Z
		}
		if k.X == 0 && r[5] < 0 {
			k.Z = -k.Z
		}
		return k.Normalize().Mul(theta)
	default:
		return axis.Mul(theta / (2 * s))
	}
}
