package geom

// Mat3 is a row-major 3x3 matrix.
type Mat3 = [9]float64

// Identity3 returns the 3x3 identity.
func Identity3() Mat3 { return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1} }

// Mul3 returns a*b.
func Mul3(a, b Mat3) Mat3 {
	var c Mat3
	for r := range 3 {
		for k := range 3 {
			c[r*3+k] = a[r*3]*b[k] + a[r*3+1]*b[3+k] + a[r*3+2]*b[6+k]
		}
	}
	return c
}

// Transpose3 returns a^T.
func Transpose3(a Mat3) Mat3 {
	return Mat3{a[0], a[3], a[6], a[1], a[4], a[7], a[2], a[5], a[8]}
}
