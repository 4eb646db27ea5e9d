package camera

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/geom"
	"github.com/MeKo-Tech/arenacal/internal/matcher"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const paramsPerCamera = 7

// Parameter offsets inside the per-camera block.
const (
	pFocal = iota
	pPPX
	pPPY
	pAspect
	pRot
)

// RefineConfig controls bundle adjustment.
type RefineConfig struct {
	// ConfThreshold drops pairs whose confidence is not above it.
	ConfThreshold float64
	// Mask selects the refined intrinsics over the K entries
	// (0,0) (0,1) (0,2) (1,1) (1,2); 'x' refines, '_' fixes.
	Mask          string
	MaxIterations int
	Epsilon       float64
}

// DefaultRefineConfig returns the bundle adjustment settings of the calibration tool.
func DefaultRefineConfig() RefineConfig {
	return RefineConfig{
		ConfThreshold: 0.6,
		Mask:          "xxxxx",
		MaxIterations: 100,
		Epsilon:       1e-9,
	}
}

// RefineStats describes a bundle adjustment run.
type RefineStats struct {
	Iterations int     `json:"iterations"`
	InitialRMS float64 `json:"initial_rms"`
	RMS        float64 `json:"rms"`
	Residuals  int     `json:"residuals"`
}

// ParseMask validates a refine mask and returns the refined parameter offsets.
// Rotations are always refined; skew has no parameter.
func ParseMask(mask string) ([]int, error) {
	if len(mask) != 5 {
		return nil, fmt.Errorf("camera: refine mask %q must have 5 characters", mask)
	}
	for _, c := range mask {
		if c != 'x' && c != '_' {
			return nil, fmt.Errorf("camera: refine mask %q may only contain 'x' and '_'", mask)
		}
	}
	var free []int
	if mask[0] == 'x' {
		free = append(free, pFocal)
	}
	if mask[2] == 'x' {
		free = append(free, pPPX)
	}
	if mask[4] == 'x' {
		free = append(free, pPPY)
	}
	if mask[3] == 'x' {
		free = append(free, pAspect)
	}
	return append(free, pRot, pRot+1, pRot+2), nil
}

type observation struct {
	i, j   int
	pi, pj []r3.Vector // homogeneous pixel coordinates
}

// Refine jointly adjusts all cameras with Levenberg-Marquardt to minimise the
// reprojection error of the inlier matches. The input slice is not modified.
func Refine(ctx context.Context, sets []features.FeatureSet, matches []matcher.PairwiseMatch,
	cams []Params, cfg RefineConfig,
) ([]Params, RefineStats, error) {
	n := len(cams)
	if len(sets) != n || len(matches) != n*n {
		return nil, RefineStats{}, fmt.Errorf("camera: %d cameras, %d feature sets, %d matches", n, len(sets), len(matches))
	}
	freeOffsets, err := ParseMask(cfg.Mask)
	if err != nil {
		return nil, RefineStats{}, err
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultRefineConfig().MaxIterations
	}

	obs, total := collectObservations(sets, matches, n, cfg.ConfThreshold)
	if total == 0 {
		return nil, RefineStats{}, ErrNotEnoughInliers
	}

	x := packParams(cams)
	var free []int
	for c := range n {
		for _, off := range freeOffsets {
			free = append(free, c*paramsPerCamera+off)
		}
	}

	p := &problem{obs: obs, free: free, m: 2 * total}
	r := p.residuals(x)
	cost := mat.Dot(r, r)
	stats := RefineStats{InitialRMS: math.Sqrt(cost / float64(total)), Residuals: p.m}

	lambda := 1e-3
	for stats.Iterations < cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		stats.Iterations++

		jac := p.jacobian(x, r)
		var a mat.SymDense
		a.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), r)
		g.ScaleVec(-1, &g)

		accepted := false
		for !accepted && lambda < 1e12 {
			delta, ok := solveDamped(&a, &g, lambda)
			if !ok {
				lambda *= 10
				continue
			}
			xn := append([]float64(nil), x...)
			for k, idx := range free {
				xn[idx] += delta.AtVec(k)
			}
			rn := p.residuals(xn)
			costN := mat.Dot(rn, rn)
			if costN < cost {
				change := (cost - costN) / math.Max(cost, 1e-300)
				x, r, cost = xn, rn, costN
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
				if change < cfg.Epsilon {
					lambda = math.Inf(1)
				}
			} else {
				lambda *= 10
			}
		}
		if !accepted || math.IsInf(lambda, 1) || cost < 1e-20 {
			break
		}
	}

	stats.RMS = math.Sqrt(cost / float64(total))
	out := unpackParams(x, n)

	tree, err := maxSpanningTree(n, matches)
	if err != nil {
		return nil, stats, err
	}
	centreInv := geom.Transpose3(out[tree.centre].R)
	for i := range out {
		out[i].R = geom.Mul3(centreInv, out[i].R)
	}

	slog.Debug("Bundle adjustment finished", "iterations", stats.Iterations,
		"initial_rms", stats.InitialRMS, "rms", stats.RMS)
	return out, stats, nil
}

func collectObservations(sets []features.FeatureSet, matches []matcher.PairwiseMatch, n int, conf float64) ([]observation, int) {
	var obs []observation
	total := 0
	for i := range n {
		for j := i + 1; j < n; j++ {
			m := matches[i*n+j]
			if m.Confidence <= conf {
				continue
			}
			o := observation{i: i, j: j}
			for _, c := range m.Inliers() {
				a := sets[i].Keypoints[c.Query]
				b := sets[j].Keypoints[c.Train]
				o.pi = append(o.pi, r3.Vector{X: a.X, Y: a.Y, Z: 1})
				o.pj = append(o.pj, r3.Vector{X: b.X, Y: b.Y, Z: 1})
			}
			total += len(o.pi)
			obs = append(obs, o)
		}
	}
	return obs, total
}

func packParams(cams []Params) []float64 {
	x := make([]float64, len(cams)*paramsPerCamera)
	for c, cam := range cams {
		b := x[c*paramsPerCamera:]
		b[pFocal] = cam.Focal
		b[pPPX] = cam.PPX
		b[pPPY] = cam.PPY
		b[pAspect] = cam.Aspect
		rv := matrixToRodrigues(cam.R)
		b[pRot], b[pRot+1], b[pRot+2] = rv.X, rv.Y, rv.Z
	}
	return x
}

func unpackParams(x []float64, n int) []Params {
	out := make([]Params, n)
	for c := range out {
		b := x[c*paramsPerCamera:]
		out[c] = Params{
			Focal:  b[pFocal],
			PPX:    b[pPPX],
			PPY:    b[pPPY],
			Aspect: b[pAspect],
			R:      rodriguesToMatrix(r3.Vector{X: b[pRot], Y: b[pRot+1], Z: b[pRot+2]}),
		}
	}
	return out
}

type problem struct {
	obs  []observation
	free []int
	m    int
}

// residuals evaluates p_i - proj(K_i R_i^T R_j K_j^-1 p_j) for all observations.
func (p *problem) residuals(x []float64) *mat.VecDense {
	cams := unpackParams(x, len(x)/paramsPerCamera)
	r := mat.NewVecDense(p.m, nil)
	row := 0
	for _, o := range p.obs {
		ci, cj := cams[o.i], cams[o.j]
		h := geom.Mul3(geom.Mul3(ci.K(), geom.Transpose3(ci.R)), geom.Mul3(cj.R, cj.KInv()))
		for k, pj := range o.pj {
			q := apply3(h, pj)
			r.SetVec(row, o.pi[k].X-q.X/q.Z)
			r.SetVec(row+1, o.pi[k].Y-q.Y/q.Z)
			row += 2
		}
	}
	return r
}

// jacobian approximates d residuals / d free parameters by forward differences.
func (p *problem) jacobian(x []float64, r0 *mat.VecDense) *mat.Dense {
	jac := mat.NewDense(p.m, len(p.free), nil)
	xs := append([]float64(nil), x...)
	for col, idx := range p.free {
		step := 1e-6 * math.Max(1, math.Abs(x[idx]))
		xs[idx] = x[idx] + step
		r := p.residuals(xs)
		xs[idx] = x[idx]
		for row := range p.m {
			jac.Set(row, col, (r.AtVec(row)-r0.AtVec(row))/step)
		}
	}
	return jac
}

// solveDamped solves (A + lambda*diag(A)) delta = g.
func solveDamped(a *mat.SymDense, g *mat.VecDense, lambda float64) (*mat.VecDense, bool) {
	n := a.SymmetricDim()
	aug := mat.NewSymDense(n, nil)
	aug.CopySym(a)
	for k := range n {
		d := math.Max(a.At(k, k), 1e-12)
		aug.SetSym(k, k, a.At(k, k)+lambda*d)
	}

	var delta mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(aug) {
		if err := chol.SolveVecTo(&delta, g); err == nil {
			return &delta, true
		}
	}
	if err := delta.SolveVec(aug, g); err != nil {
		return nil, false
	}
	return &delta, true
}

func apply3(h [9]float64, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: h[0]*v.X + h[1]*v.Y + h[2]*v.Z,
		Y: h[3]*v.X + h[4]*v.Y + h[5]*v.Z,
		Z: h[6]*v.X + h[7]*v.Y + h[8]*v.Z,
	}
}
