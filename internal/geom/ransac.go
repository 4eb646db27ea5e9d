package geom

import (
	"math/rand/v2"

	"github.com/MeKo-Tech/arenacal/internal/utils"
)

// RANSACConfig controls robust homography estimation.
type RANSACConfig struct {
	Iterations int     // number of random minimal samples
	Threshold  float64 // inlier reprojection threshold in pixels
	Seed       uint64  // fixed seed keeps the estimate deterministic
}

// DefaultRANSACConfig returns the settings used for pairwise matching.
func DefaultRANSACConfig() RANSACConfig {
	return RANSACConfig{Iterations: 500, Threshold: 3.0, Seed: 0x5eed}
}

// FitRANSAC robustly estimates the homography mapping src to dst. It returns
// the transform refit on all inliers together with the inlier mask.
func FitRANSAC(src, dst []utils.Point, cfg RANSACConfig) (Homography, []bool, error) {
	n := len(src)
	if n != len(dst) || n < 4 {
		return Homography{}, nil, ErrDegenerate
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultRANSACConfig().Iterations
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultRANSACConfig().Threshold
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(n))) //nolint:gosec // deterministic sampling, not security
	best := -1
	var bestH Homography

	for range cfg.Iterations {
		idx := sampleDistinct(rng, n)
		var p, q [4]utils.Point
		for k, i := range idx {
			p[k] = src[i]
			q[k] = dst[i]
		}
		h, ok := FourPoint(p, q)
		if !ok {
			continue
		}
		if c := countInliers(h, src, dst, cfg.Threshold); c > best {
			best = c
			bestH = h
		}
	}
	if best < 4 {
		return Homography{}, nil, ErrDegenerate
	}

	mask := inlierMask(bestH, src, dst, cfg.Threshold)
	refined, err := FitDLT(selectMasked(src, mask), selectMasked(dst, mask))
	if err != nil {
		return bestH, mask, nil //nolint:nilerr
	}
	refinedMask := inlierMask(refined, src, dst, cfg.Threshold)
	if countTrue(refinedMask) < countTrue(mask) {
		return bestH, mask, nil
	}
	return refined, refinedMask, nil
}

func sampleDistinct(rng *rand.Rand, n int) [4]int {
	var idx [4]int
	for k := 0; k < 4; {
		c := rng.IntN(n)
		dup := false
		for j := range k {
			if idx[j] == c {
				dup = true
				break
			}
		}
		if !dup {
			idx[k] = c
			k++
		}
	}
	return idx
}

func countInliers(h Homography, src, dst []utils.Point, thr float64) int {
	c := 0
	for i := range src {
		if h.ReprojectionError(src[i], dst[i]) < thr {
			c++
		}
	}
	return c
}

func inlierMask(h Homography, src, dst []utils.Point, thr float64) []bool {
	mask := make([]bool, len(src))
	for i := range src {
		mask[i] = h.ReprojectionError(src[i], dst[i]) < thr
	}
	return mask
}

func selectMasked(pts []utils.Point, mask []bool) []utils.Point {
	out := make([]utils.Point, 0, len(pts))
	for i, p := range pts {
		if mask[i] {
			out = append(out, p)
		}
	}
	return out
}

func countTrue(mask []bool) int {
	c := 0
	for _, m := range mask {
		if m {
			c++
		}
	}
	return c
}
