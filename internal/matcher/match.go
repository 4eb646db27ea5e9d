package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/geom"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Pair confidence above this value means the two images are near duplicates.
const maxConfidence = 3.0

// Match compares every pair of feature sets. The result has len(sets)^2 entries in
// row-major order: entry i*n+j holds the matches from image i to image j. Diagonal
// entries are empty.
func Match(ctx context.Context, sets []features.FeatureSet, cfg Config) ([]PairwiseMatch, error) {
	n := len(sets)
	if n < 2 {
		return nil, ErrTooFewImages
	}
	if cfg.MinMatches <= 0 {
		cfg.MinMatches = DefaultConfig().MinMatches
	}

	out := make([]PairwiseMatch, n*n)
	for i := range n {
		out[i*n+i] = PairwiseMatch{Src: i, Dst: i}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		for j := i + 1; j < n; j++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				pm, err := matchPair(sets[i], sets[j], cfg)
				if err != nil {
					return fmt.Errorf("pair %d-%d: %w", i, j, err)
				}
				pm.Src, pm.Dst = i, j
				out[i*n+j] = pm
				out[j*n+i] = pm.reversed()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range n {
		for j := i + 1; j < n; j++ {
			pm := out[i*n+j]
			slog.Debug("Pair matched", "src", i, "dst", j,
				"matches", len(pm.Matches), "inliers", pm.NumInliers, "confidence", pm.Confidence)
		}
	}
	return out, nil
}

func matchPair(a, b features.FeatureSet, cfg Config) (PairwiseMatch, error) {
	pm := PairwiseMatch{Matches: mergeMatches(a.Descriptors, b.Descriptors, cfg.Threshold)}
	if len(pm.Matches) < cfg.MinMatches {
		return pm, nil
	}

	src := make([]utils.Point, len(pm.Matches))
	dst := make([]utils.Point, len(pm.Matches))
	for k, m := range pm.Matches {
		src[k] = centred(a.Keypoints[m.Query], a)
		dst[k] = centred(b.Keypoints[m.Train], b)
	}

	h, mask, err := geom.FitRANSAC(src, dst, cfg.RANSAC)
	if errors.Is(err, geom.ErrDegenerate) {
		return pm, nil
	}
	if err != nil {
		return pm, err
	}

	pm.InliersMask = mask
	for _, in := range mask {
		if in {
			pm.NumInliers++
		}
	}
	if pm.NumInliers < cfg.MinMatches {
		return pm, nil
	}
	pm.H = h
	pm.HasH = true
	pm.Confidence = confidence(pm.NumInliers, len(pm.Matches))
	return pm, nil
}

// confidence follows the inlier ratio model of Brown and Lowe.
func confidence(inliers, matches int) float64 {
	c := float64(inliers) / (8 + 0.3*float64(matches))
	if c > maxConfidence {
		return 0
	}
	return c
}

func centred(kp features.Keypoint, set features.FeatureSet) utils.Point {
	return utils.Point{
		X: kp.X - float64(set.Size.X)/2,
		Y: kp.Y - float64(set.Size.Y)/2,
	}
}

// reversed returns the same match seen from the destination image.
func (p PairwiseMatch) reversed() PairwiseMatch {
	r := PairwiseMatch{
		Src:        p.Dst,
		Dst:        p.Src,
		NumInliers: p.NumInliers,
		Confidence: p.Confidence,
	}
	r.Matches = make([]Correspondence, len(p.Matches))
	for k, m := range p.Matches {
		r.Matches[k] = Correspondence{Query: m.Train, Train: m.Query, Distance: m.Distance}
	}
	if p.InliersMask != nil {
		r.InliersMask = append([]bool(nil), p.InliersMask...)
	}
	if p.HasH {
		if inv, ok := p.H.Inverse(); ok {
			r.H = inv
			r.HasH = true
		}
	}
	return r
}

// mergeMatches runs the ratio test in both directions. Matches found from b to a
// are added when the same keypoint pair was not already found from a to b.
func mergeMatches(a, b []features.Descriptor, threshold float64) []Correspondence {
	type key struct{ q, t int }
	seen := make(map[key]struct{})

	var out []Correspondence
	for _, m := range ratioMatch(a, b, threshold) {
		seen[key{m.Query, m.Train}] = struct{}{}
		out = append(out, m)
	}
	for _, m := range ratioMatch(b, a, threshold) {
		k := key{m.Train, m.Query}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, Correspondence{Query: m.Train, Train: m.Query, Distance: m.Distance})
	}
	return out
}

// ratioMatch finds the two nearest train descriptors for every query descriptor
// and keeps the nearest one when it is clearly better than the runner-up.
func ratioMatch(query, train []features.Descriptor, threshold float64) []Correspondence {
	if len(train) < 2 {
		return nil
	}
	var out []Correspondence
	for qi, q := range query {
		best, second := math.MaxInt, math.MaxInt
		bestIdx := -1
		for ti, t := range train {
			d := q.Distance(t)
			switch {
			case d < best:
				second = best
				best, bestIdx = d, ti
			case d < second:
				second = d
			}
		}
		if float64(best) < threshold*float64(second) {
			out = append(out, Correspondence{Query: qi, Train: bestIdx, Distance: best})
		}
	}
	return out
}
