package features

import (
	"cmp"
	"context"
	"image"
	"slices"

	"github.com/MeKo-Tech/arenacal/internal/utils"
)

// circle16 is the Bresenham circle of radius 3 used by the FAST segment test.
var circle16 = [16]image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

const fastArcLength = 9

type fastBriefFinder struct {
	opts    Options
	pattern briefPattern
}

func newFastBriefFinder(opts Options) *fastBriefFinder {
	return &fastBriefFinder{opts: opts, pattern: newBriefPattern(opts.PatchSize)}
}

func (f *fastBriefFinder) Find(ctx context.Context, img image.Image) ([]Keypoint, []Descriptor, error) {
	gray := utils.ToGray(img, 0)
	margin := max(f.opts.PatchSize/2+1, 3)

	kps := detectFAST(gray, float32(f.opts.Threshold), margin)
	kps = retainBest(kps, f.opts.MaxKeypoints)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	smooth := utils.ToGray(img, f.opts.BlurSigma)
	descs := make([]Descriptor, len(kps))
	for i, kp := range kps {
		descs[i] = f.pattern.describe(smooth, int(kp.X), int(kp.Y))
	}
	return kps, descs, nil
}

// detectFAST runs the FAST-9 segment test followed by 3x3 non-maximum suppression.
func detectFAST(g *utils.Gray, threshold float32, margin int) []Keypoint {
	w, h := g.Width, g.Height
	if w <= 2*margin || h <= 2*margin {
		return nil
	}
	scores := make([]float32, w*h)
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			scores[y*w+x] = fastScore(g, x, y, threshold)
		}
	}

	var kps []Keypoint
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			s := scores[y*w+x]
			if s <= 0 || !isLocalMax(scores, w, x, y, s) {
				continue
			}
			kps = append(kps, Keypoint{X: float64(x), Y: float64(y), Response: float64(s)})
		}
	}
	return kps
}

// isLocalMax keeps the first pixel in raster order of an equal-score plateau.
func isLocalMax(scores []float32, w, x, y int, s float32) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := scores[(y+dy)*w+x+dx]
			before := dy < 0 || (dy == 0 && dx < 0)
			if n > s || (before && n == s) {
				return false
			}
		}
	}
	return true
}

func fastScore(g *utils.Gray, x, y int, t float32) float32 {
	w := g.Width
	c := g.Pix[y*w+x]
	hi, lo := c+t, c-t

	// A 9-arc always covers at least two of the four compass pixels.
	var nb, nd int
	for i := 0; i < 16; i += 4 {
		v := g.Pix[(y+circle16[i].Y)*w+x+circle16[i].X]
		if v > hi {
			nb++
		} else if v < lo {
			nd++
		}
	}
	if nb < 2 && nd < 2 {
		return 0
	}

	var brighter, darker uint32
	var score float32
	for i, o := range circle16 {
		v := g.Pix[(y+o.Y)*w+x+o.X]
		switch {
		case v > hi:
			brighter |= 1 << i
			score += v - hi
		case v < lo:
			darker |= 1 << i
			score += lo - v
		}
	}
	if !hasArc(brighter) && !hasArc(darker) {
		return 0
	}
	return score
}

func hasArc(mask uint32) bool {
	m := mask | mask<<16
	run := 0
	for i := range 32 {
		if m&(1<<i) != 0 {
			run++
			if run >= fastArcLength {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// retainBest keeps the n strongest keypoints; ties are broken by position.
func retainBest(kps []Keypoint, n int) []Keypoint {
	slices.SortStableFunc(kps, func(a, b Keypoint) int {
		if c := cmp.Compare(b.Response, a.Response); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Y, b.Y); c != 0 {
			return c
		}
		return cmp.Compare(a.X, b.X)
	})
	if n > 0 && len(kps) > n {
		kps = kps[:n]
	}
	return kps
}
