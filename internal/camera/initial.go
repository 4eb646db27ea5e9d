package camera

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/geom"
	"github.com/MeKo-Tech/arenacal/internal/matcher"
	"github.com/montanaflynn/stats"
)

// EstimateInitial derives a first guess for every camera from the pairwise
// homographies. All cameras share the median focal estimate, the spanning tree
// centre gets the identity rotation and the other rotations are chained along
// the tree. Principal points are placed at the image centres.
func EstimateInitial(sets []features.FeatureSet, matches []matcher.PairwiseMatch) ([]Params, error) {
	n := len(sets)
	if len(matches) != n*n {
		return nil, fmt.Errorf("camera: expected %d pairwise matches, got %d", n*n, len(matches))
	}

	focal := estimateFocal(sets, matches)
	tree, err := maxSpanningTree(n, matches)
	if err != nil {
		return nil, err
	}

	cams := make([]Params, n)
	for i := range cams {
		cams[i] = Params{Focal: focal, Aspect: 1, R: geom.Identity3()}
	}

	// Homographies live in centred coordinates, so the principal point stays at
	// zero until the rotations are known.
	for _, e := range tree.walk() {
		h := matches[e.from*n+e.to].H
		hInv, ok := h.Inverse()
		if !ok {
			return nil, fmt.Errorf("camera: singular homography %d->%d: %w", e.from, e.to, geom.ErrDegenerate)
		}
		rel := geom.Mul3(geom.Mul3(cams[e.from].KInv(), [9]float64(hInv)), cams[e.to].K())
		r, ok := nearestRotation(geom.Mul3(cams[e.from].R, rel))
		if !ok {
			return nil, fmt.Errorf("camera: rotation %d->%d: %w", e.from, e.to, geom.ErrDegenerate)
		}
		cams[e.to].R = r
	}

	for i, s := range sets {
		cams[i].PPX = float64(s.Size.X) / 2
		cams[i].PPY = float64(s.Size.Y) / 2
	}
	slog.Debug("Initial camera estimate", "focal", focal, "centre", tree.centre)
	return cams, nil
}

// estimateFocal returns the median of the focal estimates of all pairs, or the
// mean of width+height over all images when too few pairs yield one.
func estimateFocal(sets []features.FeatureSet, matches []matcher.PairwiseMatch) float64 {
	n := len(sets)
	var all []float64
	for i := range n {
		for j := range n {
			m := matches[i*n+j]
			if i == j || !m.HasH {
				continue
			}
			f0, f1, ok0, ok1 := focalsFromHomography(m.H)
			if ok0 && ok1 {
				all = append(all, math.Sqrt(f0*f1))
			}
		}
	}

	if len(all) >= n-1 && len(all) > 0 {
		if med, err := stats.Median(all); err == nil {
			return med
		}
	}
	var sum float64
	for _, s := range sets {
		sum += float64(s.Size.X + s.Size.Y)
	}
	return sum / float64(max(n, 1))
}

// focalsFromHomography recovers the focal lengths of the source (f0) and
// destination (f1) camera from a rotation homography in centred coordinates.
func focalsFromHomography(h geom.Homography) (f0, f1 float64, ok0, ok1 bool) {
	f1, ok1 = pickFocal(
		h[6]*h[7],
		(h[7]-h[6])*(h[7]+h[6]),
		-(h[0]*h[1]+h[3]*h[4]),
		h[0]*h[0]+h[3]*h[3]-h[1]*h[1]-h[4]*h[4],
	)
	f0, ok0 = pickFocal(
		h[0]*h[3]+h[1]*h[4],
		h[0]*h[0]+h[1]*h[1]-h[3]*h[3]-h[4]*h[4],
		-h[2]*h[5],
		h[5]*h[5]-h[2]*h[2],
	)
	return f0, f1, ok0, ok1
}

// pickFocal chooses between the two squared focal candidates n1/d1 and n2/d2.
func pickFocal(d1, d2, n1, n2 float64) (float64, bool) {
	v1, v2 := finiteOr(n1/d1, -1), finiteOr(n2/d2, -1)
	if v1 < v2 {
		v1, v2 = v2, v1
		d1, d2 = d2, d1
	}
	switch {
	case v1 > 0 && v2 > 0:
		if math.Abs(d1) > math.Abs(d2) {
			return math.Sqrt(v1), true
		}
		return math.Sqrt(v2), true
	case v1 > 0:
		return math.Sqrt(v1), true
	default:
		return 0, false
	}
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

type treeEdge struct {
	from, to int
	weight   int
}

type spanningTree struct {
	adj    [][]int
	centre int
}

// maxSpanningTree builds the spanning tree of the match graph with the most
// inliers and finds its centre, the vertex with the smallest eccentricity.
func maxSpanningTree(n int, matches []matcher.PairwiseMatch) (spanningTree, error) {
	var edges []treeEdge
	for i := range n {
		for j := i + 1; j < n; j++ {
			if m := matches[i*n+j]; m.HasH {
				edges = append(edges, treeEdge{from: i, to: j, weight: m.NumInliers})
			}
		}
	}
	slices.SortStableFunc(edges, func(a, b treeEdge) int {
		return cmp.Compare(b.weight, a.weight)
	})

	tree := spanningTree{adj: make([][]int, n)}
	ds := matcher.NewDisjointSet(n)
	added := 0
	for _, e := range edges {
		if ds.Union(e.from, e.to) {
			tree.adj[e.from] = append(tree.adj[e.from], e.to)
			tree.adj[e.to] = append(tree.adj[e.to], e.from)
			added++
		}
	}
	if added != n-1 {
		return spanningTree{}, fmt.Errorf("%w: tree has %d of %d edges", ErrNotConnected, added, n-1)
	}
	for _, a := range tree.adj {
		slices.Sort(a)
	}

	best := math.MaxInt
	for v := range n {
		ecc := slices.Max(tree.distances(v))
		if ecc < best {
			best, tree.centre = ecc, v
		}
	}
	return tree, nil
}

func (t spanningTree) distances(from int) []int {
	dist := make([]int, len(t.adj))
	for i := range dist {
		dist[i] = -1
	}
	dist[from] = 0
	queue := []int{from}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range t.adj[v] {
			if dist[w] < 0 {
				dist[w] = dist[v] + 1
				queue = append(queue, w)
			}
		}
	}
	return dist
}

// walk lists the tree edges in breadth-first order starting at the centre.
func (t spanningTree) walk() []treeEdge {
	seen := make([]bool, len(t.adj))
	seen[t.centre] = true
	queue := []int{t.centre}
	var out []treeEdge
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range t.adj[v] {
			if !seen[w] {
				seen[w] = true
				out = append(out, treeEdge{from: v, to: w})
				queue = append(queue, w)
			}
		}
	}
	return out
}
