package matcher

import (
	"slices"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/samber/lo"
)

// DefaultConnectivityThreshold is the pair confidence needed to join two images.
const DefaultConnectivityThreshold = 0.5

// DisjointSet is a union-find forest over the integers [0, n).
type DisjointSet struct {
	parent []int
	size   []int
}

// NewDisjointSet returns n singleton sets.
func NewDisjointSet(n int) *DisjointSet {
	return &DisjointSet{
		parent: lo.Range(n),
		size:   lo.Times(n, func(int) int { return 1 }),
	}
}

// Find returns the representative of the set holding x.
func (d *DisjointSet) Find(x int) int {
	for d.parent[x] != x {
		d.parent[x] = d.parent[d.parent[x]]
		x = d.parent[x]
	}
	return x
}

// Union merges the sets holding a and b and reports whether they were distinct.
func (d *DisjointSet) Union(a, b int) bool {
	ra, rb := d.Find(a), d.Find(b)
	if ra == rb {
		return false
	}
	if d.size[ra] < d.size[rb] || (d.size[ra] == d.size[rb] && rb < ra) {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	d.size[ra] += d.size[rb]
	return true
}

// Size returns the number of elements in the set holding x.
func (d *DisjointSet) Size(x int) int { return d.size[d.Find(x)] }

// LeaveBiggestComponent returns the sorted indices of the largest group of images
// connected by pairs whose confidence exceeds threshold. When several components
// share the largest size, the one holding the lowest index wins.
func LeaveBiggestComponent(sets []features.FeatureSet, matches []PairwiseMatch, threshold float64) []int {
	n := len(sets)
	if n == 0 {
		return nil
	}
	ds := NewDisjointSet(n)
	for _, pm := range matches {
		if pm.Src < 0 || pm.Dst < 0 || pm.Src >= n || pm.Dst >= n || pm.Src >= pm.Dst {
			continue
		}
		if pm.Confidence > threshold {
			ds.Union(pm.Src, pm.Dst)
		}
	}

	best := 0
	for i := 1; i < n; i++ {
		if ds.Size(i) > ds.Size(best) {
			best = i
		}
	}
	root := ds.Find(best)
	keep := lo.Filter(lo.Range(n), func(i, _ int) bool { return ds.Find(i) == root })
	slices.Sort(keep)
	return keep
}
