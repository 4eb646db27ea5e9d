package matcher

import (
	"context"
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scene struct {
	points []features.Keypoint
	descs  []features.Descriptor
}

func newScene(n int, seed uint64) scene {
	rng := rand.New(rand.NewPCG(seed, 1))
	s := scene{}
	for range n {
		s.points = append(s.points, features.Keypoint{
			X: 40 + rng.Float64()*560,
			Y: 40 + rng.Float64()*400,
		})
		s.descs = append(s.descs, features.Descriptor{rng.Uint64(), rng.Uint64(), rng.Uint64(), rng.Uint64()})
	}
	return s
}

// view shifts every scene point by (dx, dy) and reverses the keypoint order.
func (s scene) view(index int, dx, dy float64) features.FeatureSet {
	set := features.FeatureSet{ImageIndex: index, Size: image.Pt(640, 480)}
	for k := len(s.points) - 1; k >= 0; k-- {
		p := s.points[k]
		set.Keypoints = append(set.Keypoints, features.Keypoint{X: p.X + dx, Y: p.Y + dy})
		set.Descriptors = append(set.Descriptors, s.descs[k])
	}
	return set
}

func fourViews(n int) []features.FeatureSet {
	s := newScene(n, 42)
	return []features.FeatureSet{
		s.view(0, 0, 0),
		s.view(1, -20, 5),
		s.view(2, 10, -15),
		s.view(3, -5, -5),
	}
}

func TestThresholdFromSlider(t *testing.T) {
	assert.InDelta(t, 0.6, ThresholdFromSlider(60), 1e-12)
	assert.InDelta(t, 0.0, ThresholdFromSlider(-5), 1e-12)
	assert.InDelta(t, 1.0, ThresholdFromSlider(250), 1e-12)
	assert.InDelta(t, 0.6, DefaultConfig().Threshold, 1e-12)
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 100.0/38.0, confidence(100, 100), 1e-12)
	assert.Zero(t, confidence(400, 400), "near-identical images report zero confidence")
	assert.InDelta(t, 0.0, confidence(0, 50), 1e-12)
}

func TestRatioMatch(t *testing.T) {
	q := []features.Descriptor{{0, 0, 0, 0}}
	train := []features.Descriptor{
		{0xFF, 0, 0, 0},  // distance 8
		{0xFFF, 0, 0, 0}, // distance 12
	}

	assert.Len(t, ratioMatch(q, train, 0.7), 1, "8 < 0.7*12")
	assert.Empty(t, ratioMatch(q, train, 0.6), "8 is not < 0.6*12")
	assert.Empty(t, ratioMatch(q, train[:1], 0.9), "no second neighbour")
}

func TestMergeMatches_Deduplicates(t *testing.T) {
	s := newScene(30, 7)
	got := mergeMatches(s.descs, s.descs, 0.6)
	require.Len(t, got, 30)
	for k, m := range got {
		assert.Equal(t, k, m.Query)
		assert.Equal(t, k, m.Train)
	}
}

func TestMatch_Layout(t *testing.T) {
	sets := fourViews(100)
	out, err := Match(context.Background(), sets, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out, 16)

	for i := range 4 {
		for j := range 4 {
			pm := out[i*4+j]
			assert.Equal(t, i, pm.Src)
			assert.Equal(t, j, pm.Dst)
			if i == j {
				assert.Empty(t, pm.Matches)
				assert.False(t, pm.HasH)
				continue
			}
			assert.Len(t, pm.Matches, 100)
			assert.Equal(t, 100, pm.NumInliers)
			assert.True(t, pm.HasH)
			assert.InDelta(t, 100.0/38.0, pm.Confidence, 1e-9)
		}
	}
}

func TestMatch_RecoversShift(t *testing.T) {
	sets := fourViews(100)
	out, err := Match(context.Background(), sets, DefaultConfig())
	require.NoError(t, err)

	fwd := out[0*4+1]
	x, y := fwd.H.Apply(0, 0)
	assert.InDelta(t, -20, x, 1e-6)
	assert.InDelta(t, 5, y, 1e-6)

	back := out[1*4+0]
	x, y = back.H.Apply(0, 0)
	assert.InDelta(t, 20, x, 1e-6)
	assert.InDelta(t, -5, y, 1e-6)

	for k, m := range fwd.Matches {
		assert.Equal(t, m.Query, back.Matches[k].Train)
		assert.Equal(t, m.Train, back.Matches[k].Query)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	sets := fourViews(80)
	a, err := Match(context.Background(), sets, DefaultConfig())
	require.NoError(t, err)
	b, err := Match(context.Background(), sets, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMatch_FewMatchesHaveNoHomography(t *testing.T) {
	a := newScene(5, 1).view(0, 0, 0)
	b := newScene(5, 1).view(1, 3, 3)
	out, err := Match(context.Background(), []features.FeatureSet{a, b}, DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, out[1].Matches, 5)
	assert.False(t, out[1].HasH)
	assert.Zero(t, out[1].Confidence)
}

func TestMatch_Errors(t *testing.T) {
	_, err := Match(context.Background(), fourViews(10)[:1], DefaultConfig())
	require.ErrorIs(t, err, ErrTooFewImages)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Match(ctx, fourViews(10), DefaultConfig())
	require.ErrorIs(t, err, context.Canceled)
}

func pairs(n int, conf map[[2]int]float64) []PairwiseMatch {
	out := make([]PairwiseMatch, n*n)
	for i := range n {
		for j := range n {
			c := conf[[2]int{min(i, j), max(i, j)}]
			if i == j {
				c = 0
			}
			out[i*n+j] = PairwiseMatch{Src: i, Dst: j, Confidence: c}
		}
	}
	return out
}

func TestLeaveBiggestComponent(t *testing.T) {
	sets := make([]features.FeatureSet, 4)

	tests := []struct {
		name string
		conf map[[2]int]float64
		want []int
	}{
		{"chain connects all", map[[2]int]float64{{0, 1}: 1, {1, 2}: 0.9, {2, 3}: 0.6}, []int{0, 1, 2, 3}},
		{"isolated camera", map[[2]int]float64{{0, 1}: 1, {1, 3}: 1}, []int{0, 1, 3}},
		{"threshold is exclusive", map[[2]int]float64{{0, 1}: 0.5, {2, 3}: 0.51}, []int{2, 3}},
		{"tie keeps lowest index", map[[2]int]float64{{2, 3}: 1, {0, 1}: 1}, []int{0, 1}},
		{"nothing connected", nil, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LeaveBiggestComponent(sets, pairs(4, tt.conf), DefaultConnectivityThreshold)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Nil(t, LeaveBiggestComponent(nil, nil, 0.5))
}

func TestPlotMatches(t *testing.T) {
	sets := fourViews(20)
	out, err := Match(context.Background(), sets, DefaultConfig())
	require.NoError(t, err)

	previews := make([]image.Image, 4)
	for i := range previews {
		img := image.NewRGBA(image.Rect(0, 0, 320, 240))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p+3] = 255
		}
		previews[i] = img
	}

	annotated := PlotMatches(previews, sets, out)
	require.Len(t, annotated, 4)

	kp := sets[0].Keypoints[0]
	x, y := int(kp.X/2), int(kp.Y/2)
	assert.Equal(t, color.RGBA{A: 255}, previews[0].At(x, y), "input preview untouched")

	changed := false
	b := annotated[0].Bounds()
	for yy := b.Min.Y; yy < b.Max.Y && !changed; yy++ {
		for xx := b.Min.X; xx < b.Max.X; xx++ {
			if r, g, bl, _ := annotated[0].At(xx, yy).RGBA(); r+g+bl > 0 {
				changed = true
				break
			}
		}
	}
	assert.True(t, changed)
	assert.Equal(t, previews[0].Bounds(), annotated[0].Bounds())
}
