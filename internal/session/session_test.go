package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/compose"
	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/matcher"
	"github.com/MeKo-Tech/arenacal/internal/square"
	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	stages   []Stage
	errs     []error
	stitched int
}

func (r *recordingObserver) OnStage(stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recordingObserver) OnStatus(Stage, string) {}

func (r *recordingObserver) OnError(_ Stage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingObserver) OnStitched(*compose.Panorama) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stitched++
}

func (r *recordingObserver) stitchedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stitched
}

func flatImages(n int, size image.Point) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		img := image.NewNRGBA(image.Rectangle{Max: size})
		draw.Draw(img, img.Bounds(), &image.Uniform{color.NRGBA{R: 90, G: 90, B: 90, A: 255}}, image.Point{}, draw.Src)
		out[i] = img
	}
	return out
}

// fakePanorama has a canvas of the given width and an arena drawn into Full.
func fakePanorama(width int) *compose.Panorama {
	full := image.NewNRGBA(image.Rect(0, 0, 1536, 1536))
	draw.Draw(full, image.Rect(256, 256, 1280, 1280), &image.Uniform{color.NRGBA{R: 255, A: 255}}, image.Point{}, draw.Src)
	cams := make([]camera.Params, 4)
	for i := range cams {
		cams[i] = camera.Params{Focal: 200, Aspect: 1, PPX: 32, PPY: 24, R: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
	}
	return &compose.Panorama{
		Full:      full,
		Preview:   image.NewNRGBA(image.Rect(0, 0, 600, 600)),
		Canvas:    image.NewNRGBA(image.Rect(0, 0, width, 120)),
		Cameras:   cams,
		WarpScale: 200,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SquareSide = 800
	cfg.CancelGrace = 50 * time.Millisecond
	return cfg
}

// newMatchedSession returns a session with images loaded and the match stage
// marked successful, stitching through fn.
func newMatchedSession(t *testing.T, fn stitchFunc, opts ...Option) *Session {
	t.Helper()
	s := New(testConfig(), opts...)
	if fn != nil {
		s.stitch = fn
	}
	require.NoError(t, s.LoadImages(flatImages(4, image.Pt(64, 48))))
	s.mu.Lock()
	s.matched = true
	s.kept = []int{0, 1, 2, 3}
	s.mu.Unlock()
	t.Cleanup(s.Close)
	return s
}

func fixedStitch(p *compose.Panorama) stitchFunc {
	return func(ctx context.Context, _ []image.Image, _ []features.FeatureSet, _ []matcher.PairwiseMatch) (*compose.Panorama, camera.RefineStats, error) {
		return p, camera.RefineStats{RMS: 0.25, Iterations: 3}, ctx.Err()
	}
}

func stitched(t *testing.T, s *Session) {
	t.Helper()
	_, err := s.Stitch(context.Background())
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.NoError(t, err)
}

func TestLoadImages_Validation(t *testing.T) {
	s := New(testConfig())
	err := s.LoadImages(flatImages(3, image.Pt(10, 10)))
	var inputErr *features.InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, StateEmpty, s.State())

	imgs := flatImages(4, image.Pt(10, 10))
	imgs[2] = image.NewNRGBA(image.Rect(0, 0, 11, 10))
	require.ErrorAs(t, s.LoadImages(imgs), &inputErr)
	assert.True(t, Recoverable(s.Err()))

	require.NoError(t, s.LoadImages(flatImages(4, image.Pt(10, 10))))
	assert.Equal(t, StateImagesLoaded, s.State())
	assert.NoError(t, s.Err())
}

func TestLoadImageFiles(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, img := range flatImages(4, image.Pt(16, 12)) {
		p := filepath.Join(dir, string(rune('a'+i))+".png")
		require.NoError(t, utils.SaveImage(img, p))
		paths = append(paths, p)
	}
	s := New(testConfig())
	require.NoError(t, s.LoadImageFiles(paths))
	assert.Equal(t, image.Pt(16, 12), s.Snapshot().ImageSize)

	var inputErr *features.InputError
	require.ErrorAs(t, s.LoadImageFiles(paths[:2]), &inputErr)
	require.ErrorAs(t, s.LoadImageFiles(append(paths[:3], filepath.Join(dir, "missing.png"))), &inputErr)
}

func TestExtractAndMatch_NotConnected(t *testing.T) {
	s := New(testConfig())
	require.ErrorIs(t, s.ExtractAndMatch(context.Background(), 10, 60), ErrNoImages)

	require.NoError(t, s.LoadImages(flatImages(4, image.Pt(64, 48))))
	err := s.ExtractAndMatch(context.Background(), 10, 60)
	require.ErrorIs(t, err, camera.ErrNotConnected)
	assert.Equal(t, StateImagesLoaded, s.State())
	assert.Len(t, s.KeypointPreviews(), 4)
	assert.Len(t, s.MatchPreviews(), 4)

	_, err = s.Stitch(context.Background())
	require.ErrorIs(t, err, ErrNotMatched)
}

func TestStitch_PublishesPanorama(t *testing.T) {
	obs := &recordingObserver{}
	s := newMatchedSession(t, fixedStitch(fakePanorama(800)), WithObserver(obs))
	assert.Equal(t, StateMatched, s.State())

	stitched(t, s)
	assert.Equal(t, StateStitched, s.State())
	snap := s.Snapshot()
	assert.Equal(t, 800, snap.PanoramaWidth)
	assert.InDelta(t, 0.25, snap.RMS, 1e-12)
	assert.False(t, snap.Stitching)
	assert.Eventually(t, func() bool { return obs.stitchedCount() == 1 }, time.Second, time.Millisecond)

	prev, ok := s.PanoramaPreview()
	require.True(t, ok)
	assert.Equal(t, image.Pt(600, 600), prev.Bounds().Size())
}

func TestWait_NoStitch(t *testing.T) {
	s := New(testConfig())
	_, err := s.Wait(context.Background())
	require.ErrorIs(t, err, ErrNoStitch)
}

func TestCorners_NarrowPanoramaIsNoOp(t *testing.T) {
	s := newMatchedSession(t, fixedStitch(fakePanorama(80)))
	stitched(t, s)

	ok, err := s.AddCorner(utils.Point{X: 10, Y: 10})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.RemoveLastCorner())
	_, err = s.Square(context.Background())
	require.ErrorIs(t, err, ErrNoPanorama)
	_, err = s.Save(context.Background(), filepath.Join(t.TempDir(), "c.yaml"))
	require.ErrorIs(t, err, ErrNoPanorama)
	assert.Equal(t, StateStitched, s.State())
}

func TestCorners_BeforeStitchIsNoOp(t *testing.T) {
	s := newMatchedSession(t, nil)
	ok, err := s.AddCorner(utils.Point{X: 10, Y: 10})
	require.NoError(t, err)
	assert.False(t, ok)
}

var displayCorners = []utils.Point{{X: 500, Y: 500}, {X: 100, Y: 100}, {X: 500, Y: 100}, {X: 100, Y: 500}}

func TestSquareAndSave(t *testing.T) {
	h, err := store.OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	s := newMatchedSession(t, fixedStitch(fakePanorama(800)), WithHistory(h))
	stitched(t, s)

	for i, p := range displayCorners[:3] {
		ok, err := s.AddCorner(p)
		require.NoError(t, err, "corner %d", i)
		require.True(t, ok)
	}
	assert.Equal(t, StateCornersPicked, s.State())
	_, err = s.Square(context.Background())
	require.ErrorIs(t, err, square.ErrNeedFourCorners)

	ok, err := s.AddCorner(displayCorners[3])
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.AddCorner(utils.Point{X: 1, Y: 1})
	require.ErrorIs(t, err, square.ErrTooManyCorners)
	assert.Len(t, s.Snapshot().Corners, 4)

	_, err = s.Pan(utils.Point{X: 300, Y: 300})
	require.ErrorIs(t, err, ErrNotSquared)

	res, err := s.Square(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSquared, s.State())
	assert.Equal(t, image.Pt(800, 800), res.Image.Bounds().Size())
	assert.InDelta(t, 256, res.Quad[square.TopLeft].X, 1e-9)
	assert.InDelta(t, 1280, res.Quad[square.BottomRight].Y, 1e-9)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, res.Image.NRGBAAt(400, 400))

	pre, ok := s.SquaredPreview()
	require.True(t, ok)
	assert.Equal(t, image.Pt(600, 600), pre.Bounds().Size())

	win, err := s.Pan(utils.Point{X: 0, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(600, 600), win.Bounds().Size())

	path := filepath.Join(t.TempDir(), "calibration.yaml")
	rec, err := s.Save(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, s.ID(), rec.Metadata.SessionID)
	assert.NotEmpty(t, rec.Metadata.RunID)

	loaded, err := store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, res.Quad, loaded.Corners())
	require.Len(t, loaded.K, 4)
	assert.InDelta(t, 200, loaded.K[0][0], 1e-12)

	entries, err := h.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rec.Metadata.RunID, entries[0].ID)
	assert.Equal(t, store.StatusSaved, entries[0].Status)

	// Editing corners invalidates the squared result.
	require.True(t, s.RemoveLastCorner())
	assert.Equal(t, StateCornersPicked, s.State())
	_, err = s.Save(context.Background(), path)
	require.ErrorIs(t, err, ErrNotSquared)
}

func TestSquare_AmbiguousCorners(t *testing.T) {
	s := newMatchedSession(t, fixedStitch(fakePanorama(800)))
	stitched(t, s)
	for _, p := range []utils.Point{{X: 100, Y: 100}, {X: 120, Y: 120}, {X: 500, Y: 500}, {X: 100, Y: 500}} {
		_, err := s.AddCorner(p)
		require.NoError(t, err)
	}
	_, err := s.Square(context.Background())
	require.ErrorIs(t, err, square.ErrAmbiguousCorners)
	assert.True(t, Recoverable(err))
	assert.Equal(t, StateCornersPicked, s.State())
	assert.Equal(t, StageSquare, s.Snapshot().Stage)
}

func TestStitch_NewPanoramaResetsCorners(t *testing.T) {
	s := newMatchedSession(t, fixedStitch(fakePanorama(800)))
	stitched(t, s)
	_, err := s.AddCorner(displayCorners[0])
	require.NoError(t, err)

	stitched(t, s)
	assert.Empty(t, s.Snapshot().Corners)
	assert.Equal(t, StateStitched, s.State())
}

func TestStitch_SupersedesRunningStitch(t *testing.T) {
	started := make(chan struct{}, 2)
	var calls int
	var mu sync.Mutex
	fn := func(ctx context.Context, _ []image.Image, _ []features.FeatureSet, _ []matcher.PairwiseMatch) (*compose.Panorama, camera.RefineStats, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		started <- struct{}{}
		if first {
			<-ctx.Done()
			return nil, camera.RefineStats{}, ctx.Err()
		}
		return fakePanorama(800), camera.RefineStats{}, nil
	}
	s := newMatchedSession(t, fn)

	first, err := s.Stitch(context.Background())
	require.NoError(t, err)
	<-started
	assert.True(t, s.Snapshot().Stitching)

	second, err := s.Stitch(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	_, err = first.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	p, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 800, p.CanvasWidth())
	assert.Equal(t, StateStitched, s.State())
}

func TestStitch_ConcurrentCallsRunOneWorker(t *testing.T) {
	pano := fakePanorama(800)
	var active, peak atomic.Int32
	fn := func(ctx context.Context, _ []image.Image, _ []features.FeatureSet, _ []matcher.PairwiseMatch) (*compose.Panorama, camera.RefineStats, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil, camera.RefineStats{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		return pano, camera.RefineStats{}, nil
	}
	s := newMatchedSession(t, fn)

	for range 50 {
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Stitch(context.Background())
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	}
	_, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, peak.Load(), "stitch workers overlapped")
	assert.Equal(t, StateStitched, s.State())
}

func TestStitch_CancelTimeoutRefusesNewRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var mu sync.Mutex
	calls := 0
	fn := func(ctx context.Context, _ []image.Image, _ []features.FeatureSet, _ []matcher.PairwiseMatch) (*compose.Panorama, camera.RefineStats, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		started <- struct{}{}
		if first {
			<-release // ignores cancellation
			return nil, camera.RefineStats{}, ctx.Err()
		}
		return fakePanorama(800), camera.RefineStats{}, nil
	}
	s := newMatchedSession(t, fn)

	stuck, err := s.Stitch(context.Background())
	require.NoError(t, err)
	<-started

	_, err = s.Stitch(context.Background())
	require.ErrorIs(t, err, ErrCancelTimeout)
	assert.True(t, s.Snapshot().Unresolved)
	_, err = s.Stitch(context.Background())
	require.ErrorIs(t, err, ErrCancelTimeout)

	close(release)
	<-stuck.Done()
	assert.False(t, s.Snapshot().Unresolved)

	_, err = s.Stitch(context.Background())
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStitched, s.State())
}

func TestLoadImages_DiscardsRunningStitch(t *testing.T) {
	gate := make(chan struct{})
	fn := func(ctx context.Context, _ []image.Image, _ []features.FeatureSet, _ []matcher.PairwiseMatch) (*compose.Panorama, camera.RefineStats, error) {
		<-gate
		return fakePanorama(800), camera.RefineStats{}, nil
	}
	s := newMatchedSession(t, fn)
	h, err := s.Stitch(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.LoadImages(flatImages(4, image.Pt(64, 48))))
	close(gate)
	_, err = h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateImagesLoaded, s.State(), "a stale run does not publish")
	assert.Zero(t, s.Snapshot().PanoramaWidth)
}

func TestStitch_FailureIsReported(t *testing.T) {
	obs := &recordingObserver{}
	fn := func(context.Context, []image.Image, []features.FeatureSet, []matcher.PairwiseMatch) (*compose.Panorama, camera.RefineStats, error) {
		return nil, camera.RefineStats{}, compose.ErrDegenerateWarp
	}
	s := newMatchedSession(t, fn, WithObserver(obs))
	_, err := s.Stitch(context.Background())
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.ErrorIs(t, err, compose.ErrDegenerateWarp)
	assert.Eventually(t, func() bool { return s.Snapshot().Stage == StageCompose }, time.Second, time.Millisecond)
	assert.Equal(t, StateMatched, s.State())
}

func TestRecoverable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{&features.InputError{Reason: "x"}, true},
		{camera.ErrNotConnected, true},
		{ErrCancelTimeout, true},
		{compose.ErrDegenerateWarp, true},
		{square.ErrAmbiguousCorners, true},
		{errors.New("disk on fire"), false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Recoverable(tt.err), "%v", tt.err)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "corners_picked", StateCornersPicked.String())
	assert.Equal(t, "unknown", State(42).String())
	b, err := StateSquared.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "squared", string(b))
}

func TestObservers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := &recordingObserver{}
	multi := NewMultiObserver(NewLogObserver(logger, slog.LevelInfo))
	multi.Add(rec)
	multi.Add(NoOpObserver{})

	multi.OnStage(StageMatch)
	multi.OnStatus(StageMatch, "matching")
	multi.OnError(StageMatch, camera.ErrNotConnected)
	multi.OnStitched(fakePanorama(300))

	out := buf.String()
	assert.Contains(t, out, `"stage":"match"`)
	assert.Contains(t, out, "matching")
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, "Panorama stitched")
	assert.Equal(t, []Stage{StageMatch}, rec.stages)
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, 1, rec.stitched)
}
