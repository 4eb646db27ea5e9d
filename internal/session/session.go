// Package session drives one interactive calibration: loading the four
// camera stills, matching, background stitching, corner picking, squaring and
// saving the result.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/common"
	"github.com/MeKo-Tech/arenacal/internal/compose"
	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/matcher"
	"github.com/MeKo-Tech/arenacal/internal/square"
	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Config holds the settings of every stage a session runs.
type Config struct {
	Features features.Options
	Matcher  matcher.Config
	Camera   camera.Config
	Compose  compose.Config
	// SmallSize is the per-camera preview size. Panorama and squared previews
	// use twice this size.
	SmallSize        image.Point
	SquareSide       int
	CancelGrace      time.Duration
	MinPanoramaWidth int
}

// DefaultConfig returns the settings of the calibration tool.
func DefaultConfig() Config {
	small := image.Pt(300, 300)
	comp := compose.DefaultConfig()
	comp.PreviewSize = small.Mul(2)
	return Config{
		Features:         features.DefaultOptions(),
		Matcher:          matcher.DefaultConfig(),
		Camera:           camera.DefaultConfig(),
		Compose:          comp,
		SmallSize:        small,
		SquareSide:       square.DefaultSide,
		CancelGrace:      2 * time.Second,
		MinPanoramaWidth: 100,
	}
}

// DisplaySize is the size of the panorama and squared previews.
func (c Config) DisplaySize() image.Point { return c.SmallSize.Mul(2) }

// Option configures a Session.
type Option func(*Session)

// WithObserver sets the observer notified at stage boundaries.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithHistory appends every save to h.
func WithHistory(h *store.History) Option {
	return func(s *Session) { s.history = h }
}

type stitchFunc func(ctx context.Context, images []image.Image, sets []features.FeatureSet,
	matches []matcher.PairwiseMatch) (*compose.Panorama, camera.RefineStats, error)

// Session is safe for concurrent use.
type Session struct {
	id      string
	cfg     Config
	obs     Observer
	history *store.History
	stitch  stitchFunc

	// stitchMu serializes Stitch so that at most one worker runs at a time.
	stitchMu sync.Mutex

	mu sync.Mutex
	// gen is bumped whenever the inputs of a stitch change; a run only
	// publishes when its generation is still current.
	gen     uint64
	images  []image.Image
	sets    []features.FeatureSet
	matches []matcher.PairwiseMatch
	kept    []int
	matched bool

	handle     *StitchHandle
	stuck      *StitchHandle
	panorama   *compose.Panorama
	stats      camera.RefineStats
	corners    square.CornerList
	squared    *square.Result
	squaredPre *image.NRGBA

	keypointPreviews []image.Image
	matchPreviews    []image.Image

	lastErr   error
	lastStage Stage
}

// New creates an empty session.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		id:  uuid.NewString(),
		cfg: cfg,
		obs: NoOpObserver{},
	}
	s.stitch = s.runStitch
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

func (s *Session) fail(stage Stage, err error) error {
	s.mu.Lock()
	s.lastErr, s.lastStage = err, stage
	s.mu.Unlock()
	s.obs.OnError(stage, err)
	return err
}

func (s *Session) clearError() {
	s.mu.Lock()
	s.lastErr, s.lastStage = nil, ""
	s.mu.Unlock()
}

// resetLocked drops everything derived from the current images.
func (s *Session) resetLocked() {
	s.gen++
	s.sets, s.matches, s.kept = nil, nil, nil
	s.matched = false
	s.panorama = nil
	s.stats = camera.RefineStats{}
	s.corners.Reset()
	s.squared, s.squaredPre = nil, nil
	s.keypointPreviews, s.matchPreviews = nil, nil
	if s.handle != nil {
		s.handle.Cancel()
	}
}

// LoadImages validates and installs four equally sized camera stills.
// Everything derived from earlier images is discarded.
func (s *Session) LoadImages(images []image.Image) error {
	s.obs.OnStage(StageLoad)
	if err := features.ValidateImages(images); err != nil {
		return s.fail(StageLoad, err)
	}
	s.mu.Lock()
	s.resetLocked()
	s.images = append([]image.Image(nil), images...)
	s.lastErr, s.lastStage = nil, ""
	s.mu.Unlock()

	size := images[0].Bounds().Size()
	s.obs.OnStatus(StageLoad, fmt.Sprintf("Loaded %d images of %dx%d", len(images), size.X, size.Y))
	return nil
}

// LoadImageFiles decodes the files at paths and loads them.
func (s *Session) LoadImageFiles(paths []string) error {
	if len(paths) != features.RequiredImages {
		return s.fail(StageLoad, &features.InputError{
			Reason: fmt.Sprintf("need exactly %d image files, got %d", features.RequiredImages, len(paths)),
		})
	}
	images, err := utils.LoadImages(paths)
	if err != nil {
		return s.fail(StageLoad, &features.InputError{Reason: err.Error()})
	}
	return s.LoadImages(images)
}

// ExtractAndMatch finds features with the given detector threshold, matches
// them with the ratio threshold slider/100 and checks that all four images
// form one connected component. It blocks until done.
func (s *Session) ExtractAndMatch(ctx context.Context, detectorThreshold, slider int) error {
	s.mu.Lock()
	if s.images == nil {
		s.mu.Unlock()
		return s.fail(StageExtract, ErrNoImages)
	}
	s.resetLocked()
	gen := s.gen
	images := s.images
	s.mu.Unlock()

	s.obs.OnStage(StageExtract)
	opts := s.cfg.Features
	opts.Threshold = detectorThreshold
	finder, err := features.NewFinder(opts)
	if err != nil {
		return s.fail(StageExtract, err)
	}
	timer := common.NewNamedTimer("extract")
	sets, err := features.Extract(ctx, finder, images)
	if err != nil {
		return s.fail(StageExtract, err)
	}
	timer.Stop()
	keypointPreviews := make([]image.Image, len(images))
	counts := make([]int, len(sets))
	for i, img := range images {
		keypointPreviews[i] = features.PlotKeypoints(img, sets[i], s.cfg.SmallSize)
		counts[i] = sets[i].Len()
	}
	s.obs.OnStatus(StageExtract, fmt.Sprintf("Found %v keypoints in %v", counts, timer.Duration().Round(time.Millisecond)))

	s.obs.OnStage(StageMatch)
	mcfg := s.cfg.Matcher
	mcfg.Threshold = matcher.ThresholdFromSlider(slider)
	matches, err := matcher.Match(ctx, sets, mcfg)
	if err != nil {
		return s.fail(StageMatch, err)
	}
	kept := matcher.LeaveBiggestComponent(sets, matches, matcher.DefaultConnectivityThreshold)

	smalls := make([]image.Image, len(images))
	for i, img := range images {
		smalls[i] = imaging.Resize(img, s.cfg.SmallSize.X, s.cfg.SmallSize.Y, imaging.Linear)
	}
	matchPreviews := matcher.PlotMatches(smalls, sets, matches)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return s.fail(StageMatch, ErrSuperseded)
	}
	s.sets, s.matches, s.kept = sets, matches, kept
	s.keypointPreviews, s.matchPreviews = keypointPreviews, matchPreviews
	s.matched = len(kept) == features.RequiredImages
	s.mu.Unlock()

	if len(kept) != features.RequiredImages {
		return s.fail(StageMatch, fmt.Errorf("%w: only images %v are connected, try lowering the threshold",
			camera.ErrNotConnected, kept))
	}
	s.clearError()
	s.obs.OnStatus(StageMatch, "All four images are connected")
	return nil
}

// Stitch starts estimating cameras and composing the panorama in the
// background. An outstanding run is cancelled first; if it does not stop
// within the cancel grace period the new request is refused with
// ErrCancelTimeout. The run is detached from ctx cancellation.
func (s *Session) Stitch(ctx context.Context) (*StitchHandle, error) {
	s.stitchMu.Lock()
	defer s.stitchMu.Unlock()

	s.mu.Lock()
	if !s.matched {
		s.mu.Unlock()
		return nil, s.fail(StageEstimate, ErrNotMatched)
	}
	if s.stuck != nil {
		s.mu.Unlock()
		return nil, s.fail(StageEstimate, ErrCancelTimeout)
	}
	old := s.handle
	s.mu.Unlock()

	if old != nil && old.running() {
		if err := old.cancelAndWait(s.cfg.CancelGrace); err != nil {
			s.mu.Lock()
			s.stuck = old
			s.mu.Unlock()
			return nil, s.fail(StageEstimate, err)
		}
	}

	s.mu.Lock()
	if !s.matched {
		s.mu.Unlock()
		return nil, s.fail(StageEstimate, ErrNotMatched)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := newStitchHandle(s.gen, cancel)
	s.handle = h
	images, sets, matches := s.images, s.sets, s.matches
	s.mu.Unlock()

	go s.work(runCtx, h, images, sets, matches)
	return h, nil
}

func (s *Session) work(ctx context.Context, h *StitchHandle, images []image.Image,
	sets []features.FeatureSet, matches []matcher.PairwiseMatch,
) {
	defer h.cancel()
	pano, stats, err := s.stitch(ctx, images, sets, matches)

	s.mu.Lock()
	if s.stuck == h {
		s.stuck = nil
	}
	published := false
	if err == nil && h.gen == s.gen {
		s.panorama, s.stats = pano, stats
		s.corners.Reset()
		s.squared, s.squaredPre = nil, nil
		s.lastErr, s.lastStage = nil, ""
		published = true
	}
	s.mu.Unlock()
	h.finish(pano, stats, err)

	switch {
	case published:
		s.obs.OnStitched(pano)
	case err != nil && !errors.Is(err, context.Canceled):
		stage := StageEstimate
		if errors.Is(err, compose.ErrDegenerateWarp) {
			stage = StageCompose
		}
		_ = s.fail(stage, err)
	}
}

func (s *Session) runStitch(ctx context.Context, images []image.Image, sets []features.FeatureSet,
	matches []matcher.PairwiseMatch,
) (*compose.Panorama, camera.RefineStats, error) {
	s.obs.OnStage(StageEstimate)
	res, err := camera.Estimate(ctx, sets, matches, s.cfg.Camera)
	if err != nil {
		return nil, camera.RefineStats{}, err
	}
	s.obs.OnStatus(StageEstimate, fmt.Sprintf("Bundle adjustment finished after %d iterations, RMS %.3f px",
		res.Stats.Iterations, res.Stats.RMS))

	s.obs.OnStage(StageCompose)
	pano, err := compose.Compose(ctx, images, res.Cameras, s.cfg.Compose)
	if err != nil {
		return nil, res.Stats, err
	}
	return pano, res.Stats, nil
}

// Wait blocks until the current stitch finishes.
func (s *Session) Wait(ctx context.Context) (*compose.Panorama, error) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil, ErrNoStitch
	}
	return h.Wait(ctx)
}

// usablePanoramaLocked returns the last panorama if it is wide enough for
// corner picking.
func (s *Session) usablePanoramaLocked() *compose.Panorama {
	if s.panorama.CanvasWidth() < s.cfg.MinPanoramaWidth {
		return nil
	}
	return s.panorama
}

// AddCorner appends a corner picked on the panorama preview. It reports false
// without error when there is no usable panorama.
func (s *Session) AddCorner(p utils.Point) (bool, error) {
	s.mu.Lock()
	if s.usablePanoramaLocked() == nil {
		s.mu.Unlock()
		return false, nil
	}
	err := s.corners.Add(p)
	if err == nil {
		s.squared, s.squaredPre = nil, nil
	}
	n := s.corners.Len()
	s.mu.Unlock()

	if err != nil {
		return false, s.fail(StageCorners, err)
	}
	s.obs.OnStatus(StageCorners, fmt.Sprintf("Corner %d at (%.0f, %.0f)", n, p.X, p.Y))
	return true, nil
}

// RemoveLastCorner drops the most recent corner.
func (s *Session) RemoveLastCorner() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usablePanoramaLocked() == nil {
		return false
	}
	removed := s.corners.RemoveLast()
	if removed {
		s.squared, s.squaredPre = nil, nil
	}
	return removed
}

// Square warps the arena enclosed by the four picked corners onto a square.
func (s *Session) Square(ctx context.Context) (*square.Result, error) {
	s.obs.OnStage(StageSquare)
	s.mu.Lock()
	pano := s.usablePanoramaLocked()
	corners := s.corners.Points()
	gen := s.gen
	s.mu.Unlock()
	if pano == nil {
		return nil, s.fail(StageSquare, ErrNoPanorama)
	}

	res, err := square.Square(ctx, pano.Full, s.cfg.DisplaySize(), corners, s.cfg.SquareSide)
	if err != nil {
		return nil, s.fail(StageSquare, err)
	}
	preview := square.Preview(res.Image, s.cfg.DisplaySize())

	s.mu.Lock()
	if gen != s.gen || s.panorama != pano {
		s.mu.Unlock()
		return nil, s.fail(StageSquare, ErrNoPanorama)
	}
	s.squared, s.squaredPre = res, preview
	s.mu.Unlock()
	s.clearError()
	s.obs.OnStatus(StageSquare, fmt.Sprintf("Arena squared to %dx%d", res.Image.Bounds().Dx(), res.Image.Bounds().Dy()))
	return res, nil
}

// Pan returns the preview-sized window of the squared arena centred on focus,
// given in display coordinates.
func (s *Session) Pan(focus utils.Point) (*image.NRGBA, error) {
	s.mu.Lock()
	sq := s.squared
	s.mu.Unlock()
	if sq == nil {
		return nil, ErrNotSquared
	}
	display := s.cfg.DisplaySize()
	return square.PanCrop(sq.Image, focus, display, display), nil
}

// Save writes the calibration record to path and appends it to the history.
func (s *Session) Save(ctx context.Context, path string) (*store.Record, error) {
	s.obs.OnStage(StageSave)
	s.mu.Lock()
	pano := s.usablePanoramaLocked()
	sq := s.squared
	stats := s.stats
	s.mu.Unlock()
	if pano == nil {
		return nil, s.fail(StageSave, ErrNoPanorama)
	}
	if sq == nil {
		return nil, s.fail(StageSave, ErrNotSquared)
	}

	size := pano.Full.Bounds().Size()
	rec := store.NewRecord(sq.Quad, pano.Cameras, store.Metadata{
		SessionID: s.id,
		WarpScale: pano.WarpScale,
		RMS:       stats.RMS,
		Width:     size.X,
		Height:    size.Y,
	})
	entry := store.Entry{
		ID:         uuid.NewString(),
		SessionID:  s.id,
		RecordPath: path,
		WarpScale:  pano.WarpScale,
		RMS:        stats.RMS,
		Width:      size.X,
		Height:     size.Y,
		CreatedAt:  rec.Metadata.Created,
	}

	rec.Metadata.RunID = entry.ID
	if err := store.Save(path, rec); err != nil {
		entry.Status, entry.Error = store.StatusFailed, err.Error()
		s.appendHistory(ctx, entry)
		return nil, s.fail(StageSave, err)
	}
	entry.Status = store.StatusSaved
	s.appendHistory(ctx, entry)
	s.obs.OnStatus(StageSave, "Calibration saved to "+path)
	return rec, nil
}

func (s *Session) appendHistory(ctx context.Context, e store.Entry) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Append(ctx, e); err != nil {
		slog.Warn("Failed to record calibration history", "error", err, "session", s.id)
	}
}

// Close cancels any running stitch.
func (s *Session) Close() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}
