package session

import (
	"image"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/square"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/samber/lo"
)

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID            string         `json:"id"`
	State         State          `json:"state"`
	Images        int            `json:"images"`
	ImageSize     image.Point    `json:"image_size"`
	Keypoints     []int          `json:"keypoints,omitempty"`
	Connected     []int          `json:"connected,omitempty"`
	Stitching     bool           `json:"stitching"`
	Unresolved    bool           `json:"unresolved"`
	PanoramaWidth int            `json:"panorama_width"`
	WarpScale     float64        `json:"warp_scale,omitempty"`
	RMS           float64        `json:"rms,omitempty"`
	Corners       []utils.Point  `json:"corners,omitempty"`
	Squared       bool           `json:"squared"`
	Stage         Stage          `json:"error_stage,omitempty"`
	Error         string         `json:"error,omitempty"`
	Timings       map[string]int `json:"timings_ms,omitempty"`
}

// Snapshot returns the current status.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:            s.id,
		State:         s.stateLocked(),
		Images:        len(s.images),
		Connected:     append([]int(nil), s.kept...),
		Stitching:     s.handle != nil && s.handle.running(),
		Unresolved:    s.stuck != nil,
		PanoramaWidth: s.panorama.CanvasWidth(),
		RMS:           s.stats.RMS,
		Corners:       s.corners.Points(),
		Squared:       s.squared != nil,
		Stage:         s.lastStage,
	}
	if len(s.images) > 0 {
		snap.ImageSize = s.images[0].Bounds().Size()
	}
	if s.sets != nil {
		snap.Keypoints = lo.Map(s.sets, func(f features.FeatureSet, _ int) int { return f.Len() })
	}
	if s.panorama != nil {
		snap.WarpScale = s.panorama.WarpScale
		snap.Timings = make(map[string]int, len(s.panorama.Timings))
		for _, t := range s.panorama.Timings {
			snap.Timings[t.Name] = int(t.Duration.Milliseconds())
		}
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// State returns the current workflow state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	switch {
	case s.panorama != nil && s.squared != nil:
		return StateSquared
	case s.panorama != nil && s.corners.Len() > 0:
		return StateCornersPicked
	case s.panorama != nil:
		return StateStitched
	case s.matched:
		return StateMatched
	case s.images != nil:
		return StateImagesLoaded
	default:
		return StateEmpty
	}
}

// Err returns the last stage error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// KeypointPreviews returns the per-camera previews annotated with keypoints.
func (s *Session) KeypointPreviews() []image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]image.Image(nil), s.keypointPreviews...)
}

// MatchPreviews returns the per-camera previews annotated with matched pairs.
func (s *Session) MatchPreviews() []image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]image.Image(nil), s.matchPreviews...)
}

// ImagePreview returns camera i scaled to the small preview size.
func (s *Session) ImagePreview(i int) (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.images) {
		return nil, false
	}
	return imaging.Resize(s.images[i], s.cfg.SmallSize.X, s.cfg.SmallSize.Y, imaging.Linear), true
}

// PanoramaPreview returns the panorama preview with the picked corners drawn.
func (s *Session) PanoramaPreview() (image.Image, bool) {
	s.mu.Lock()
	pano := s.panorama
	corners := s.corners.Points()
	s.mu.Unlock()
	if pano == nil || pano.Preview == nil {
		return nil, false
	}
	return square.Overlay(pano.Preview, corners), true
}

// SquaredPreview returns the squared arena scaled to the display size.
func (s *Session) SquaredPreview() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.squaredPre == nil {
		return nil, false
	}
	return s.squaredPre, true
}

// Squared returns the full-size squared arena.
func (s *Session) Squared() (*square.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.squared, s.squared != nil
}
