// Package matcher finds correspondences between every pair of calibration images
// and reduces the match graph to its largest connected component.
package matcher

import (
	"errors"

	"github.com/MeKo-Tech/arenacal/internal/geom"
)

// Correspondence links keypoint Query of the source image to keypoint Train of the
// destination image.
type Correspondence struct {
	Query    int `json:"query"`
	Train    int `json:"train"`
	Distance int `json:"distance"`
}

// PairwiseMatch holds the matches from image Src to image Dst.
// H maps centred Src coordinates to centred Dst coordinates and is only
// meaningful when HasH is true.
type PairwiseMatch struct {
	Src         int              `json:"src"`
	Dst         int              `json:"dst"`
	Matches     []Correspondence `json:"matches"`
	InliersMask []bool           `json:"-"`
	NumInliers  int              `json:"num_inliers"`
	H           geom.Homography  `json:"h"`
	HasH        bool             `json:"has_h"`
	Confidence  float64          `json:"confidence"`
}

// Inliers returns the correspondences flagged by the inlier mask.
func (p PairwiseMatch) Inliers() []Correspondence {
	out := make([]Correspondence, 0, p.NumInliers)
	for k, m := range p.Matches {
		if k < len(p.InliersMask) && p.InliersMask[k] {
			out = append(out, m)
		}
	}
	return out
}

// ErrTooFewImages is returned when fewer than two feature sets are supplied.
var ErrTooFewImages = errors.New("matcher: need at least two feature sets")

// Config controls descriptor matching and homography estimation.
type Config struct {
	// Threshold is the ratio test bound: a match is kept when
	// best < Threshold * secondBest.
	Threshold  float64
	MinMatches int
	RANSAC     geom.RANSACConfig
}

// DefaultMatchSlider is the default position of the match threshold slider.
const DefaultMatchSlider = 60

// ThresholdFromSlider converts a 0-100 slider position to a ratio threshold.
func ThresholdFromSlider(v int) float64 {
	return float64(max(0, min(100, v))) / 100
}

// DefaultConfig returns the matcher settings of the calibration tool.
func DefaultConfig() Config {
	return Config{
		Threshold:  ThresholdFromSlider(DefaultMatchSlider),
		MinMatches: 6,
		RANSAC:     geom.DefaultRANSACConfig(),
	}
}
