package features

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Backend names accepted by NewFinder.
const (
	BackendFastBrief = "fast-brief"
	BackendGocvORB   = "gocv-orb"
)

// Finder detects keypoints and computes one descriptor per keypoint.
type Finder interface {
	Find(ctx context.Context, img image.Image) ([]Keypoint, []Descriptor, error)
}

// Options configures keypoint detection.
type Options struct {
	Backend      string  // fast-brief (default) or gocv-orb
	Threshold    int     // FAST intensity threshold
	MaxKeypoints int     // strongest keypoints kept per image (0 = unlimited)
	BlurSigma    float64 // Gaussian smoothing before descriptor sampling
	PatchSize    int     // BRIEF patch side length in pixels
}

// DefaultOptions returns the detector settings of the calibration tool.
func DefaultOptions() Options {
	return Options{
		Backend:      BackendFastBrief,
		Threshold:    10,
		MaxKeypoints: 1500,
		BlurSigma:    2.0,
		PatchSize:    31,
	}
}

// NewFinder constructs the finder named by opts.Backend.
func NewFinder(opts Options) (Finder, error) {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultOptions().Threshold
	}
	if opts.PatchSize < 9 {
		opts.PatchSize = DefaultOptions().PatchSize
	}
	switch opts.Backend {
	case "", BackendFastBrief:
		return newFastBriefFinder(opts), nil
	case BackendGocvORB:
		return newGocvFinder(opts)
	default:
		return nil, fmt.Errorf("unknown feature backend: %s", opts.Backend)
	}
}

// Extract validates the images and runs the finder on each of them.
// The result is ordered by image index.
func Extract(ctx context.Context, finder Finder, images []image.Image) ([]FeatureSet, error) {
	if err := ValidateImages(images); err != nil {
		return nil, err
	}

	sets := make([]FeatureSet, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			kps, descs, err := finder.Find(gctx, img)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			sets[i] = FeatureSet{
				ImageIndex:  i,
				Size:        img.Bounds().Size(),
				Keypoints:   kps,
				Descriptors: descs,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, s := range sets {
		slog.Debug("Features extracted", "image", s.ImageIndex, "keypoints", s.Len())
	}
	return sets, nil
}
