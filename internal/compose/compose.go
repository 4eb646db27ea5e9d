// Package compose warps the calibration images onto a common plane, equalises
// their exposure and feather-blends them into one panorama.
package compose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/common"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/montanaflynn/stats"
)

// ErrDegenerateWarp is returned when a camera cannot be projected onto the
// panorama plane or the resulting canvas is unreasonably large.
var ErrDegenerateWarp = errors.New("compose: degenerate warp")

// Config controls compositing.
type Config struct {
	// WarpScale overrides the projection scale; zero uses the median focal.
	WarpScale        float64
	Sharpness        float32
	GainCompensation bool
	MaxCanvasPixels  int
	OutputSize       image.Point
	PreviewSize      image.Point
}

// DefaultConfig returns the compositing settings of the calibration tool.
func DefaultConfig() Config {
	return Config{
		Sharpness:        0.02,
		GainCompensation: true,
		MaxCanvasPixels:  40_000_000,
		OutputSize:       image.Pt(1536, 1536),
		PreviewSize:      image.Pt(600, 600),
	}
}

// Panorama is the result of one successful compose run.
type Panorama struct {
	// Full is the blended canvas resized to the fixed output size.
	Full *image.NRGBA
	// Preview is Full resized to the display size.
	Preview *image.NRGBA
	// Canvas is the blended image at warp resolution.
	Canvas *image.NRGBA
	// Origin is the panorama-plane position of the canvas top-left pixel.
	Origin    image.Point
	Corners   []image.Point
	Sizes     []image.Point
	Gains     []float64
	Cameras   []camera.Params
	WarpScale float64
	Timings   []common.StageTiming
}

// CanvasWidth returns the width of the blended canvas, or 0 for a nil panorama.
func (p *Panorama) CanvasWidth() int {
	if p == nil || p.Canvas == nil {
		return 0
	}
	return p.Canvas.Bounds().Dx()
}

// MedianFocal returns the median of the focal lengths. For an even count the
// two middle values are averaged.
func MedianFocal(focals []float64) (float64, error) {
	m, err := stats.Median(focals)
	if err != nil {
		return 0, fmt.Errorf("median focal: %w", err)
	}
	return m, nil
}

// Compose warps, compensates and blends the images with the given cameras.
func Compose(ctx context.Context, images []image.Image, cams []camera.Params, cfg Config) (*Panorama, error) {
	if len(images) != len(cams) || len(images) == 0 {
		return nil, fmt.Errorf("compose: %d images for %d cameras", len(images), len(cams))
	}
	def := DefaultConfig()
	if cfg.OutputSize.X <= 0 || cfg.OutputSize.Y <= 0 {
		cfg.OutputSize = def.OutputSize
	}
	if cfg.PreviewSize.X <= 0 || cfg.PreviewSize.Y <= 0 {
		cfg.PreviewSize = def.PreviewSize
	}

	scale := cfg.WarpScale
	if scale <= 0 {
		var err error
		if scale, err = MedianFocal(camera.Focals(cams)); err != nil {
			return nil, err
		}
	}

	pano := &Panorama{Cameras: camera.Clone(cams), WarpScale: scale}
	var timings common.Stages
	warper := PlaneWarper{Scale: scale}
	layers := make([]*Layer, 0, len(images))
	defer func() {
		for _, l := range layers {
			l.Release()
		}
	}()

	err := timings.Time("warp", func() error {
		var union image.Rectangle
		for i, img := range images {
			if err := ctx.Err(); err != nil {
				return err
			}
			l, err := warper.Warp(ctx, imaging.Clone(img), cams[i], cfg.MaxCanvasPixels)
			if err != nil {
				return fmt.Errorf("warp image %d: %w", i, err)
			}
			layers = append(layers, l)
			pano.Corners = append(pano.Corners, l.Corner)
			pano.Sizes = append(pano.Sizes, image.Pt(l.Width, l.Height))
			union = union.Union(l.Rect())
		}
		if cfg.MaxCanvasPixels > 0 && union.Dx()*union.Dy() > cfg.MaxCanvasPixels {
			return fmt.Errorf("canvas %dx%d: %w", union.Dx(), union.Dy(), ErrDegenerateWarp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = timings.Time("gain", func() error {
		var comp GainCompensator
		pano.Gains = make([]float64, len(layers))
		for i := range pano.Gains {
			pano.Gains[i] = 1
		}
		if cfg.GainCompensation {
			gains, err := comp.Gains(layers)
			if err != nil {
				return err
			}
			pano.Gains = gains
		}
		for i, l := range layers {
			comp.Apply(l, pano.Gains[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timings.Track("blend", func() {
		var roi image.Rectangle
		pano.Canvas, roi = FeatherBlender{Sharpness: cfg.Sharpness}.Blend(layers)
		pano.Origin = roi.Min
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = timings.Time("resize", func() error {
		var err error
		if pano.Full, err = utils.ResizeExact(pano.Canvas, cfg.OutputSize.X, cfg.OutputSize.Y); err != nil {
			return err
		}
		pano.Preview, err = utils.ResizeExact(pano.Full, cfg.PreviewSize.X, cfg.PreviewSize.Y)
		return err
	})
	if err != nil {
		return nil, err
	}

	pano.Timings = timings.List()
	slog.Info("Panorama composed",
		append([]any{"canvas", pano.Canvas.Bounds().Size(), "warp_scale", scale}, timings.LogArgs()...)...)
	return pano, nil
}
