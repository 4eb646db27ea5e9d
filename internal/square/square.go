package square

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime"

	"github.com/MeKo-Tech/arenacal/internal/geom"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
)

// DefaultSide is the side length of the squared arena image.
const DefaultSide = 2000

// Result is a squared arena image together with the classified corners in
// full-resolution panorama coordinates.
type Result struct {
	Image *image.NRGBA
	Quad  [4]utils.Point
}

// Square rescales corners picked on a display of size display into full,
// classifies them and warps the enclosed quadrilateral onto a side x side square.
func Square(ctx context.Context, full image.Image, display image.Point, corners []utils.Point, side int) (*Result, error) {
	if len(corners) != MaxCorners {
		return nil, ErrNeedFourCorners
	}
	if side <= 0 {
		side = DefaultSide
	}
	size := full.Bounds().Size()
	quad, err := Classify(Rescale(corners, display, size), size)
	if err != nil {
		return nil, err
	}

	s := float64(side)
	dst := [4]utils.Point{{X: 0, Y: 0}, {X: s, Y: 0}, {X: 0, Y: s}, {X: s, Y: s}}
	h, ok := geom.FourPoint(dst, quad)
	if !ok {
		return nil, fmt.Errorf("square: corners are collinear: %w", geom.ErrDegenerate)
	}

	src := imaging.Clone(full)
	out := image.NewNRGBA(image.Rect(0, 0, side, side))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for y := range side {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row := out.Pix[y*out.Stride : y*out.Stride+4*side]
			for x := range side {
				sx, sy := h.Apply(float64(x), float64(y))
				bilinearSample(src, sx, sy, row[4*x:4*x+4])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("Arena squared", "side", side, "tl", quad[TopLeft], "br", quad[BottomRight])
	return &Result{Image: out, Quad: quad}, nil
}

// bilinearSample writes the NRGBA value at a fractional position of src into
// dst. Positions outside the image are opaque black.
func bilinearSample(src *image.NRGBA, x, y float64, dst []uint8) {
	b := src.Bounds()
	if x < 0 || y < 0 || x > float64(b.Dx()-1) || y > float64(b.Dy()-1) {
		dst[0], dst[1], dst[2], dst[3] = 0, 0, 0, 255
		return
	}
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, b.Dx()-1), min(y0+1, b.Dy()-1)
	fx, fy := x-float64(x0), y-float64(y0)

	c00 := src.Pix[src.PixOffset(b.Min.X+x0, b.Min.Y+y0):]
	c10 := src.Pix[src.PixOffset(b.Min.X+x1, b.Min.Y+y0):]
	c01 := src.Pix[src.PixOffset(b.Min.X+x0, b.Min.Y+y1):]
	c11 := src.Pix[src.PixOffset(b.Min.X+x1, b.Min.Y+y1):]
	for c := range 4 {
		v := lerp(lerp(float64(c00[c]), float64(c10[c]), fx), lerp(float64(c01[c]), float64(c11[c]), fx), fy)
		dst[c] = uint8(v + 0.5)
	}
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

// Preview resizes a squared image to the display size.
func Preview(img image.Image, display image.Point) *image.NRGBA {
	return imaging.Resize(img, display.X, display.Y, imaging.Lanczos)
}
