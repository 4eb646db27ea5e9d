package compose

import (
	"context"
	"image"
	"math"
	"runtime"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/geom"
	"github.com/MeKo-Tech/arenacal/internal/mempool"
	"golang.org/x/sync/errgroup"
)

// Layer is one image warped onto the panorama plane. Pix holds RGB triples.
type Layer struct {
	Corner image.Point
	Width  int
	Height int
	Pix    []float32
	Mask   []bool
}

// Rect returns the layer bounds in panorama coordinates.
func (l *Layer) Rect() image.Rectangle {
	return image.Rect(l.Corner.X, l.Corner.Y, l.Corner.X+l.Width, l.Corner.Y+l.Height)
}

// Release hands the pixel buffers back to the pool.
func (l *Layer) Release() {
	mempool.PutFloat32(l.Pix)
	mempool.PutBool(l.Mask)
	l.Pix, l.Mask = nil, nil
}

// PlaneWarper projects camera rays onto the plane z = 1 scaled by Scale.
type PlaneWarper struct {
	Scale float64
}

type projector struct {
	scale float64
	rKInv [9]float64
	kRInv [9]float64
}

func (w PlaneWarper) projector(cam camera.Params) projector {
	return projector{
		scale: w.Scale,
		rKInv: geom.Mul3(cam.R, cam.KInv()),
		kRInv: geom.Mul3(cam.K(), geom.Transpose3(cam.R)),
	}
}

func (p projector) forward(x, y float64) (float64, float64, bool) {
	m := &p.rKInv
	px := m[0]*x + m[1]*y + m[2]
	py := m[3]*x + m[4]*y + m[5]
	pz := m[6]*x + m[7]*y + m[8]
	if pz <= 0 {
		return 0, 0, false
	}
	return p.scale * px / pz, p.scale * py / pz, true
}

func (p projector) inverse(u, v float64) (float64, float64, bool) {
	m := &p.kRInv
	px, py := u/p.scale, v/p.scale
	x := m[0]*px + m[1]*py + m[2]
	y := m[3]*px + m[4]*py + m[5]
	z := m[6]*px + m[7]*py + m[8]
	if z <= 0 {
		return 0, 0, false
	}
	return x / z, y / z, true
}

// ROI returns the panorama rectangle covered by an image of the given size.
// The bounds come from projecting every border pixel.
func (w PlaneWarper) ROI(size image.Point, cam camera.Params) (image.Rectangle, error) {
	if size.X <= 0 || size.Y <= 0 || w.Scale <= 0 {
		return image.Rectangle{}, ErrDegenerateWarp
	}
	p := w.projector(cam)
	minU, minV := math.Inf(1), math.Inf(1)
	maxU, maxV := math.Inf(-1), math.Inf(-1)
	visit := func(x, y int) bool {
		u, v, ok := p.forward(float64(x), float64(y))
		if !ok {
			return false
		}
		minU, maxU = math.Min(minU, u), math.Max(maxU, u)
		minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		return true
	}
	for x := range size.X {
		if !visit(x, 0) || !visit(x, size.Y-1) {
			return image.Rectangle{}, ErrDegenerateWarp
		}
	}
	for y := range size.Y {
		if !visit(0, y) || !visit(size.X-1, y) {
			return image.Rectangle{}, ErrDegenerateWarp
		}
	}
	if math.IsNaN(minU+maxU+minV+maxV) || maxU-minU > math.MaxInt32 || maxV-minV > math.MaxInt32 {
		return image.Rectangle{}, ErrDegenerateWarp
	}
	return image.Rect(int(math.Floor(minU)), int(math.Floor(minV)),
		int(math.Ceil(maxU))+1, int(math.Ceil(maxV))+1), nil
}

// Warp resamples src onto the panorama plane. Layers larger than maxPixels
// are rejected before any buffer is allocated.
func (w PlaneWarper) Warp(ctx context.Context, src *image.NRGBA, cam camera.Params, maxPixels int) (*Layer, error) {
	size := src.Bounds().Size()
	roi, err := w.ROI(size, cam)
	if err != nil {
		return nil, err
	}
	if maxPixels > 0 && roi.Dx()*roi.Dy() > maxPixels {
		return nil, ErrDegenerateWarp
	}

	l := &Layer{
		Corner: roi.Min,
		Width:  roi.Dx(),
		Height: roi.Dy(),
		Pix:    mempool.GetFloat32Zeroed(3 * roi.Dx() * roi.Dy()),
		Mask:   mempool.GetBool(roi.Dx() * roi.Dy()),
	}
	p := w.projector(cam)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for y := range l.Height {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			warpRow(src, p, l, y)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.Release()
		return nil, err
	}
	return l, nil
}

func warpRow(src *image.NRGBA, p projector, l *Layer, y int) {
	b := src.Bounds()
	maxX, maxY := float64(b.Dx()-1), float64(b.Dy()-1)
	v := float64(l.Corner.Y + y)
	for x := range l.Width {
		sx, sy, ok := p.inverse(float64(l.Corner.X+x), v)
		if !ok || sx < 0 || sy < 0 || sx > maxX || sy > maxY {
			continue
		}
		i := y*l.Width + x
		r, gr, bl := bilinearRGB(src, sx, sy)
		l.Pix[3*i], l.Pix[3*i+1], l.Pix[3*i+2] = r, gr, bl
		l.Mask[i] = true
	}
}

// bilinearRGB samples src at a fractional position inside its bounds.
func bilinearRGB(src *image.NRGBA, x, y float64) (float32, float32, float32) {
	b := src.Bounds()
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, b.Dx()-1), min(y0+1, b.Dy()-1)
	fx, fy := float32(x-float64(x0)), float32(y-float64(y0))

	o00 := src.PixOffset(b.Min.X+x0, b.Min.Y+y0)
	o10 := src.PixOffset(b.Min.X+x1, b.Min.Y+y0)
	o01 := src.PixOffset(b.Min.X+x0, b.Min.Y+y1)
	o11 := src.PixOffset(b.Min.X+x1, b.Min.Y+y1)
	var out [3]float32
	for c := range 3 {
		top := float32(src.Pix[o00+c])*(1-fx) + float32(src.Pix[o10+c])*fx
		bot := float32(src.Pix[o01+c])*(1-fx) + float32(src.Pix[o11+c])*fx
		out[c] = top*(1-fy) + bot*fy
	}
	return out[0], out[1], out[2]
}
