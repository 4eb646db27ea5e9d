package testutil

import (
	"image"
	"image/color"
	"math"
)

// SceneConfig describes a synthetic four-camera rig looking at a textured
// floor plane. The cameras share one centre and differ only in rotation.
type SceneConfig struct {
	Size  image.Point
	Focal float64
	// Yaw and Pitch are the magnitudes of the per-camera rotation in radians.
	// Camera 0 looks up-left, 1 up-right, 2 down-left and 3 down-right.
	Yaw, Pitch float64
	// TexelsPerUnit is the texture resolution on the plane at distance 1.
	TexelsPerUnit float64
	Block         int
	Seed          uint64
}

// DefaultSceneConfig returns a rig with strong pairwise overlap.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		Size:          image.Pt(320, 240),
		Focal:         300,
		Yaw:           0.18,
		Pitch:         0.14,
		TexelsPerUnit: 500,
		Block:         16,
		Seed:          7,
	}
}

// Scene is a rendered rig together with its ground truth.
type Scene struct {
	Config    SceneConfig
	Texture   *image.NRGBA
	Rotations [4][9]float64
	Images    []image.Image
}

// Rotation returns Ry(yaw) * Rx(pitch), row-major, mapping camera rays to the
// plane frame.
func Rotation(yaw, pitch float64) [9]float64 {
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	ry := [9]float64{cy, 0, sy, 0, 1, 0, -sy, 0, cy}
	rx := [9]float64{1, 0, 0, 0, cp, -sp, 0, sp, cp}
	var out [9]float64
	for r := range 3 {
		for c := range 3 {
			for k := range 3 {
				out[3*r+c] += ry[3*r+k] * rx[3*k+c]
			}
		}
	}
	return out
}

func (c SceneConfig) rotations() [4][9]float64 {
	return [4][9]float64{
		Rotation(-c.Yaw, c.Pitch),
		Rotation(c.Yaw, c.Pitch),
		Rotation(-c.Yaw, -c.Pitch),
		Rotation(c.Yaw, -c.Pitch),
	}
}

// planePoint intersects the ray through pixel (u, v) with the plane z = 1.
func (c SceneConfig) planePoint(r [9]float64, u, v float64) (float64, float64, bool) {
	x := (u - float64(c.Size.X)/2) / c.Focal
	y := (v - float64(c.Size.Y)/2) / c.Focal
	wx := r[0]*x + r[1]*y + r[2]
	wy := r[3]*x + r[4]*y + r[5]
	wz := r[6]*x + r[7]*y + r[8]
	if wz <= 1e-9 {
		return 0, 0, false
	}
	return wx / wz, wy / wz, true
}

// RenderScene renders the four camera views of cfg.
func RenderScene(cfg SceneConfig) *Scene {
	rots := cfg.rotations()

	var extent float64
	for _, r := range rots {
		for _, p := range [][2]float64{{0, 0}, {float64(cfg.Size.X), 0}, {0, float64(cfg.Size.Y)}, {float64(cfg.Size.X), float64(cfg.Size.Y)}} {
			if x, y, ok := cfg.planePoint(r, p[0], p[1]); ok {
				extent = math.Max(extent, math.Max(math.Abs(x), math.Abs(y)))
			}
		}
	}
	side := int(math.Ceil(2*1.1*extent*cfg.TexelsPerUnit)) + 1
	tex := ArenaTexture(side, side, cfg.Block, cfg.Seed)

	scene := &Scene{Config: cfg, Texture: tex, Rotations: rots}
	for _, r := range rots {
		scene.Images = append(scene.Images, cfg.render(r, tex))
	}
	return scene
}

func (c SceneConfig) render(r [9]float64, tex *image.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, c.Size.X, c.Size.Y))
	half := float64(tex.Bounds().Dx()) / 2
	for v := range c.Size.Y {
		for u := range c.Size.X {
			px := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
			if x, y, ok := c.planePoint(r, float64(u)+0.5, float64(v)+0.5); ok {
				px = sampleTexture(tex, x*c.TexelsPerUnit+half, y*c.TexelsPerUnit+half)
			}
			img.SetNRGBA(u, v, px)
		}
	}
	return img
}

func sampleTexture(tex *image.NRGBA, x, y float64) color.NRGBA {
	w, h := tex.Bounds().Dx(), tex.Bounds().Dy()
	x, y = x-0.5, y-0.5
	if x < 0 || y < 0 || x >= float64(w-1) || y >= float64(h-1) {
		return color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	}
	x0, y0 := int(x), int(y)
	fx, fy := x-float64(x0), y-float64(y0)
	var out [4]float64
	for _, s := range [4]struct {
		dx, dy int
		w      float64
	}{{0, 0, (1 - fx) * (1 - fy)}, {1, 0, fx * (1 - fy)}, {0, 1, (1 - fx) * fy}, {1, 1, fx * fy}} {
		p := tex.Pix[tex.PixOffset(x0+s.dx, y0+s.dy):]
		for c := range 4 {
			out[c] += s.w * float64(p[c])
		}
	}
	return color.NRGBA{R: uint8(out[0] + 0.5), G: uint8(out[1] + 0.5), B: uint8(out[2] + 0.5), A: uint8(out[3] + 0.5)}
}
