package compose

import (
	"image"

	"github.com/MeKo-Tech/arenacal/internal/mempool"
)

const weightEps = 1e-5

// FeatherBlender averages overlapping layers weighted by the distance of each
// pixel to the edge of its own mask.
type FeatherBlender struct {
	Sharpness float32
}

// Blend composites the layers onto their union rectangle. Pixels no layer
// covers are black.
func (f FeatherBlender) Blend(layers []*Layer) (*image.NRGBA, image.Rectangle) {
	var roi image.Rectangle
	for _, l := range layers {
		roi = roi.Union(l.Rect())
	}
	w, h := roi.Dx(), roi.Dy()

	acc := mempool.GetFloat32Zeroed(3 * w * h)
	wsum := mempool.GetFloat32Zeroed(w * h)
	defer mempool.PutFloat32(acc)
	defer mempool.PutFloat32(wsum)

	for _, l := range layers {
		weight := mempool.GetFloat32(l.Width * l.Height)
		featherWeights(l.Mask, l.Width, l.Height, f.Sharpness, weight)
		ox, oy := l.Corner.X-roi.Min.X, l.Corner.Y-roi.Min.Y
		for y := range l.Height {
			for x := range l.Width {
				i := y*l.Width + x
				wt := weight[i]
				if wt == 0 {
					continue
				}
				o := (y+oy)*w + x + ox
				acc[3*o] += l.Pix[3*i] * wt
				acc[3*o+1] += l.Pix[3*i+1] * wt
				acc[3*o+2] += l.Pix[3*i+2] * wt
				wsum[o] += wt
			}
		}
		mempool.PutFloat32(weight)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for o := range w * h {
		p := out.Pix[4*o : 4*o+4]
		p[3] = 255
		if wsum[o] <= weightEps {
			continue
		}
		norm := wsum[o] + weightEps
		p[0] = clampByte(acc[3*o] / norm)
		p[1] = clampByte(acc[3*o+1] / norm)
		p[2] = clampByte(acc[3*o+2] / norm)
	}
	return out, roi
}

// featherWeights writes min(sharpness * L1 distance to the mask edge, 1) into
// weight. Pixels outside the layer count as unmasked.
func featherWeights(mask []bool, w, h int, sharpness float32, weight []float32) {
	distanceL1(mask, w, h, weight)
	for i, d := range weight {
		weight[i] = min(d*sharpness, 1)
	}
}

// distanceL1 computes the city-block distance of every masked pixel to the
// nearest unmasked pixel with the two-pass chamfer algorithm.
func distanceL1(mask []bool, w, h int, dist []float32) {
	at := func(x, y int) float32 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return dist[y*w+x]
	}
	for y := range h {
		for x := range w {
			i := y*w + x
			if !mask[i] {
				dist[i] = 0
				continue
			}
			dist[i] = min(at(x-1, y), at(x, y-1)) + 1
		}
	}
	for y := h - 1; y >= 0; y-- {
		for x := w - 1; x >= 0; x-- {
			i := y*w + x
			if mask[i] {
				dist[i] = min(dist[i], min(at(x+1, y), at(x, y+1))+1)
			}
		}
	}
}

func clampByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
