package matcher

import (
	"image"
	"image/draw"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// pairColor picks a distinct hue for the k-th image pair.
func pairColor(k int) colorful.Color {
	return colorful.Hsv(float64(k*67%360), 0.9, 0.95)
}

// PlotMatches draws the inlier matches of every pair onto the preview images,
// one colour per pair. Only the Src < Dst direction is drawn. Previews are not
// modified; annotated copies are returned in the same order.
func PlotMatches(previews []image.Image, sets []features.FeatureSet, matches []PairwiseMatch) []image.Image {
	ctxs := make([]*gg.Context, len(previews))
	scale := make([][2]float64, len(previews))
	for i, p := range previews {
		rgba := image.NewRGBA(p.Bounds())
		draw.Draw(rgba, rgba.Bounds(), p, p.Bounds().Min, draw.Src)
		ctxs[i] = gg.NewContextForRGBA(rgba)
		if i < len(sets) && sets[i].Size.X > 0 && sets[i].Size.Y > 0 {
			scale[i] = [2]float64{
				float64(p.Bounds().Dx()) / float64(sets[i].Size.X),
				float64(p.Bounds().Dy()) / float64(sets[i].Size.Y),
			}
		}
	}

	pair := 0
	for _, pm := range matches {
		if pm.Src >= pm.Dst || pm.Dst >= len(ctxs) || pm.Dst >= len(sets) {
			continue
		}
		col := pairColor(pair)
		pair++
		for _, m := range pm.Inliers() {
			circle(ctxs[pm.Src], sets[pm.Src].Keypoints[m.Query], scale[pm.Src], col)
			circle(ctxs[pm.Dst], sets[pm.Dst].Keypoints[m.Train], scale[pm.Dst], col)
		}
	}

	out := make([]image.Image, len(ctxs))
	for i, dc := range ctxs {
		out[i] = dc.Image()
	}
	return out
}

func circle(dc *gg.Context, kp features.Keypoint, s [2]float64, col colorful.Color) {
	dc.SetRGB(col.R, col.G, col.B)
	dc.DrawCircle(kp.X*s[0], kp.Y*s[1], 3)
	dc.Stroke()
}
