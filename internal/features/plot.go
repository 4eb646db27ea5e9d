package features

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

// PlotKeypoints scales img to the preview size and marks every keypoint of set.
func PlotKeypoints(img image.Image, set FeatureSet, preview image.Point) image.Image {
	small := imaging.Resize(img, preview.X, preview.Y, imaging.Linear)
	if set.Size.X == 0 || set.Size.Y == 0 {
		return small
	}
	rx := float64(preview.X) / float64(set.Size.X)
	ry := float64(preview.Y) / float64(set.Size.Y)

	dc := gg.NewContextForImage(small)
	dc.SetRGB255(0, 0, 100)
	dc.SetLineWidth(1)
	for _, kp := range set.Keypoints {
		dc.DrawCircle(kp.X*rx, kp.Y*ry, 1)
	}
	dc.Stroke()
	return dc.Image()
}
