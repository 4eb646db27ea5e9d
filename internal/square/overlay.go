package square

import (
	"image"

	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/fogleman/gg"
)

// Overlay draws the picked corners as green circles on a copy of preview.
func Overlay(preview image.Image, corners []utils.Point) image.Image {
	dc := gg.NewContextForImage(preview)
	dc.SetRGB255(0, 255, 0)
	dc.SetLineWidth(1.5)
	for _, p := range corners {
		dc.DrawCircle(p.X, p.Y, 3)
		dc.Stroke()
	}
	return dc.Image()
}
