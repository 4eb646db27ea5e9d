package square

import (
	"image"

	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/disintegration/imaging"
)

// PanWindow returns the view-sized window of an image of size full centred on
// focus, given in display coordinates. The window is shifted to lie inside the
// image and only shrinks when the image is smaller than the view.
func PanWindow(full image.Point, focus utils.Point, display, view image.Point) image.Rectangle {
	c := focus
	if display.X > 0 && display.Y > 0 {
		c = utils.ScalePoint(focus, float64(full.X)/float64(display.X), float64(full.Y)/float64(display.Y))
	}
	x0, w := panAxis(c.X, full.X, view.X)
	y0, h := panAxis(c.Y, full.Y, view.Y)
	return image.Rect(x0, y0, x0+w, y0+h)
}

func panAxis(centre float64, size, view int) (int, int) {
	if size <= view {
		return 0, max(size, 0)
	}
	start := int(centre) - view/2
	return max(0, min(start, size-view)), view
}

// PanCrop crops the PanWindow out of img.
func PanCrop(img image.Image, focus utils.Point, display, view image.Point) *image.NRGBA {
	b := img.Bounds()
	win := PanWindow(b.Size(), focus, display, view).Add(b.Min)
	return imaging.Crop(img, win)
}
