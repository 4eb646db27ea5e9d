package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ResizeExact resizes img to exactly width x height using Lanczos resampling.
// The aspect ratio is not preserved.
func ResizeExact(img image.Image, width, height int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if width <= 0 || height <= 0 {
		return nil, &ImageProcessingError{
			Operation: "resize",
			Err:       fmt.Errorf("invalid target dimensions: %dx%d", width, height),
		}
	}
	return imaging.Resize(img, width, height, imaging.Lanczos), nil
}

// Gray is a row-major float32 luminance plane in the 0-255 range.
type Gray struct {
	Pix    []float32
	Width  int
	Height int
}

// At returns the luminance at (x, y) with coordinates clamped to the plane.
func (g *Gray) At(x, y int) float32 {
	x = min(max(x, 0), g.Width-1)
	y = min(max(y, 0), g.Height-1)
	return g.Pix[y*g.Width+x]
}

// ToGray converts img into a luminance plane, optionally blurred with a
// Gaussian of the given sigma (sigma <= 0 disables smoothing).
func ToGray(img image.Image, sigma float64) *Gray {
	src := img
	if sigma > 0 {
		src = imaging.Blur(img, sigma)
	}
	b := src.Bounds()
	out := &Gray{Pix: make([]float32, b.Dx()*b.Dy()), Width: b.Dx(), Height: b.Dy()}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := (y - b.Min.Y) * out.Width
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.GrayModel.Convert(src.At(x, y)).(color.Gray) //nolint:forcetypeassert
			out.Pix[row+x-b.Min.X] = float32(c.Y)
		}
	}
	return out
}

// SameSize reports whether all images share identical pixel dimensions.
func SameSize(images []image.Image) bool {
	if len(images) == 0 {
		return true
	}
	first := images[0].Bounds().Size()
	for _, img := range images[1:] {
		if img.Bounds().Size() != first {
			return false
		}
	}
	return true
}
