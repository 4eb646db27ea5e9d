package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ArenaTexture renders a deterministic textured floor: random gray blocks of
// side block with a grid of text labels on top. Every block edge and glyph
// gives the feature detector corners to find.
func ArenaTexture(width, height, block int, seed uint64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	if block <= 0 {
		block = 16
	}
	state := seed*6364136223846793005 + 1442695040888963407
	next := func() uint8 {
		state = state*6364136223846793005 + 1442695040888963407
		return uint8(state >> 56)
	}
	for by := 0; by < height; by += block {
		for bx := 0; bx < width; bx += block {
			v := next()
			c := color.NRGBA{R: v, G: v / 2, B: 255 - v, A: 255}
			draw.Draw(img, image.Rect(bx, by, bx+block, by+block), &image.Uniform{c}, image.Point{}, draw.Src)
		}
	}

	drawer := &font.Drawer{Dst: img, Src: image.White, Face: basicfont.Face7x13}
	label := 0
	for y := 4 * block; y < height; y += 6 * block {
		for x := 2 * block; x < width; x += 7 * block {
			drawer.Dot = fixed.P(x, y)
			drawer.DrawString(labelText(label))
			label++
		}
	}
	return img
}

func labelText(i int) string {
	return string(rune('A'+i%26)) + string(rune('0'+(i/26)%10))
}

// SaveImage writes img as PNG to path, creating directories as needed.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))
	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// CompareImages reports whether the mean per-pixel RGBA difference of two
// equally sized images, relative to the maximum possible, is within tolerance.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	b := img1.Bounds()
	if b != img2.Bounds() || b.Empty() {
		return false
	}

	var total float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r1, g1, b1, a1 := img1.At(x, y).RGBA()
			r2, g2, b2, a2 := img2.At(x, y).RGBA()
			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			da := float64(a1) - float64(a2)
			total += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
		}
	}
	avg := total / float64(b.Dx()*b.Dy())
	return avg/math.Sqrt(4*65535*65535) <= tolerance
}
