package utils

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedImage(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"a.jpg", true},
		{"b.jpeg", true},
		{"c.png", true},
		{"d.bmp", true},
		{"e.tiff", false},
		{"f.gif", false},
	}
	for _, c := range cases {
		if IsSupportedImage(c.path) != c.ok {
			t.Fatalf("IsSupportedImage(%s) expected %v", c.path, c.ok)
		}
	}
}

func writeTempPNG(t *testing.T, dir, name string, w, h int, col color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, col)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestLoadImageAndMetadata(t *testing.T) {
	dir := t.TempDir()
	p := writeTempPNG(t, dir, "cam0.png", 10, 20, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	img, meta, err := LoadImage(p)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, image.Pt(10, 20), meta.Size)
	assert.Positive(t, meta.Bytes)
	assert.Equal(t, p, meta.Path)
}

func TestLoadImage_Errors(t *testing.T) {
	_, _, err := LoadImage("")
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "load", ipe.Operation)

	_, _, err = LoadImage("frame.tiff")
	require.Error(t, err)

	_, _, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
}

func TestLoadImages_KeepsOrder(t *testing.T) {
	dir := t.TempDir()
	a := writeTempPNG(t, dir, "a.png", 4, 4, color.White)
	b := writeTempPNG(t, dir, "b.png", 6, 4, color.Black)

	imgs, err := LoadImages([]string{a, b})
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, 4, imgs[0].Bounds().Dx())
	assert.Equal(t, 6, imgs[1].Bounds().Dx())

	_, err = LoadImages([]string{a, filepath.Join(dir, "nope.png")})
	assert.ErrorContains(t, err, "image 1")
}

func TestSaveImage_RoundTripJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	path := filepath.Join(t.TempDir(), "out", "cam.jpg")
	require.NoError(t, SaveImage(img, path))

	loaded, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", meta.Format)
	assert.Equal(t, img.Bounds().Size(), loaded.Bounds().Size())

	assert.Error(t, SaveImage(nil, path))
}

func TestScalePoints(t *testing.T) {
	pts := ScalePoints([]Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, 2, 0.5)
	assert.Equal(t, []Point{{X: 2, Y: 1}, {X: 6, Y: 2}}, pts)
	assert.InDelta(t, 5.0, Point{}.Dist(Point{X: 3, Y: 4}), 1e-12)
}
