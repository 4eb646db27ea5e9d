package utils

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizeExact(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	got, err := ResizeExact(img, 1536, 1536)
	require.NoError(t, err)
	assert.Equal(t, 1536, got.Bounds().Dx())
	assert.Equal(t, 1536, got.Bounds().Dy())

	_, err = ResizeExact(nil, 10, 10)
	require.Error(t, err)
	_, err = ResizeExact(img, 0, 10)
	require.Error(t, err)
}

func TestToGray(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 0, color.White)

	g := ToGray(img, 0)
	require.Equal(t, 4, g.Width)
	require.Equal(t, 2, g.Height)
	assert.InDelta(t, 255, g.At(1, 0), 0.5)
	assert.InDelta(t, 0, g.At(0, 1), 0.5)
	// clamped access
	assert.Equal(t, g.At(0, 0), g.At(-5, -5))
	assert.Equal(t, g.At(3, 1), g.At(10, 10))
}

func TestSameSize(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 10, 10))
	b := image.NewGray(image.Rect(5, 5, 15, 15))
	c := image.NewRGBA(image.Rect(0, 0, 11, 10))
	assert.True(t, SameSize(nil))
	assert.True(t, SameSize([]image.Image{a, b}))
	assert.False(t, SameSize([]image.Image{a, b, c}))
}
