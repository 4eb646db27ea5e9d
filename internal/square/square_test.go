package square

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var arenaCorners = []utils.Point{{X: 100, Y: 100}, {X: 900, Y: 100}, {X: 100, Y: 900}, {X: 900, Y: 900}}

func permutations(pts []utils.Point) [][]utils.Point {
	if len(pts) <= 1 {
		return [][]utils.Point{append([]utils.Point(nil), pts...)}
	}
	var out [][]utils.Point
	for i := range pts {
		rest := append(append([]utils.Point(nil), pts[:i]...), pts[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]utils.Point{pts[i]}, p...))
		}
	}
	return out
}

func TestClassify_IndependentOfClickOrder(t *testing.T) {
	perms := permutations(arenaCorners)
	require.Len(t, perms, 24)
	for _, order := range perms {
		quad, err := Classify(order, image.Pt(1000, 1000))
		require.NoError(t, err)
		assert.Equal(t, utils.Point{X: 100, Y: 100}, quad[TopLeft])
		assert.Equal(t, utils.Point{X: 900, Y: 100}, quad[TopRight])
		assert.Equal(t, utils.Point{X: 100, Y: 900}, quad[BottomLeft])
		assert.Equal(t, utils.Point{X: 900, Y: 900}, quad[BottomRight])
	}
}

func TestClassify_Ambiguous(t *testing.T) {
	tests := []struct {
		name    string
		corners []utils.Point
	}{
		{"two top-left", []utils.Point{{X: 100, Y: 100}, {X: 200, Y: 200}, {X: 100, Y: 900}, {X: 900, Y: 900}}},
		{"on vertical midpoint", []utils.Point{{X: 500, Y: 100}, {X: 900, Y: 100}, {X: 100, Y: 900}, {X: 900, Y: 900}}},
		{"on horizontal midpoint", []utils.Point{{X: 100, Y: 500}, {X: 900, Y: 100}, {X: 100, Y: 900}, {X: 900, Y: 900}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.corners, image.Pt(1000, 1000))
			require.ErrorIs(t, err, ErrAmbiguousCorners)
		})
	}

	_, err := Classify(arenaCorners[:3], image.Pt(1000, 1000))
	require.ErrorIs(t, err, ErrNeedFourCorners)
}

func TestCornerList(t *testing.T) {
	var c CornerList
	assert.False(t, c.RemoveLast())
	for _, p := range arenaCorners {
		require.NoError(t, c.Add(p))
	}
	assert.True(t, c.Complete())
	require.ErrorIs(t, c.Add(utils.Point{X: 1, Y: 1}), ErrTooManyCorners)
	assert.Equal(t, 4, c.Len())

	pts := c.Points()
	pts[0].X = -1
	assert.Equal(t, arenaCorners, c.Points(), "Points returns a copy")

	c.Reset()
	assert.Zero(t, c.Len())
}

func TestRescale(t *testing.T) {
	got := Rescale([]utils.Point{{X: 300, Y: 150}}, image.Pt(600, 600), image.Pt(1536, 1536))
	assert.InDelta(t, 768, got[0].X, 1e-9)
	assert.InDelta(t, 384, got[0].Y, 1e-9)
}

// arenaImage draws a white rectangle with a red and a blue quarter on gray.
func arenaImage(w, h int, arena image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.NRGBA{R: 60, G: 60, B: 60, A: 255}
			if image.Pt(x, y).In(arena) {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
				midX := (arena.Min.X + arena.Max.X) / 2
				midY := (arena.Min.Y + arena.Max.Y) / 2
				switch {
				case x < midX && y < midY:
					c = color.NRGBA{R: 255, A: 255}
				case x >= midX && y >= midY:
					c = color.NRGBA{B: 255, A: 255}
				}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestSquare_MapsArenaToSquare(t *testing.T) {
	arena := image.Rect(40, 60, 360, 280)
	full := arenaImage(400, 320, arena)
	display := image.Pt(400, 320)
	corners := []utils.Point{
		{X: 360, Y: 280}, {X: 40, Y: 60}, {X: 360, Y: 60}, {X: 40, Y: 280},
	}

	res, err := Square(context.Background(), full, display, corners, 200)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(200, 200), res.Image.Bounds().Size())
	assert.Equal(t, utils.Point{X: 40, Y: 60}, res.Quad[TopLeft])
	assert.Equal(t, utils.Point{X: 360, Y: 280}, res.Quad[BottomRight])

	assert.Equal(t, color.NRGBA{R: 255, A: 255}, res.Image.NRGBAAt(50, 50))
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, res.Image.NRGBAAt(150, 150))
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, res.Image.NRGBAAt(150, 50))
}

func TestSquare_AlwaysDefaultSide(t *testing.T) {
	for _, size := range []image.Point{{200, 150}, {1536, 1536}} {
		full := image.NewNRGBA(image.Rectangle{Max: size})
		corners := []utils.Point{{X: 10, Y: 10}, {X: 590, Y: 10}, {X: 10, Y: 590}, {X: 590, Y: 590}}
		res, err := Square(context.Background(), full, image.Pt(600, 600), corners, 0)
		require.NoError(t, err)
		assert.Equal(t, image.Pt(DefaultSide, DefaultSide), res.Image.Bounds().Size())
	}
}

func TestSquare_Errors(t *testing.T) {
	full := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	_, err := Square(context.Background(), full, image.Pt(100, 100), arenaCorners[:2], 50)
	require.ErrorIs(t, err, ErrNeedFourCorners)

	dup := []utils.Point{{X: 10, Y: 10}, {X: 20, Y: 20}, {X: 10, Y: 90}, {X: 90, Y: 90}}
	_, err = Square(context.Background(), full, image.Pt(100, 100), dup, 50)
	require.ErrorIs(t, err, ErrAmbiguousCorners)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := []utils.Point{{X: 10, Y: 10}, {X: 90, Y: 10}, {X: 10, Y: 90}, {X: 90, Y: 90}}
	_, err = Square(ctx, full, image.Pt(100, 100), ok, 50)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPanWindow(t *testing.T) {
	full := image.Pt(2000, 2000)
	win := PanWindow(full, utils.Point{X: 300, Y: 300}, image.Pt(600, 600), image.Pt(600, 600))
	assert.Equal(t, image.Rect(700, 700, 1300, 1300), win)

	win = PanWindow(image.Pt(400, 2000), utils.Point{X: 300, Y: 0}, image.Pt(600, 600), image.Pt(600, 600))
	assert.Equal(t, image.Rect(0, 0, 400, 600), win, "narrow image shrinks the window")
}

func TestPanCrop(t *testing.T) {
	img := arenaImage(2000, 2000, image.Rect(0, 0, 1000, 1000))
	crop := PanCrop(img, utils.Point{X: -50, Y: -50}, image.Pt(600, 600), image.Pt(600, 600))
	assert.Equal(t, image.Pt(600, 600), crop.Bounds().Size())
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, crop.NRGBAAt(0, 0))
}

func TestOverlay(t *testing.T) {
	preview := image.NewNRGBA(image.Rect(0, 0, 60, 60))
	out := Overlay(preview, []utils.Point{{X: 30, Y: 30}})
	assert.Equal(t, preview.Bounds(), out.Bounds())

	found := false
	for y := 25; y <= 35 && !found; y++ {
		for x := 25; x <= 35; x++ {
			_, g, _, _ := out.At(x, y).RGBA()
			if g > 0 {
				found = true
				break
			}
		}
	}
	assert.True(t, found)

	sq := Preview(image.NewNRGBA(image.Rect(0, 0, 2000, 2000)), image.Pt(600, 600))
	assert.Equal(t, image.Pt(600, 600), sq.Bounds().Size())
}
