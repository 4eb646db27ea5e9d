package square

import (
	"image"
	"testing"

	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCornerList_RemoveThenAddRestores(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("remove last then add same point restores the list", prop.ForAll(
		func(xs, ys []float64) bool {
			var c CornerList
			for i := range MaxCorners {
				if c.Add(utils.Point{X: xs[i], Y: ys[i]}) != nil {
					return false
				}
			}
			before := c.Points()
			last := before[len(before)-1]
			if !c.RemoveLast() || c.Add(last) != nil {
				return false
			}
			after := c.Points()
			for i := range before {
				if before[i] != after[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.Float64Range(0, 600)),
		gen.SliceOfN(4, gen.Float64Range(0, 600)),
	))

	properties.TestingRun(t)
}

func TestPanWindow_StaysInside(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	full := image.Pt(2000, 2000)
	display := image.Pt(600, 600)
	view := image.Pt(600, 600)
	bounds := image.Rectangle{Max: full}

	properties.Property("window is inside and of the preview size", prop.ForAll(
		func(fx, fy float64) bool {
			win := PanWindow(full, utils.Point{X: fx, Y: fy}, display, view)
			return win.In(bounds) && win.Size() == view
		},
		gen.Float64Range(-5000, 5000),
		gen.Float64Range(-5000, 5000),
	))

	properties.TestingRun(t)
}
