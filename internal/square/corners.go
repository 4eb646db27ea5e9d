// Package square maps four picked arena corners onto an axis-aligned square.
package square

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/arenacal/internal/utils"
)

// MaxCorners is the number of arena corners a squaring needs.
const MaxCorners = 4

// Corner roles in the order they are persisted.
const (
	TopLeft = iota
	TopRight
	BottomLeft
	BottomRight
)

var (
	// ErrTooManyCorners is returned when a fifth corner is added.
	ErrTooManyCorners = errors.New("square: four corners already picked")
	// ErrNeedFourCorners is returned when squaring with fewer than four corners.
	ErrNeedFourCorners = errors.New("square: exactly four corners are needed")
	// ErrAmbiguousCorners is returned when two corners fall into the same
	// quadrant or a corner lies on a midpoint.
	ErrAmbiguousCorners = errors.New("square: ambiguous corner roles")
)

// CornerList holds the picked corners in click order.
type CornerList struct {
	pts []utils.Point
}

// Add appends p. A fifth corner is rejected.
func (c *CornerList) Add(p utils.Point) error {
	if len(c.pts) >= MaxCorners {
		return ErrTooManyCorners
	}
	c.pts = append(c.pts, p)
	return nil
}

// RemoveLast drops the most recent corner and reports whether one was removed.
func (c *CornerList) RemoveLast() bool {
	if len(c.pts) == 0 {
		return false
	}
	c.pts = c.pts[:len(c.pts)-1]
	return true
}

// Points returns a copy of the corners.
func (c *CornerList) Points() []utils.Point {
	return append([]utils.Point(nil), c.pts...)
}

// Len returns the number of corners.
func (c *CornerList) Len() int { return len(c.pts) }

// Complete reports whether four corners are present.
func (c *CornerList) Complete() bool { return len(c.pts) == MaxCorners }

// Reset removes all corners.
func (c *CornerList) Reset() { c.pts = c.pts[:0] }

// Rescale maps corners picked on a display of size display into an image of size full.
func Rescale(corners []utils.Point, display, full image.Point) []utils.Point {
	if display.X <= 0 || display.Y <= 0 {
		return append([]utils.Point(nil), corners...)
	}
	return utils.ScalePoints(corners,
		float64(full.X)/float64(display.X),
		float64(full.Y)/float64(display.Y))
}

// Classify assigns each corner a role from its position relative to the image
// midpoints. The result is indexed by TopLeft, TopRight, BottomLeft, BottomRight.
func Classify(corners []utils.Point, size image.Point) ([4]utils.Point, error) {
	var out [4]utils.Point
	if len(corners) != MaxCorners {
		return out, ErrNeedFourCorners
	}
	midX, midY := float64(size.X)/2, float64(size.Y)/2

	var seen [4]bool
	for _, p := range corners {
		if p.X == midX || p.Y == midY {
			return out, fmt.Errorf("%w: corner (%.1f, %.1f) lies on a midpoint", ErrAmbiguousCorners, p.X, p.Y)
		}
		role := TopLeft
		if p.X > midX {
			role++
		}
		if p.Y > midY {
			role += 2
		}
		if seen[role] {
			return out, fmt.Errorf("%w: two corners in the %s quadrant", ErrAmbiguousCorners, roleName(role))
		}
		seen[role] = true
		out[role] = p
	}
	return out, nil
}

func roleName(role int) string {
	switch role {
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	case BottomLeft:
		return "bottom-left"
	default:
		return "bottom-right"
	}
}
