package session

import (
	"errors"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/compose"
	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/square"
)

var (
	// ErrNoImages is returned by operations that need loaded images.
	ErrNoImages = errors.New("session: no calibration images loaded")
	// ErrNotMatched is returned when stitching before a successful match.
	ErrNotMatched = errors.New("session: images have not been matched")
	// ErrNoPanorama is returned when no usable panorama is available.
	ErrNoPanorama = errors.New("session: no usable panorama")
	// ErrNotSquared is returned when panning or saving before squaring.
	ErrNotSquared = errors.New("session: arena has not been squared")
	// ErrCancelTimeout is returned when a previous stitch did not stop within
	// the cancel grace period. The new request is refused.
	ErrCancelTimeout = errors.New("session: previous stitch did not stop in time")
	// ErrSuperseded is returned when the inputs changed while a stage was running.
	ErrSuperseded = errors.New("session: inputs changed while working")
	// ErrNoStitch is returned by Wait when no stitch was started.
	ErrNoStitch = errors.New("session: no stitch in progress")
)

// Recoverable reports whether err is a classified workflow error after which
// the session can simply continue.
func Recoverable(err error) bool {
	var inputErr *features.InputError
	switch {
	case err == nil:
		return true
	case errors.As(err, &inputErr),
		errors.Is(err, camera.ErrNotConnected),
		errors.Is(err, camera.ErrNotEnoughInliers),
		errors.Is(err, ErrCancelTimeout),
		errors.Is(err, compose.ErrDegenerateWarp),
		errors.Is(err, square.ErrAmbiguousCorners),
		errors.Is(err, square.ErrNeedFourCorners),
		errors.Is(err, square.ErrTooManyCorners),
		errors.Is(err, ErrNoImages),
		errors.Is(err, ErrNotMatched),
		errors.Is(err, ErrNoPanorama),
		errors.Is(err, ErrNotSquared),
		errors.Is(err, ErrSuperseded):
		return true
	default:
		return false
	}
}
