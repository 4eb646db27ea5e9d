package features

import (
	"errors"
	"fmt"
	"image"
	"math/bits"

	"github.com/MeKo-Tech/arenacal/internal/utils"
)

// RequiredImages is the number of camera stills every calibration run needs.
const RequiredImages = 4

// Keypoint is a detected corner in full-resolution pixel coordinates.
type Keypoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Response float64 `json:"response"`
}

// Descriptor is a 256-bit binary descriptor.
type Descriptor [4]uint64

// Distance returns the Hamming distance between two descriptors.
func (d Descriptor) Distance(o Descriptor) int {
	return bits.OnesCount64(d[0]^o[0]) + bits.OnesCount64(d[1]^o[1]) +
		bits.OnesCount64(d[2]^o[2]) + bits.OnesCount64(d[3]^o[3])
}

// FeatureSet holds the keypoints and descriptors found in one image.
type FeatureSet struct {
	ImageIndex  int          `json:"image_index"`
	Size        image.Point  `json:"size"`
	Keypoints   []Keypoint   `json:"keypoints"`
	Descriptors []Descriptor `json:"-"`
}

// Len returns the number of keypoints.
func (f FeatureSet) Len() int { return len(f.Keypoints) }

// InputError reports calibration input that fails validation before any work starts.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "invalid calibration input: " + e.Reason }

// ErrNoBackend is returned when a finder backend is requested that was not compiled in.
var ErrNoBackend = errors.New("features: backend not linked; build with -tags=features_gocv")

// ValidateImages checks the image count and that all images share one size.
func ValidateImages(images []image.Image) error {
	if len(images) != RequiredImages {
		return &InputError{Reason: fmt.Sprintf("need exactly %d images, got %d", RequiredImages, len(images))}
	}
	for i, img := range images {
		if img == nil {
			return &InputError{Reason: fmt.Sprintf("image %d is nil", i)}
		}
	}
	if !utils.SameSize(images) {
		sizes := make([]image.Point, len(images))
		for i, img := range images {
			sizes[i] = img.Bounds().Size()
		}
		return &InputError{Reason: fmt.Sprintf("images differ in size: %v", sizes)}
	}
	return nil
}
