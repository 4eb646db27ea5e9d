package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// SupportedImageExtensions lists the camera still formats that can be loaded.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// DefaultJPEGQuality is the quality used when camera stills are written back to disk.
const DefaultJPEGQuality = 95

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// ImageMetadata describes a decoded camera still.
type ImageMetadata struct {
	Path   string
	Format string
	Size   image.Point
	Bytes  int64
}

func loadError(op string, err error) (image.Image, ImageMetadata, error) {
	return nil, ImageMetadata{}, &ImageProcessingError{Operation: op, Err: err}
}

// LoadImage decodes one still from disk.
func LoadImage(path string) (image.Image, ImageMetadata, error) {
	switch {
	case path == "":
		return loadError("load", errors.New("empty path"))
	case !IsSupportedImage(path):
		return loadError("load", fmt.Errorf("unsupported format: %s", filepath.Ext(path)))
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: stills are user-selected files
	if err != nil {
		return loadError("load", err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return loadError("decode", err)
	}
	return img, ImageMetadata{
		Path:   path,
		Format: format,
		Size:   img.Bounds().Size(),
		Bytes:  int64(len(data)),
	}, nil
}

// LoadImages loads every path in order and stops at the first failure.
func LoadImages(paths []string) ([]image.Image, error) {
	images := make([]image.Image, len(paths))
	for i, p := range paths {
		img, _, err := LoadImage(p)
		if err != nil {
			return nil, fmt.Errorf("image %d (%s): %w", i, p, err)
		}
		images[i] = img
	}
	return images, nil
}

// SaveImage encodes img to path, creating the parent directory. The format
// follows the file extension; JPEG stills use DefaultJPEGQuality.
func SaveImage(img image.Image, path string) error {
	if img == nil {
		return &ImageProcessingError{Operation: "save", Err: errors.New("input image is nil")}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return &ImageProcessingError{Operation: "save", Err: err}
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(DefaultJPEGQuality)); err != nil {
		return &ImageProcessingError{Operation: "save", Err: err}
	}
	return nil
}
