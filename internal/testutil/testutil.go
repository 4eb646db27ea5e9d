// Package testutil renders synthetic calibration scenes and provides file
// helpers for tests.
package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/disintegration/imaging"
)

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// WriteRig writes the scene's stills as cam0..cam3 with extension ext into
// dir and returns their paths in camera order.
func WriteRig(dir string, scene *Scene, ext string) ([]string, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}
	paths := make([]string, len(scene.Images))
	for i, img := range scene.Images {
		paths[i] = filepath.Join(dir, fmt.Sprintf("cam%d.%s", i, ext))
		if err := imaging.Save(img, paths[i], imaging.JPEGQuality(95)); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", paths[i], err)
		}
	}
	return paths, nil
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
