//go:build !features_gocv

package features

func newGocvFinder(_ Options) (Finder, error) { return nil, ErrNoBackend }
