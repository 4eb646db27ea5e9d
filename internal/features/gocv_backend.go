//go:build features_gocv

package features

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// newGocvFinder returns the OpenCV ORB finder when the build tag is enabled.
func newGocvFinder(opts Options) (Finder, error) { return &orbFinder{opts: opts}, nil }

type orbFinder struct {
	opts Options
}

func (f *orbFinder) Find(ctx context.Context, img image.Image) ([]Keypoint, []Descriptor, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, nil, fmt.Errorf("convert image: %w", err)
	}
	defer func() { _ = src.Close() }()

	gray := gocv.NewMat()
	defer func() { _ = gray.Close() }()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)

	maxFeatures := f.opts.MaxKeypoints
	if maxFeatures <= 0 {
		maxFeatures = 5000
	}
	orb := gocv.NewORBWithParams(maxFeatures, 1.2, 8, f.opts.PatchSize, 0, 2,
		gocv.ORBScoreTypeHarris, f.opts.PatchSize, f.opts.Threshold)
	defer func() { _ = orb.Close() }()

	mask := gocv.NewMat()
	defer func() { _ = mask.Close() }()
	cvKps, desc := orb.DetectAndCompute(gray, mask)
	defer func() { _ = desc.Close() }()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	kps := make([]Keypoint, len(cvKps))
	descs := make([]Descriptor, len(cvKps))
	for i, kp := range cvKps {
		kps[i] = Keypoint{X: kp.X, Y: kp.Y, Response: kp.Response}
		for b := 0; b < 32 && b < desc.Cols(); b++ {
			v := uint64(desc.GetUCharAt(i, b))
			descs[i][b/8] |= v << (uint(b%8) * 8)
		}
	}
	return kps, descs, nil
}
