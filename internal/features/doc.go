// Package features detects keypoints and computes binary descriptors for the
// four camera stills of a calibration run.
//
// The default finder is a pure Go FAST-9 detector with 256-bit BRIEF
// descriptors. An OpenCV ORB finder is available when building with the
// `features_gocv` tag:
//
//	go build -tags=features_gocv ./...
package features
