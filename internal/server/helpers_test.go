package server

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/MeKo-Tech/arenacal/internal/compose"
	"github.com/MeKo-Tech/arenacal/internal/session"
	"github.com/MeKo-Tech/arenacal/internal/square"
	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/MeKo-Tech/arenacal/internal/utils"
)

// mockSession is a scripted sessionInterface for handler tests.
type mockSession struct {
	mu sync.Mutex

	snapshot session.Snapshot

	loaded     []image.Image
	loadedPath []string
	loadErr    error

	matchThreshold, matchSlider int
	matchCalls                  int
	matchErr                    error

	stitchErr error

	addErr      error
	addAccepted bool
	removed     bool

	squareErr error

	panFocus utils.Point
	panErr   error

	savedPath string
	saveErr   error

	previews []image.Image
	pano     image.Image
	squared  image.Image
}

func newMockSession() *mockSession {
	return &mockSession{
		snapshot:    session.Snapshot{ID: "test-session", State: session.StateEmpty},
		addAccepted: true,
	}
}

func (m *mockSession) Snapshot() session.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *mockSession) LoadImages(images []image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return m.loadErr
	}
	m.loaded = images
	m.snapshot.State = session.StateImagesLoaded
	m.snapshot.Images = len(images)
	return nil
}

func (m *mockSession) LoadImageFiles(paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadedPath = paths
	return m.loadErr
}

func (m *mockSession) ExtractAndMatch(_ context.Context, detectorThreshold, slider int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchCalls++
	m.matchThreshold, m.matchSlider = detectorThreshold, slider
	if m.matchErr == nil {
		m.snapshot.State = session.StateMatched
	}
	return m.matchErr
}

func (m *mockSession) Stitch(context.Context) (*session.StitchHandle, error) {
	if m.stitchErr == nil {
		return nil, session.ErrNotMatched
	}
	return nil, m.stitchErr
}

func (m *mockSession) Wait(context.Context) (*compose.Panorama, error) {
	return nil, session.ErrNoStitch
}

func (m *mockSession) AddCorner(p utils.Point) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return false, m.addErr
	}
	if m.addAccepted {
		m.snapshot.Corners = append(m.snapshot.Corners, p)
		m.snapshot.State = session.StateCornersPicked
	}
	return m.addAccepted, nil
}

func (m *mockSession) RemoveLastCorner() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.snapshot.Corners); n > 0 {
		m.snapshot.Corners = m.snapshot.Corners[:n-1]
		return true
	}
	return m.removed
}

func (m *mockSession) Square(context.Context) (*square.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.squareErr != nil {
		return nil, m.squareErr
	}
	m.snapshot.Squared = true
	m.snapshot.State = session.StateSquared
	return &square.Result{Image: image.NewNRGBA(image.Rect(0, 0, 8, 8))}, nil
}

func (m *mockSession) Pan(focus utils.Point) (*image.NRGBA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panFocus = focus
	if m.panErr != nil {
		return nil, m.panErr
	}
	return image.NewNRGBA(image.Rect(0, 0, 6, 6)), nil
}

func (m *mockSession) Save(_ context.Context, path string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.savedPath = path
	return &store.Record{Metadata: store.Metadata{SessionID: m.snapshot.ID}}, nil
}

func (m *mockSession) ImagePreview(i int) (image.Image, bool) {
	if i < len(m.previews) {
		return m.previews[i], true
	}
	return nil, false
}

func (m *mockSession) KeypointPreviews() []image.Image { return nil }
func (m *mockSession) MatchPreviews() []image.Image    { return m.previews }

func (m *mockSession) PanoramaPreview() (image.Image, bool) { return m.pano, m.pano != nil }
func (m *mockSession) SquaredPreview() (image.Image, bool)  { return m.squared, m.squared != nil }

// newTestServer wires a server around sess and returns its routes.
func newTestServer(sess sessionInterface, cfg Config) (*Server, http.Handler) {
	if cfg.MaxUploadMB == 0 {
		cfg.MaxUploadMB = 10
	}
	if cfg.TimeoutSec == 0 {
		cfg.TimeoutSec = 30
	}
	s := NewServer(cfg, sess, nil)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return s, mux
}

// createTestImage creates a simple test image with a gradient.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / width),  //nolint:gosec // G115: Safe conversion for test image
				G: uint8((y * 255) / height), //nolint:gosec // G115: Safe conversion for test image
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// encodeImageToPNG encodes an image to PNG bytes.
func encodeImageToPNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	return buf.Bytes(), err
}

// createMultipartImagesRequest builds a multipart upload with one part per
// entry of files, all under field unless field is empty, in which case
// image0..imageN are used.
func createMultipartImagesRequest(url, field string, files [][]byte) (*http.Request, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for i, data := range files {
		name := field
		if name == "" {
			name = fmt.Sprintf("image%d", i)
		}
		part, err := writer.CreateFormFile(name, fmt.Sprintf("cam%d.png", i))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}
