package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/arenacal/internal/server"
	"github.com/MeKo-Tech/arenacal/internal/session"
	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/cucumber/godog"
	"go.uber.org/multierr"
)

// CalibrationServer is an httptest server around a real session.
type CalibrationServer struct {
	HTTP       *httptest.Server
	API        *server.Server
	Session    *session.Session
	RecordPath string
}

// NewCalibrationServer starts a server writing records to recordPath.
func NewCalibrationServer(recordPath string, rateLimit int) *CalibrationServer {
	hub := server.NewHub()
	sess := session.New(session.DefaultConfig(), session.WithObserver(hub))
	api := server.NewServer(server.Config{
		CORSOrigin:        "*",
		MaxUploadMB:       20,
		TimeoutSec:        120,
		RecordPath:        recordPath,
		RateLimit:         rateLimit,
		DetectorThreshold: 10,
		MatchSlider:       60,
	}, sess, hub)
	mux := http.NewServeMux()
	api.SetupRoutes(mux)
	return &CalibrationServer{
		HTTP:       httptest.NewServer(mux),
		API:        api,
		Session:    sess,
		RecordPath: recordPath,
	}
}

// Close stops the HTTP server and releases the session.
func (s *CalibrationServer) Close() error {
	s.HTTP.Close()
	s.Session.Close()
	return s.API.Close()
}

func (testCtx *TestContext) aCalibrationServerIsRunning() error {
	return testCtx.startServer(0)
}

func (testCtx *TestContext) aCalibrationServerIsRunningWithRateLimit(limit int) error {
	return testCtx.startServer(limit)
}

func (testCtx *TestContext) startServer(rateLimit int) error {
	if testCtx.Server != nil {
		return fmt.Errorf("server already running at %s", testCtx.Server.HTTP.URL)
	}
	testCtx.Server = NewCalibrationServer(testCtx.TempPath("calibration.yaml"), rateLimit)
	return nil
}

func (testCtx *TestContext) do(req *http.Request) error {
	if testCtx.Server == nil {
		return fmt.Errorf("no calibration server is running")
	}
	resp, err := testCtx.Server.HTTP.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) request(method, path string, body io.Reader) error {
	if testCtx.Server == nil {
		return fmt.Errorf("no calibration server is running")
	}
	req, err := http.NewRequest(method, testCtx.Server.HTTP.URL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iGET(path string) error {
	return testCtx.request(http.MethodGet, path, nil)
}

func (testCtx *TestContext) iPOST(path string) error {
	return testCtx.request(http.MethodPost, path, nil)
}

func (testCtx *TestContext) iPOSTWithBody(path, body string) error {
	return testCtx.request(http.MethodPost, path, strings.NewReader(body))
}

func (testCtx *TestContext) iDELETE(path string) error {
	return testCtx.request(http.MethodDelete, path, nil)
}

// iUploadRigImages posts the first n rig images as one multipart request.
func (testCtx *TestContext) iUploadRigImages(n int) error {
	if n > len(testCtx.ImagePaths) {
		return fmt.Errorf("only %d rig images available", len(testCtx.ImagePaths))
	}
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, path := range testCtx.ImagePaths[:n] {
		data, err := os.ReadFile(path) //nolint:gosec // G304: rig images written by the scenario
		if err != nil {
			return err
		}
		part, err := writer.CreateFormFile("images", filepath.Base(path))
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, testCtx.Server.HTTP.URL+"/session/images", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) iUploadTheRigImages() error {
	return testCtx.iUploadRigImages(len(testCtx.ImagePaths))
}

// iPickTheArenaCorners picks corners near the preview's corners, in shuffled order.
func (testCtx *TestContext) iPickTheArenaCorners() error {
	for _, c := range [][2]int{{540, 540}, {60, 60}, {60, 540}, {540, 60}} {
		if err := testCtx.iPOSTWithBody("/session/corners", fmt.Sprintf(`{"x": %d, "y": %d}`, c[0], c[1])); err != nil {
			return err
		}
		if testCtx.LastHTTPStatusCode != http.StatusOK {
			return fmt.Errorf("corner (%d, %d) rejected with %d: %s", c[0], c[1], testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
		}
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !bytes.Contains(testCtx.LastHTTPResponse, []byte(text)) {
		return fmt.Errorf("response does not contain '%s'\nActual response: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != value {
		return fmt.Errorf("header %s is %q, want %q", name, got, value)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldBeAPNG(width, height int) error {
	img, err := png.Decode(bytes.NewReader(testCtx.LastHTTPResponse))
	if err != nil {
		return fmt.Errorf("response is not a PNG: %w", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(width, height) {
		return fmt.Errorf("PNG is %v, want %dx%d", got, width, height)
	}
	return nil
}

func (testCtx *TestContext) theSessionStateShouldBe(state string) error {
	if err := testCtx.iGET("/session"); err != nil {
		return err
	}
	var snap struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &snap); err != nil {
		return fmt.Errorf("invalid session response: %w", err)
	}
	if snap.State != state {
		return fmt.Errorf("session state is %q, want %q", snap.State, state)
	}
	return nil
}

func (testCtx *TestContext) theSavedRecordShouldHaveCameras(n int) error {
	rec, err := store.Load(testCtx.Server.RecordPath)
	if err != nil {
		return err
	}
	var errs error
	if len(rec.R) != n {
		errs = multierr.Append(errs, fmt.Errorf("record has %d rotations, want %d", len(rec.R), n))
	}
	if len(rec.K) != n {
		errs = multierr.Append(errs, fmt.Errorf("record has %d intrinsics, want %d", len(rec.K), n))
	}
	return errs
}

// RegisterServerSteps registers HTTP API step definitions.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a calibration server is running$`, testCtx.aCalibrationServerIsRunning)
	sc.Step(`^a calibration server is running with a rate limit of (\d+)$`, testCtx.aCalibrationServerIsRunningWithRateLimit)
	sc.Step(`^I upload the rig images$`, testCtx.iUploadTheRigImages)
	sc.Step(`^I upload (\d+) rig images?$`, testCtx.iUploadRigImages)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I POST "([^"]*)"$`, testCtx.iPOST)
	sc.Step(`^I POST "([^"]*)" with body '([^']*)'$`, testCtx.iPOSTWithBody)
	sc.Step(`^I DELETE "([^"]*)"$`, testCtx.iDELETE)
	sc.Step(`^I pick the arena corners$`, testCtx.iPickTheArenaCorners)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response should be a (\d+)x(\d+) PNG$`, testCtx.theResponseShouldBeAPNG)
	sc.Step(`^the session state should be "([^"]*)"$`, testCtx.theSessionStateShouldBe)
	sc.Step(`^the saved record should have (\d+) cameras$`, testCtx.theSavedRecordShouldHaveCameras)
}
