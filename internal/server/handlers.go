package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/compose"
	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/session"
	"github.com/MeKo-Tech/arenacal/internal/square"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/MeKo-Tech/arenacal/internal/version"
	"github.com/samber/lo"
	_ "golang.org/x/image/bmp"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.String(),
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// sessionHandler returns the session snapshot.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// imagesHandler loads four uploaded camera stills into the session. Files are
// taken from the repeated "images" field in order, or from image0..image3.
func (s *Server) imagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		s.handleFormParseError(w, err)
		return
	}

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		for i := range features.RequiredImages {
			if fh := r.MultipartForm.File[fmt.Sprintf("image%d", i)]; len(fh) > 0 {
				headers = append(headers, fh[0])
			}
		}
	}
	if len(headers) != features.RequiredImages {
		s.writeErrorResponse(w, fmt.Sprintf("Expected %d image files, got %d", features.RequiredImages, len(headers)),
			http.StatusBadRequest)
		return
	}

	images := make([]image.Image, 0, len(headers))
	for _, fh := range headers {
		img, err := decodeUpload(fh)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("Invalid image %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		uploadSizeBytes.Observe(float64(fh.Size))
		images = append(images, img)
	}

	start := time.Now()
	err := s.session.LoadImages(images)
	observeStage(session.StageLoad, start, err)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func decodeUpload(fh *multipart.FileHeader) (image.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	return img, err
}

// handleFormParseError distinguishes oversized bodies from malformed forms.
func (s *Server) handleFormParseError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}
	s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
}

// matchHandler runs feature extraction and pairwise matching.
func (s *Server) matchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MatchRequest
	if !s.decodeOptionalBody(w, r, &req) {
		return
	}
	threshold := s.detectorThreshold
	if req.DetectorThreshold > 0 {
		threshold = req.DetectorThreshold
	}
	slider := s.matchSlider
	if req.Slider != nil {
		slider = *req.Slider
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	err := s.session.ExtractAndMatch(ctx, threshold, slider)
	observeStage(session.StageMatch, start, err)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// stitchHandler starts a background stitch. With ?wait=true it blocks until
// the panorama is published.
func (s *Server) stitchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h, err := s.session.Stitch(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, StitchResponse{StitchID: h.ID(), Session: s.session.Snapshot()})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	if _, err := h.Wait(ctx); err != nil {
		s.writeSessionError(w, err)
		return
	}
	snap := s.session.Snapshot()
	recordPanorama(snap)
	writeJSON(w, http.StatusOK, StitchResponse{StitchID: h.ID(), Session: snap})
}

// previewHandler serves per-camera previews as PNG. The kind query parameter
// selects image (default), keypoints or matches.
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 0 || idx >= features.RequiredImages {
		s.writeErrorResponse(w, "Preview index must be between 0 and 3", http.StatusBadRequest)
		return
	}

	var img image.Image
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "image":
		img, _ = s.session.ImagePreview(idx)
	case "keypoints":
		img = indexOrNil(s.session.KeypointPreviews(), idx)
	case "matches":
		img = indexOrNil(s.session.MatchPreviews(), idx)
	default:
		s.writeErrorResponse(w, "Unknown preview kind: "+kind, http.StatusBadRequest)
		return
	}
	if img == nil {
		s.writeErrorResponse(w, "Preview not available", http.StatusNotFound)
		return
	}
	writePNG(w, img)
}

func indexOrNil(images []image.Image, i int) image.Image {
	if i < len(images) {
		return images[i]
	}
	return nil
}

// panoramaHandler serves the panorama preview with the picked corners drawn on it.
func (s *Server) panoramaHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	img, ok := s.session.PanoramaPreview()
	if !ok {
		s.writeErrorResponse(w, "No panorama available", http.StatusNotFound)
		return
	}
	writePNG(w, img)
}

// cornersHandler adds a corner picked on the panorama preview.
func (s *Server) cornersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.cornersResponse(true))
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CornerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, "Invalid corner: "+err.Error(), http.StatusBadRequest)
		return
	}
	accepted, err := s.session.AddCorner(utils.Point{X: req.X, Y: req.Y})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cornersResponse(accepted))
}

// removeCornerHandler drops the most recently picked corner.
func (s *Server) removeCornerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cornersResponse(s.session.RemoveLastCorner()))
}

func (s *Server) cornersResponse(accepted bool) CornersResponse {
	snap := s.session.Snapshot()
	return CornersResponse{
		Accepted: accepted,
		Corners: lo.Map(snap.Corners, func(p utils.Point, _ int) [2]float64 {
			return [2]float64{p.X, p.Y}
		}),
		State: snap.State,
	}
}

// squareHandler warps the arena enclosed by the picked corners onto a square.
func (s *Server) squareHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	_, err := s.session.Square(ctx)
	observeStage(session.StageSquare, start, err)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// squaredHandler serves the squared arena preview. With x and y query
// parameters it serves the preview-sized window centred on that point.
func (s *Server) squaredHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if q.Has("x") || q.Has("y") {
		x, errX := strconv.ParseFloat(q.Get("x"), 64)
		y, errY := strconv.ParseFloat(q.Get("y"), 64)
		if errX != nil || errY != nil {
			s.writeErrorResponse(w, "x and y must both be numbers", http.StatusBadRequest)
			return
		}
		img, err := s.session.Pan(utils.Point{X: x, Y: y})
		if err != nil {
			s.writeErrorResponse(w, "Arena has not been squared", http.StatusNotFound)
			return
		}
		writePNG(w, img)
		return
	}

	img, ok := s.session.SquaredPreview()
	if !ok {
		s.writeErrorResponse(w, "Arena has not been squared", http.StatusNotFound)
		return
	}
	writePNG(w, img)
}

// saveHandler writes the calibration record.
func (s *Server) saveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SaveRequest
	if !s.decodeOptionalBody(w, r, &req) {
		return
	}
	path := s.recordPath
	if req.Path != "" {
		name := filepath.Base(req.Path)
		if name == "." || name == string(filepath.Separator) {
			s.writeErrorResponse(w, "Invalid record path", http.StatusBadRequest)
			return
		}
		path = filepath.Join(filepath.Dir(s.recordPath), name)
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	rec, err := s.session.Save(ctx, path)
	observeStage(session.StageSave, start, err)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveResponse{Path: path, Record: rec})
}

// decodeOptionalBody decodes a JSON body when one was sent. It writes the
// error response and returns false on malformed input.
func (s *Server) decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeErrorResponse(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeoutSec <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
}

// errorStatus maps workflow errors onto HTTP status codes.
func errorStatus(err error) int {
	var inputErr *features.InputError
	var rateErr *RateLimitError
	switch {
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	case errors.As(err, &inputErr):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrCancelTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrNoImages),
		errors.Is(err, session.ErrNotMatched),
		errors.Is(err, session.ErrNoPanorama),
		errors.Is(err, session.ErrNotSquared),
		errors.Is(err, session.ErrSuperseded),
		errors.Is(err, session.ErrNoStitch),
		errors.Is(err, square.ErrNeedFourCorners):
		return http.StatusConflict
	case errors.Is(err, camera.ErrNotConnected),
		errors.Is(err, camera.ErrNotEnoughInliers),
		errors.Is(err, compose.ErrDegenerateWarp),
		errors.Is(err, square.ErrAmbiguousCorners),
		errors.Is(err, square.ErrTooManyCorners):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeSessionError writes err with the status errorStatus assigns to it.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	if status == http.StatusInternalServerError {
		slog.Error("Calibration request failed", "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Recoverable: session.Recoverable(err)})
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Error: message, Recoverable: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Log error, but can't send another response
		slog.Error("Failed to encode response", "error", err)
	}
}

func writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		slog.Error("Failed to encode PNG response", "error", err)
	}
}

func observeStage(stage session.Stage, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	stageRunsTotal.WithLabelValues(string(stage), status).Inc()
	stageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

func recordPanorama(snap session.Snapshot) {
	panoramaWidth.Set(float64(snap.PanoramaWidth))
	bundleAdjustmentRMS.Set(snap.RMS)
}
