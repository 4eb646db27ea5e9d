package server

import (
	"context"
	"image"
	"net/http"

	"github.com/MeKo-Tech/arenacal/internal/compose"
	"github.com/MeKo-Tech/arenacal/internal/session"
	"github.com/MeKo-Tech/arenacal/internal/square"
	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
)

// sessionInterface defines the methods needed by the server from a calibration session.
type sessionInterface interface {
	Snapshot() session.Snapshot
	LoadImages(images []image.Image) error
	LoadImageFiles(paths []string) error
	ExtractAndMatch(ctx context.Context, detectorThreshold, slider int) error
	Stitch(ctx context.Context) (*session.StitchHandle, error)
	Wait(ctx context.Context) (*compose.Panorama, error)
	AddCorner(p utils.Point) (bool, error)
	RemoveLastCorner() bool
	Square(ctx context.Context) (*square.Result, error)
	Pan(focus utils.Point) (*image.NRGBA, error)
	Save(ctx context.Context, path string) (*store.Record, error)
	ImagePreview(i int) (image.Image, bool)
	KeypointPreviews() []image.Image
	MatchPreviews() []image.Image
	PanoramaPreview() (image.Image, bool)
	SquaredPreview() (image.Image, bool)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	session           sessionInterface
	hub               *Hub
	rateLimiter       *RateLimiter
	watcher           *ImageWatcher
	corsOrigin        string
	maxUploadMB       int64
	timeoutSec        int
	recordPath        string
	detectorThreshold int
	matchSlider       int
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// RecordPath is where POST /session/save writes by default. Requests
	// may only choose another file name in the same directory.
	RecordPath string
	WatchDir   string
	RateLimit  int
	// DetectorThreshold and MatchSlider are used when a match request or a
	// watched image set carries no values of its own.
	DetectorThreshold int
	MatchSlider       int
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error       string `json:"error"`
	Recoverable bool   `json:"recoverable"`
}

// MatchRequest is the optional body of POST /session/match.
type MatchRequest struct {
	DetectorThreshold int  `json:"detector_threshold,omitempty"`
	Slider            *int `json:"slider,omitempty"`
}

// StitchResponse is returned by POST /session/stitch.
type StitchResponse struct {
	StitchID string           `json:"stitch_id"`
	Session  session.Snapshot `json:"session"`
}

// CornerRequest is the body of POST /session/corners, in panorama preview pixels.
type CornerRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CornersResponse is returned by the corner endpoints.
type CornersResponse struct {
	Accepted bool          `json:"accepted"`
	Corners  [][2]float64  `json:"corners"`
	State    session.State `json:"state"`
}

// SaveRequest is the optional body of POST /session/save.
type SaveRequest struct {
	Path string `json:"path,omitempty"`
}

// SaveResponse is returned by POST /session/save.
type SaveResponse struct {
	Path   string        `json:"path"`
	Record *store.Record `json:"record"`
}

// NewServer creates a server around sess. Session events reach websocket
// clients only when hub was registered as an observer of sess.
func NewServer(config Config, sess sessionInterface, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub()
	}
	recordPath := config.RecordPath
	if recordPath == "" {
		recordPath = "calibration.yaml"
	}
	return &Server{
		session:           sess,
		hub:               hub,
		rateLimiter:       NewRateLimiter(config.RateLimit),
		corsOrigin:        config.CORSOrigin,
		maxUploadMB:       config.MaxUploadMB,
		timeoutSec:        config.TimeoutSec,
		recordPath:        recordPath,
		detectorThreshold: config.DetectorThreshold,
		matchSlider:       config.MatchSlider,
	}
}

// Hub returns the websocket hub of the server.
func (s *Server) Hub() *Hub { return s.hub }

// Close stops the directory watcher and disconnects websocket clients.
func (s *Server) Close() error {
	var err error
	if s.watcher != nil {
		err = multierr.Append(err, s.watcher.Close())
	}
	s.hub.Close()
	return err
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/session", s.corsMiddleware(s.sessionHandler))
	mux.HandleFunc("/session/images", s.corsMiddleware(s.imagesHandler))
	mux.HandleFunc("/session/match", s.corsMiddleware(s.rateLimitMiddleware(s.matchHandler)))
	mux.HandleFunc("/session/stitch", s.corsMiddleware(s.rateLimitMiddleware(s.stitchHandler)))
	mux.HandleFunc("/session/previews/{index}", s.corsMiddleware(s.previewHandler))
	mux.HandleFunc("/session/panorama", s.corsMiddleware(s.panoramaHandler))
	mux.HandleFunc("/session/corners", s.corsMiddleware(s.cornersHandler))
	mux.HandleFunc("/session/corners/last", s.corsMiddleware(s.removeCornerHandler))
	mux.HandleFunc("/session/square", s.corsMiddleware(s.rateLimitMiddleware(s.squareHandler)))
	mux.HandleFunc("/session/squared", s.corsMiddleware(s.squaredHandler))
	mux.HandleFunc("/session/save", s.corsMiddleware(s.saveHandler))
	mux.HandleFunc("/ws", s.wsHandler)
}
