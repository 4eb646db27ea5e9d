package config

import (
	"fmt"
	"image"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/compose"
	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/matcher"
	"github.com/MeKo-Tech/arenacal/internal/server"
	"github.com/MeKo-Tech/arenacal/internal/session"
)

// DefaultConfig returns a configuration with the calibration tool's defaults.
func DefaultConfig() *Config {
	feat := features.DefaultOptions()
	match := matcher.DefaultConfig()
	refine := camera.DefaultRefineConfig()
	comp := compose.DefaultConfig()
	sess := session.DefaultConfig()

	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Verbose:   false,
		Features: FeatureConfig{
			Backend:      feat.Backend,
			Threshold:    feat.Threshold,
			MaxKeypoints: feat.MaxKeypoints,
			BlurSigma:    feat.BlurSigma,
			PatchSize:    feat.PatchSize,
		},
		Matcher: MatcherConfig{
			Slider:           matcher.DefaultMatchSlider,
			MinMatches:       match.MinMatches,
			RansacIterations: match.RANSAC.Iterations,
			RansacThreshold:  match.RANSAC.Threshold,
		},
		Camera: CameraConfig{
			ConfThreshold: refine.ConfThreshold,
			RefineMask:    refine.Mask,
			MaxIterations: refine.MaxIterations,
			Epsilon:       refine.Epsilon,
			WaveCorrect:   camera.DefaultConfig().WaveCorrect,
		},
		Compose: ComposeConfig{
			Sharpness:        float64(comp.Sharpness),
			GainCompensation: comp.GainCompensation,
			MaxCanvasPixels:  comp.MaxCanvasPixels,
			OutputSize:       comp.OutputSize.X,
		},
		Session: SessionConfig{
			SmallSize:        sess.SmallSize.X,
			SquareSide:       sess.SquareSide,
			CancelGrace:      sess.CancelGrace.String(),
			MinPanoramaWidth: sess.MinPanoramaWidth,
		},
		Store: StoreConfig{
			OutputPath:  "calibration.yaml",
			HistoryPath: "arenacal-history.db",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      120,
			ShutdownTimeout: 10,
			RateLimit:       0,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validFormats := []string{"json", "text"}
	if c.LogFormat != "" && !slices.Contains(validFormats, c.LogFormat) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.LogFormat, strings.Join(validFormats, ", "))
	}

	validBackends := []string{features.BackendFastBrief, features.BackendGocvORB}
	if c.Features.Backend != "" && !slices.Contains(validBackends, c.Features.Backend) {
		return fmt.Errorf("invalid feature backend: %s (must be one of: %s)", c.Features.Backend, strings.Join(validBackends, ", "))
	}
	if c.Features.Threshold <= 0 || c.Features.Threshold > 255 {
		return fmt.Errorf("invalid features.threshold: %d (must be between 1 and 255)", c.Features.Threshold)
	}

	if c.Matcher.Slider < 0 || c.Matcher.Slider > 100 {
		return fmt.Errorf("invalid matcher.slider: %d (must be between 0 and 100)", c.Matcher.Slider)
	}
	if c.Matcher.MinMatches < 4 {
		return fmt.Errorf("invalid matcher.min_matches: %d (must be at least 4)", c.Matcher.MinMatches)
	}

	if err := validateThreshold(c.Camera.ConfThreshold, "camera.conf_threshold"); err != nil {
		return err
	}
	if _, err := camera.ParseMask(c.Camera.RefineMask); err != nil {
		return err
	}
	if err := validateThreshold(c.Compose.Sharpness, "compose.sharpness"); err != nil {
		return err
	}
	if c.Compose.WarpScale < 0 {
		return fmt.Errorf("invalid compose.warp_scale: %.2f (must not be negative)", c.Compose.WarpScale)
	}
	if c.Compose.OutputSize <= 0 {
		return fmt.Errorf("invalid compose.output_size: %d (must be positive)", c.Compose.OutputSize)
	}

	if c.Session.SmallSize <= 0 {
		return fmt.Errorf("invalid session.small_size: %d (must be positive)", c.Session.SmallSize)
	}
	if c.Session.SquareSide <= 0 {
		return fmt.Errorf("invalid session.square_side: %d (must be positive)", c.Session.SquareSide)
	}
	if c.Session.CancelGrace != "" {
		if _, err := time.ParseDuration(c.Session.CancelGrace); err != nil {
			return fmt.Errorf("invalid session.cancel_grace: %w", err)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %d (must not be negative)", c.Server.RateLimit)
	}

	return nil
}

// ToFeatureOptions converts to features.Options.
func (c *Config) ToFeatureOptions() features.Options {
	opts := features.DefaultOptions()
	if c.Features.Backend != "" {
		opts.Backend = c.Features.Backend
	}
	opts.Threshold = c.Features.Threshold
	opts.MaxKeypoints = c.Features.MaxKeypoints
	opts.BlurSigma = c.Features.BlurSigma
	if c.Features.PatchSize > 0 {
		opts.PatchSize = c.Features.PatchSize
	}
	return opts
}

// ToMatcherConfig converts to matcher.Config.
func (c *Config) ToMatcherConfig() matcher.Config {
	cfg := matcher.DefaultConfig()
	cfg.Threshold = matcher.ThresholdFromSlider(c.Matcher.Slider)
	cfg.MinMatches = c.Matcher.MinMatches
	if c.Matcher.RansacIterations > 0 {
		cfg.RANSAC.Iterations = c.Matcher.RansacIterations
	}
	if c.Matcher.RansacThreshold > 0 {
		cfg.RANSAC.Threshold = c.Matcher.RansacThreshold
	}
	return cfg
}

// ToCameraConfig converts to camera.Config.
func (c *Config) ToCameraConfig() camera.Config {
	cfg := camera.DefaultConfig()
	cfg.Refine.ConfThreshold = c.Camera.ConfThreshold
	cfg.Refine.Mask = c.Camera.RefineMask
	if c.Camera.MaxIterations > 0 {
		cfg.Refine.MaxIterations = c.Camera.MaxIterations
	}
	if c.Camera.Epsilon > 0 {
		cfg.Refine.Epsilon = c.Camera.Epsilon
	}
	cfg.WaveCorrect = c.Camera.WaveCorrect
	return cfg
}

// ToComposeConfig converts to compose.Config. The preview size follows the
// session display size.
func (c *Config) ToComposeConfig() compose.Config {
	cfg := compose.DefaultConfig()
	cfg.WarpScale = c.Compose.WarpScale
	cfg.Sharpness = float32(c.Compose.Sharpness)
	cfg.GainCompensation = c.Compose.GainCompensation
	if c.Compose.MaxCanvasPixels > 0 {
		cfg.MaxCanvasPixels = c.Compose.MaxCanvasPixels
	}
	cfg.OutputSize = image.Pt(c.Compose.OutputSize, c.Compose.OutputSize)
	cfg.PreviewSize = image.Pt(2*c.Session.SmallSize, 2*c.Session.SmallSize)
	return cfg
}

// ToSessionConfig converts to session.Config, including every stage config.
func (c *Config) ToSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Features = c.ToFeatureOptions()
	cfg.Matcher = c.ToMatcherConfig()
	cfg.Camera = c.ToCameraConfig()
	cfg.Compose = c.ToComposeConfig()
	cfg.SmallSize = image.Pt(c.Session.SmallSize, c.Session.SmallSize)
	cfg.SquareSide = c.Session.SquareSide
	if d, err := time.ParseDuration(c.Session.CancelGrace); err == nil && d > 0 {
		cfg.CancelGrace = d
	}
	if c.Session.MinPanoramaWidth > 0 {
		cfg.MinPanoramaWidth = c.Session.MinPanoramaWidth
	}
	return cfg
}

// ToServerConfig converts to server.Config.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Host:              c.Server.Host,
		Port:              c.Server.Port,
		CORSOrigin:        c.Server.CORSOrigin,
		MaxUploadMB:       int64(c.Server.MaxUploadMB),
		TimeoutSec:        c.Server.TimeoutSec,
		RecordPath:        c.Store.OutputPath,
		WatchDir:          c.Server.WatchDir,
		RateLimit:         c.Server.RateLimit,
		DetectorThreshold: c.Features.Threshold,
		MatchSlider:       c.Matcher.Slider,
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
