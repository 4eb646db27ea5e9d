//nolint:lll
package config

// Config represents the complete configuration for the arenacal tool.
// It includes settings for all commands (calibrate, serve, history) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Features FeatureConfig `mapstructure:"features" yaml:"features" json:"features"`
	Matcher  MatcherConfig `mapstructure:"matcher" yaml:"matcher" json:"matcher"`
	Camera   CameraConfig  `mapstructure:"camera" yaml:"camera" json:"camera"`
	Compose  ComposeConfig `mapstructure:"compose" yaml:"compose" json:"compose"`
	Session  SessionConfig `mapstructure:"session" yaml:"session" json:"session"`
	Store    StoreConfig   `mapstructure:"store" yaml:"store" json:"store"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// FeatureConfig contains keypoint detector settings.
type FeatureConfig struct {
	Backend      string  `mapstructure:"backend" yaml:"backend" json:"backend"`
	Threshold    int     `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	MaxKeypoints int     `mapstructure:"max_keypoints" yaml:"max_keypoints" json:"max_keypoints"`
	BlurSigma    float64 `mapstructure:"blur_sigma" yaml:"blur_sigma" json:"blur_sigma"`
	PatchSize    int     `mapstructure:"patch_size" yaml:"patch_size" json:"patch_size"`
}

// MatcherConfig contains pairwise matching settings.
type MatcherConfig struct {
	// Slider is the 0-100 match threshold position; the ratio is Slider/100.
	Slider           int     `mapstructure:"slider" yaml:"slider" json:"slider"`
	MinMatches       int     `mapstructure:"min_matches" yaml:"min_matches" json:"min_matches"`
	RansacIterations int     `mapstructure:"ransac_iterations" yaml:"ransac_iterations" json:"ransac_iterations"`
	RansacThreshold  float64 `mapstructure:"ransac_threshold" yaml:"ransac_threshold" json:"ransac_threshold"`
}

// CameraConfig contains bundle adjustment settings.
type CameraConfig struct {
	ConfThreshold float64 `mapstructure:"conf_threshold" yaml:"conf_threshold" json:"conf_threshold"`
	RefineMask    string  `mapstructure:"refine_mask" yaml:"refine_mask" json:"refine_mask"`
	MaxIterations int     `mapstructure:"max_iterations" yaml:"max_iterations" json:"max_iterations"`
	Epsilon       float64 `mapstructure:"epsilon" yaml:"epsilon" json:"epsilon"`
	WaveCorrect   bool    `mapstructure:"wave_correct" yaml:"wave_correct" json:"wave_correct"`
}

// ComposeConfig contains warping and blending settings.
type ComposeConfig struct {
	// WarpScale overrides the median focal length when positive.
	WarpScale        float64 `mapstructure:"warp_scale" yaml:"warp_scale" json:"warp_scale"`
	Sharpness        float64 `mapstructure:"sharpness" yaml:"sharpness" json:"sharpness"`
	GainCompensation bool    `mapstructure:"gain_compensation" yaml:"gain_compensation" json:"gain_compensation"`
	MaxCanvasPixels  int     `mapstructure:"max_canvas_pixels" yaml:"max_canvas_pixels" json:"max_canvas_pixels"`
	OutputSize       int     `mapstructure:"output_size" yaml:"output_size" json:"output_size"`
}

// SessionConfig contains interactive session settings.
type SessionConfig struct {
	SmallSize        int    `mapstructure:"small_size" yaml:"small_size" json:"small_size"`
	SquareSide       int    `mapstructure:"square_side" yaml:"square_side" json:"square_side"`
	CancelGrace      string `mapstructure:"cancel_grace" yaml:"cancel_grace" json:"cancel_grace"`
	MinPanoramaWidth int    `mapstructure:"min_panorama_width" yaml:"min_panorama_width" json:"min_panorama_width"`
}

// StoreConfig contains calibration record and history locations.
type StoreConfig struct {
	OutputPath  string `mapstructure:"output_path" yaml:"output_path" json:"output_path"`
	HistoryPath string `mapstructure:"history_path" yaml:"history_path" json:"history_path"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	WatchDir        string `mapstructure:"watch_dir" yaml:"watch_dir" json:"watch_dir"`
	// RateLimit is the number of compute requests (match, stitch, square)
	// accepted per client and minute; zero disables limiting.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}
