package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/arenacal/internal/testutil"
	"github.com/MeKo-Tech/arenacal/internal/utils"
)

// groundTruth is written next to the images so stitching results can be checked.
type groundTruth struct {
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Focal     float64       `json:"focal"`
	Yaw       float64       `json:"yaw"`
	Pitch     float64       `json:"pitch"`
	Seed      uint64        `json:"seed"`
	Images    []string      `json:"images"`
	Rotations [4][9]float64 `json:"rotations"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	def := testutil.DefaultSceneConfig()
	var (
		outDir  = flag.String("out", "testdata/images/rig", "output directory, relative to the project root")
		width   = flag.Int("width", def.Size.X, "image width")
		height  = flag.Int("height", def.Size.Y, "image height")
		focal   = flag.Float64("focal", def.Focal, "focal length in pixels")
		yaw     = flag.Float64("yaw", def.Yaw, "per-camera yaw magnitude in radians")
		pitch   = flag.Float64("pitch", def.Pitch, "per-camera pitch magnitude in radians")
		seed    = flag.Uint64("seed", def.Seed, "texture seed")
		ext     = flag.String("format", "png", "image format (png, jpg, bmp)")
		texture = flag.Bool("texture", false, "also write the floor texture")
		verbose = flag.Bool("v", false, "Verbose output")
		help    = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Render a synthetic four-camera rig for arenacal testing.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                          # Default rig into testdata/images/rig\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -width 640 -height 480   # Larger stills\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -format jpg -seed 3      # Another texture as JPEG\n", os.Args[0])
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	root, err := testutil.GetProjectRoot()
	if err != nil {
		slog.Error("Failed to find project root", "error", err)
		os.Exit(1)
	}
	if err := os.Chdir(root); err != nil {
		slog.Error("Failed to change to project root", "error", err)
		os.Exit(1)
	}

	cfg := def
	cfg.Size = image.Pt(*width, *height)
	cfg.Focal = *focal
	cfg.Yaw = *yaw
	cfg.Pitch = *pitch
	cfg.Seed = *seed
	if *verbose {
		slog.Info("Scene", "root", root, "size", cfg.Size, "focal", cfg.Focal, "yaw", cfg.Yaw, "pitch", cfg.Pitch)
	}

	if err := generateRig(cfg, *outDir, *ext, *texture); err != nil {
		slog.Error("Failed to generate test data", "error", err)
		os.Exit(1)
	}
	slog.Info("Test data generation completed successfully!", "dir", *outDir)
}

// generateRig renders the scene and writes cam0..cam3 plus truth.json into dir.
func generateRig(cfg testutil.SceneConfig, dir, ext string, writeTexture bool) error {
	switch ext {
	case "png", "jpg", "bmp":
	default:
		return fmt.Errorf("unsupported format %q", ext)
	}
	if cfg.Size.X <= 0 || cfg.Size.Y <= 0 || cfg.Focal <= 0 {
		return fmt.Errorf("invalid scene size %v or focal %.1f", cfg.Size, cfg.Focal)
	}
	if err := testutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	scene := testutil.RenderScene(cfg)
	truth := groundTruth{
		Width:     cfg.Size.X,
		Height:    cfg.Size.Y,
		Focal:     cfg.Focal,
		Yaw:       cfg.Yaw,
		Pitch:     cfg.Pitch,
		Seed:      cfg.Seed,
		Rotations: scene.Rotations,
	}
	paths, err := testutil.WriteRig(dir, scene, ext)
	if err != nil {
		return err
	}
	for _, p := range paths {
		truth.Images = append(truth.Images, filepath.Base(p))
		slog.Info("Wrote camera still", "file", p)
	}
	if writeTexture {
		if err := utils.SaveImage(scene.Texture, filepath.Join(dir, "texture.png")); err != nil {
			return fmt.Errorf("failed to save texture: %w", err)
		}
	}

	data, err := json.MarshalIndent(truth, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "truth.json"), data, 0o600)
}
