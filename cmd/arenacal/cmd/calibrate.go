package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/session"
	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// calibrateCmd runs the whole pipeline on four stills.
var calibrateCmd = &cobra.Command{
	Use:   "calibrate <cam0> <cam1> <cam2> <cam3>",
	Short: "Calibrate the rig from four camera stills",
	Long: `Run the full calibration on four overlapping camera stills.

Keypoints are detected and matched, the cameras are estimated and refined, the
panorama is stitched and the arena is squared from the four corners given with
--corner. Corners are pixel positions on the panorama preview (600x600 by
default) in any order; they are classified by position.

Examples:
  arenacal calibrate cam0.png cam1.png cam2.png cam3.png \
      --corner 60,60 --corner 540,60 --corner 60,540 --corner 540,540
  arenacal calibrate shots/*.jpg --corner 40,52 --corner 571,47 \
      --corner 35,560 --corner 566,572 --slider 70 --output arena.yaml`,
	Args: cobra.ExactArgs(features.RequiredImages),
	RunE: runCalibrate,
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	rawCorners, _ := cmd.Flags().GetStringArray("corner")
	corners, err := parseCorners(rawCorners)
	if err != nil {
		return err
	}

	threshold := cfg.Features.Threshold
	if cmd.Flags().Changed("threshold") {
		threshold, _ = cmd.Flags().GetInt("threshold")
	}
	slider := cfg.Matcher.Slider
	if cmd.Flags().Changed("slider") {
		slider, _ = cmd.Flags().GetInt("slider")
	}
	output := cfg.Store.OutputPath
	if cmd.Flags().Changed("output") {
		output, _ = cmd.Flags().GetString("output")
	}
	historyPath := cfg.Store.HistoryPath
	if noHistory, _ := cmd.Flags().GetBool("no-history"); noHistory {
		historyPath = ""
	}
	saveInputs, _ := cmd.Flags().GetString("save-inputs")
	panoramaPath, _ := cmd.Flags().GetString("panorama")
	squaredPath, _ := cmd.Flags().GetString("squared")
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid output format: %s (must be one of: text, json)", format)
	}

	images, err := utils.LoadImages(args)
	if err != nil {
		return fmt.Errorf("failed to load images: %w", err)
	}
	if saveInputs != "" {
		if err := saveInputImages(images, saveInputs); err != nil {
			return err
		}
	}

	opts := []session.Option{session.WithObserver(session.NewLogObserver(slog.Default(), slog.LevelInfo))}
	if historyPath != "" {
		history, err := store.OpenHistory(historyPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := history.Close(); err != nil {
				slog.Warn("Failed to close history", "error", err)
			}
		}()
		opts = append(opts, session.WithHistory(history))
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	sess := session.New(cfg.ToSessionConfig(), opts...)
	defer sess.Close()

	if err := sess.LoadImages(images); err != nil {
		return err
	}
	if err := sess.ExtractAndMatch(ctx, threshold, slider); err != nil {
		return fmt.Errorf("matching failed: %w", err)
	}
	if _, err := sess.Stitch(ctx); err != nil {
		return fmt.Errorf("stitching failed: %w", err)
	}
	pano, err := sess.Wait(ctx)
	if err != nil {
		return fmt.Errorf("stitching failed: %w", err)
	}
	if panoramaPath != "" {
		if err := utils.SaveImage(pano.Full, panoramaPath); err != nil {
			return err
		}
	}

	for i, c := range corners {
		ok, err := sess.AddCorner(c)
		if err != nil {
			return fmt.Errorf("corner %d: %w", i+1, err)
		}
		if !ok {
			return fmt.Errorf("corner %d was not accepted: no usable panorama", i+1)
		}
	}
	res, err := sess.Square(ctx)
	if err != nil {
		return fmt.Errorf("squaring failed: %w", err)
	}
	if squaredPath != "" {
		if err := utils.SaveImage(res.Image, squaredPath); err != nil {
			return err
		}
	}

	rec, err := sess.Save(ctx, output)
	if err != nil {
		return err
	}
	return printCalibration(cmd.OutOrStdout(), output, rec, format)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseCorners parses exactly four "x,y" corner positions.
func parseCorners(raw []string) ([]utils.Point, error) {
	if len(raw) != 4 {
		return nil, fmt.Errorf("exactly 4 --corner values are required, got %d", len(raw))
	}
	points := make([]utils.Point, 0, len(raw))
	for _, r := range raw {
		p, err := parseCorner(r)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

func parseCorner(s string) (utils.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return utils.Point{}, fmt.Errorf("invalid corner %q: expected x,y", s)
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err := errors.Join(errX, errY); err != nil {
		return utils.Point{}, fmt.Errorf("invalid corner %q: %w", s, err)
	}
	if x < 0 || y < 0 {
		return utils.Point{}, fmt.Errorf("invalid corner %q: coordinates must not be negative", s)
	}
	return utils.Point{X: x, Y: y}, nil
}

// saveInputImages writes the stills as cam0.jpg..cam3.jpg into dir.
func saveInputImages(images []image.Image, dir string) error {
	var errs error
	for i, img := range images {
		path := filepath.Join(dir, fmt.Sprintf("cam%d.jpg", i))
		errs = multierr.Append(errs, utils.SaveImage(img, path))
	}
	return errs
}

func printCalibration(w io.Writer, path string, rec *store.Record, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Path   string        `json:"path"`
			Record *store.Record `json:"record"`
		}{path, rec})
	}
	if _, err := fmt.Fprintf(w, "Calibration saved to %s\n", path); err != nil {
		return err
	}
	return writeRecordText(w, rec)
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().StringArray("corner", nil, "arena corner as x,y on the panorama preview (repeat 4 times)")
	calibrateCmd.Flags().Int("threshold", 10, "keypoint detector threshold (1-255)")
	calibrateCmd.Flags().Int("slider", 60, "match threshold slider (0-100, ratio = slider/100)")
	calibrateCmd.Flags().StringP("output", "o", "calibration.yaml", "calibration record output path")
	calibrateCmd.Flags().String("save-inputs", "", "directory to write the four stills to as JPEG")
	calibrateCmd.Flags().String("panorama", "", "write the stitched panorama to this path")
	calibrateCmd.Flags().String("squared", "", "write the squared arena to this path")
	calibrateCmd.Flags().Bool("no-history", false, "do not record the run in the calibration history")
	calibrateCmd.Flags().StringP("format", "f", "text", "output format (text, json)")
}
