package camera

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/matcher"
)

// Config bundles the estimation stages.
type Config struct {
	Refine      RefineConfig
	WaveCorrect bool
}

// DefaultConfig refines with the default mask and applies horizontal wave correction.
func DefaultConfig() Config {
	return Config{Refine: DefaultRefineConfig(), WaveCorrect: true}
}

// Result is the outcome of Estimate.
type Result struct {
	Cameras []Params    `json:"cameras"`
	Stats   RefineStats `json:"stats"`
}

// Estimate runs the initial estimate, bundle adjustment and wave correction.
func Estimate(ctx context.Context, sets []features.FeatureSet, matches []matcher.PairwiseMatch, cfg Config) (*Result, error) {
	cams, err := EstimateInitial(sets, matches)
	if err != nil {
		return nil, fmt.Errorf("initial estimate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	refined, stats, err := Refine(ctx, sets, matches, cams, cfg.Refine)
	if err != nil {
		return nil, fmt.Errorf("bundle adjustment: %w", err)
	}
	if cfg.WaveCorrect {
		refined = WaveCorrect(refined)
	}

	slog.Info("Cameras estimated", "cameras", len(refined), "rms", stats.RMS, "iterations", stats.Iterations)
	return &Result{Cameras: refined, Stats: stats}, nil
}
