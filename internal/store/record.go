// Package store persists calibration results: a YAML record per calibration
// and an SQLite history of completed runs.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"gopkg.in/yaml.v3"
)

// ErrIncompleteRecord is returned when a record lacks cameras or corners.
var ErrIncompleteRecord = errors.New("store: record needs four corners and at least one camera")

// Metadata describes the run that produced a record.
type Metadata struct {
	Created   time.Time `yaml:"created" json:"created"`
	SessionID string    `yaml:"session_id" json:"session_id"`
	RunID     string    `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	WarpScale float64   `yaml:"warp_scale" json:"warp_scale"`
	RMS       float64   `yaml:"rms" json:"rms"`
	Width     int       `yaml:"panorama_width" json:"panorama_width"`
	Height    int       `yaml:"panorama_height" json:"panorama_height"`
}

// Record is the calibration output consumed by the tracking component.
// Corners are top-left, top-right, bottom-left, bottom-right in panorama
// pixels; R and K hold one row-major 3x3 matrix per camera.
type Record struct {
	Corner1  [2]float64   `yaml:"corner1,flow" json:"corner1"`
	Corner2  [2]float64   `yaml:"corner2,flow" json:"corner2"`
	Corner3  [2]float64   `yaml:"corner3,flow" json:"corner3"`
	Corner4  [2]float64   `yaml:"corner4,flow" json:"corner4"`
	R        [][9]float64 `yaml:"R,flow" json:"R"`
	K        [][9]float64 `yaml:"K,flow" json:"K"`
	Metadata Metadata     `yaml:"metadata" json:"metadata"`
}

// NewRecord builds a record from classified corners and the cameras of a stitch.
func NewRecord(quad [4]utils.Point, cams []camera.Params, meta Metadata) *Record {
	rec := &Record{
		Corner1:  [2]float64{quad[0].X, quad[0].Y},
		Corner2:  [2]float64{quad[1].X, quad[1].Y},
		Corner3:  [2]float64{quad[2].X, quad[2].Y},
		Corner4:  [2]float64{quad[3].X, quad[3].Y},
		R:        make([][9]float64, len(cams)),
		K:        make([][9]float64, len(cams)),
		Metadata: meta,
	}
	for i, c := range cams {
		rec.R[i] = c.R
		rec.K[i] = c.K()
	}
	if rec.Metadata.Created.IsZero() {
		rec.Metadata.Created = time.Now().UTC()
	}
	return rec
}

// Corners returns the four corners in role order.
func (r *Record) Corners() [4]utils.Point {
	return [4]utils.Point{
		{X: r.Corner1[0], Y: r.Corner1[1]},
		{X: r.Corner2[0], Y: r.Corner2[1]},
		{X: r.Corner3[0], Y: r.Corner3[1]},
		{X: r.Corner4[0], Y: r.Corner4[1]},
	}
}

// Validate checks that the record is usable.
func (r *Record) Validate() error {
	if len(r.R) == 0 || len(r.R) != len(r.K) {
		return fmt.Errorf("%w: %d rotations, %d intrinsics", ErrIncompleteRecord, len(r.R), len(r.K))
	}
	return nil
}

// Save writes rec as YAML to path. The file is written next to the target and
// renamed so readers never see a partial record.
func Save(path string, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode calibration record: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".arenacal-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temporary record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to move record into place: %w", err)
	}
	return nil
}

// Load reads a record written by Save.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a user-provided record path is expected
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", path, err)
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", path, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
