package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrateCommand(t *testing.T) {
	assert.Equal(t, "calibrate", calibrateCmd.Name())
	assert.NotEmpty(t, calibrateCmd.Short)
	for _, name := range []string{"corner", "threshold", "slider", "output", "save-inputs", "panorama", "squared", "no-history", "format"} {
		assert.NotNil(t, calibrateCmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestParseCorner(t *testing.T) {
	tests := []struct {
		in      string
		want    utils.Point
		wantErr bool
	}{
		{"60,60", utils.Point{X: 60, Y: 60}, false},
		{" 12.5 , 540 ", utils.Point{X: 12.5, Y: 540}, false},
		{"0,0", utils.Point{}, false},
		{"60", utils.Point{}, true},
		{"a,1", utils.Point{}, true},
		{"1,b", utils.Point{}, true},
		{"-1,5", utils.Point{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCorner(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCorners_Count(t *testing.T) {
	_, err := parseCorners([]string{"1,1", "2,2", "3,3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 4")

	pts, err := parseCorners([]string{"1,1", "2,2", "3,3", "4,4"})
	require.NoError(t, err)
	assert.Len(t, pts, 4)
}

func TestCalibrateCommand_Arguments(t *testing.T) {
	_, err := executeCommand(t, "calibrate", "a.png", "b.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 4 arg(s)")
}

func TestCalibrateCommand_MissingCorners(t *testing.T) {
	_, err := executeCommand(t, "calibrate", "a.png", "b.png", "c.png", "d.png", "--corner", "1,1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 4 --corner")
}

func TestCalibrateCommand_MissingImage(t *testing.T) {
	dir := t.TempDir()
	_, err := executeCommand(t, "calibrate",
		filepath.Join(dir, "0.png"), filepath.Join(dir, "1.png"), filepath.Join(dir, "2.png"), filepath.Join(dir, "3.png"),
		"--corner", "60,60", "--corner", "540,60", "--corner", "60,540", "--corner", "540,540", "--no-history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load images")
}

func TestCalibrateCommand_SyntheticRig(t *testing.T) {
	if testing.Short() {
		t.Skip("renders and stitches a synthetic rig")
	}
	dir := t.TempDir()
	paths := writeScene(t, dir)
	output := filepath.Join(dir, "out", "calibration.yaml")
	inputs := filepath.Join(dir, "inputs")
	history := filepath.Join(dir, "history.db")
	t.Setenv("ARENACAL_STORE_HISTORY_PATH", history)

	args := append([]string{"calibrate"}, paths...)
	args = append(args,
		"--corner", "60,60", "--corner", "540,60", "--corner", "60,540", "--corner", "540,540",
		"--output", output, "--save-inputs", inputs, "--squared", filepath.Join(dir, "squared.png"),
		"--format", "json")
	out, err := executeCommand(t, args...)
	require.NoError(t, err, out)

	// Log lines go to the same buffer; the JSON result is the last document.
	start := lastJSONObject(out)
	require.GreaterOrEqual(t, start, 0, out)
	var result struct {
		Path   string        `json:"path"`
		Record *store.Record `json:"record"`
	}
	require.NoError(t, json.Unmarshal([]byte(out[start:]), &result))
	assert.Equal(t, output, result.Path)
	assert.Len(t, result.Record.K, 4)

	rec, err := store.Load(output)
	require.NoError(t, err)
	assert.Equal(t, result.Record.Metadata.RunID, rec.Metadata.RunID)

	for i := range 4 {
		assert.FileExists(t, filepath.Join(inputs, fmt.Sprintf("cam%d.jpg", i)))
	}
	info, err := os.Stat(filepath.Join(dir, "squared.png"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	out, err = executeCommand(t, "history", "--db", history, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, rec.Metadata.RunID)
}

// lastJSONObject returns the offset of the last line starting a pretty-printed JSON object.
func lastJSONObject(s string) int {
	last := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '{' && (i == 0 || s[i-1] == '\n') && i+1 < len(s) && s[i+1] == '\n' {
			last = i
		}
	}
	return last
}
