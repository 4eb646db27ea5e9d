package cmd

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestRecord(t *testing.T, dir string) (string, *store.Record) {
	t.Helper()
	cams := make([]camera.Params, 4)
	for i := range cams {
		cams[i] = camera.Params{Focal: 800 + float64(i), Aspect: 1, PPX: 320, PPY: 240, R: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
	}
	quad := [4]utils.Point{{X: 100, Y: 90}, {X: 1400, Y: 95}, {X: 110, Y: 1420}, {X: 1390, Y: 1430}}
	rec := store.NewRecord(quad, cams, store.Metadata{
		Created:   time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC),
		SessionID: "sess-1",
		RunID:     "run-1",
		WarpScale: 801.5,
		RMS:       0.37,
		Width:     1536,
		Height:    1536,
	})
	path := filepath.Join(dir, "calibration.yaml")
	require.NoError(t, store.Save(path, rec))
	return path, rec
}

func TestShowCommand_Text(t *testing.T) {
	path, _ := writeTestRecord(t, t.TempDir())

	out, err := executeCommand(t, "show", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sess-1")
	assert.Contains(t, out, "1536x1536")
	assert.Contains(t, out, "801.50")
	assert.Contains(t, out, "(1400.0, 95.0)")
	assert.Contains(t, out, "f=803.00")
}

func TestShowCommand_JSON(t *testing.T) {
	path, rec := writeTestRecord(t, t.TempDir())

	out, err := executeCommand(t, "show", path, "--format", "json")
	require.NoError(t, err)
	var got store.Record
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, rec.Corner2, got.Corner2)
	assert.Equal(t, rec.K, got.K)
	assert.Equal(t, "run-1", got.Metadata.RunID)
}

func TestShowCommand_Errors(t *testing.T) {
	_, err := executeCommand(t, "show", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path, _ := writeTestRecord(t, t.TempDir())
	_, err = executeCommand(t, "show", path, "--format", "csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")

	_, err = executeCommand(t, "show")
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	h, err := store.OpenHistory(db)
	require.NoError(t, err)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	_, err = h.Append(context.Background(), store.Entry{
		ID: "run-a", SessionID: "s", Status: store.StatusSaved, RecordPath: "a.yaml",
		WarpScale: 790, Width: 1536, Height: 1536, CreatedAt: base,
	})
	require.NoError(t, err)
	_, err = h.Append(context.Background(), store.Entry{
		ID: "run-b", SessionID: "s", Status: store.StatusFailed, RecordPath: "/ro/b.yaml",
		Error: "permission denied", CreatedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	out, err := executeCommand(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "a.yaml")
	assert.Contains(t, out, "permission denied")
	// Newest first.
	assert.Less(t, strings.Index(out, "/ro/b.yaml"), strings.Index(out, "a.yaml"))

	out, err = executeCommand(t, "history", "--db", db, "--limit", "1", "--format", "json")
	require.NoError(t, err)
	var entries []store.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "run-b", entries[0].ID)
}

func TestHistoryCommand_Empty(t *testing.T) {
	out, err := executeCommand(t, "history", "--db", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "No calibration runs recorded")
}
