package support

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand    string
	LastOutput     string
	LastError      error
	LastExitCode   int
	LastStartTime  time.Time
	LastDuration   time.Duration
	LastOutputFile string

	// Test environment
	WorkingDir string
	TempDir    string
	RigDir     string
	ImagePaths []string
	envRestore map[string]*string

	// HTTP state
	Server             *CalibrationServer
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a new test context.
func NewTestContext() (*TestContext, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// Tests may run from a subdirectory; the project root holds go.mod.
	currentDir := workingDir
	for {
		if _, err := os.Stat(filepath.Join(currentDir, "go.mod")); err == nil {
			workingDir = currentDir
			break
		}
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	tempDir, err := os.MkdirTemp("", "arenacal-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &TestContext{
		WorkingDir: workingDir,
		TempDir:    tempDir,
		envRestore: make(map[string]*string),
	}, nil
}

// SetEnv sets an environment variable for the rest of the scenario.
func (testCtx *TestContext) SetEnv(name, value string) error {
	if _, seen := testCtx.envRestore[name]; !seen {
		if old, ok := os.LookupEnv(name); ok {
			testCtx.envRestore[name] = &old
		} else {
			testCtx.envRestore[name] = nil
		}
	}
	return os.Setenv(name, value)
}

// Cleanup stops the server, restores the environment and removes temporary files.
func (testCtx *TestContext) Cleanup() error {
	var errs error
	if testCtx.Server != nil {
		errs = multierr.Append(errs, testCtx.Server.Close())
		testCtx.Server = nil
	}
	for name, old := range testCtx.envRestore {
		if old == nil {
			errs = multierr.Append(errs, os.Unsetenv(name))
		} else {
			errs = multierr.Append(errs, os.Setenv(name, *old))
		}
	}
	testCtx.envRestore = make(map[string]*string)
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = multierr.Append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	return errs
}

// TempPath returns a path inside the scenario's temporary directory.
func (testCtx *TestContext) TempPath(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}

// substituteVariables expands {tmp}, {rig} and {images} in step arguments.
func (testCtx *TestContext) substituteVariables(s string) string {
	s = strings.ReplaceAll(s, "{images}", strings.Join(testCtx.ImagePaths, " "))
	s = strings.ReplaceAll(s, "{rig}", testCtx.RigDir)
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}
