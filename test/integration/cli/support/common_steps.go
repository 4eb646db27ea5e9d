package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/arenacal/cmd/arenacal/cmd"
	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/MeKo-Tech/arenacal/internal/testutil"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/cucumber/godog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// commandTimeout bounds one in-process CLI invocation, a full calibration included.
const commandTimeout = 3 * time.Minute

// aSyntheticFourCameraRig renders the synthetic rig into the scenario directory.
func (testCtx *TestContext) aSyntheticFourCameraRig() error {
	testCtx.RigDir = testCtx.TempPath("rig")
	paths, err := testutil.WriteRig(testCtx.RigDir, testutil.RenderScene(testutil.DefaultSceneConfig()), "png")
	if err != nil {
		return fmt.Errorf("failed to write rig images: %w", err)
	}
	testCtx.ImagePaths = paths
	return nil
}

// iRunCommand executes an arenacal command line in-process and stores the result.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteVariables(command)
	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] != "arenacal" {
		return fmt.Errorf("unsupported command %q", parts[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	root := cmd.GetRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(parts[1:])
	err := root.ExecuteContext(ctx)
	resetFlags(root)

	testCtx.LastOutput = buf.String()
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)
	testCtx.LastExitCode = 0
	if err != nil {
		testCtx.LastExitCode = 1
	}
	return nil
}

// resetFlags restores every flag to its default; cobra keeps parsed values between runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// extractJSON returns the command's JSON document. Log lines share the output,
// so a pretty-printed document starting on its own line wins over the first brace.
func extractJSON(output string) (string, error) {
	output = strings.TrimSpace(output)
	start := -1
	for i := 0; i < len(output); i++ {
		c := output[i]
		if (c == '{' || c == '[') && (i == 0 || output[i-1] == '\n') && i+1 < len(output) && output[i+1] == '\n' {
			start = i
		}
	}
	if start == -1 {
		start = strings.IndexAny(output, "{[")
	}
	if start == -1 {
		return "", fmt.Errorf("no JSON found in output: %s", output)
	}
	return output[start:], nil
}

// theOutputShouldBeValidJSON verifies the output is valid JSON.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	jsonPart, err := extractJSON(testCtx.LastOutput)
	if err != nil {
		return err
	}
	var js json.RawMessage
	if err := json.Unmarshal([]byte(jsonPart), &js); err != nil {
		return fmt.Errorf("output is not valid JSON: %w\nJSON part: %s", err, jsonPart)
	}
	return nil
}

// theJSONShouldContain verifies the JSON output contains a dotted field path.
func (testCtx *TestContext) theJSONShouldContain(field string) error {
	jsonPart, err := extractJSON(testCtx.LastOutput)
	if err != nil {
		return err
	}
	var data any
	if err := json.Unmarshal([]byte(jsonPart), &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return checkFieldExists(data, field)
}

// checkFieldExists walks a dotted path; a numeric part indexes an array.
func checkFieldExists(data any, field string) error {
	parts := strings.Split(field, ".")
	current := data
	for i, part := range parts {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return fmt.Errorf("field '%s' not found in JSON", strings.Join(parts[:i+1], "."))
			}
			current = next
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(v) {
				return fmt.Errorf("invalid array index '%s' in %s", part, field)
			}
			current = v[idx]
		default:
			return fmt.Errorf("cannot navigate deeper into non-object field '%s'", strings.Join(parts[:i], "."))
		}
	}
	return nil
}

// theErrorShouldMention verifies the error message contains specific text.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}
	fullErrorText := testCtx.LastOutput
	if testCtx.LastError != nil {
		fullErrorText += " " + testCtx.LastError.Error()
	}
	if !strings.Contains(strings.ToLower(fullErrorText), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, fullErrorText)
	}
	return nil
}

// theFileShouldExist verifies a file exists and is not empty.
func (testCtx *TestContext) theFileShouldExist(filename string) error {
	filename = testCtx.substituteVariables(filename)
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("file %s does not exist: %w", filename, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file %s is empty", filename)
	}
	testCtx.LastOutputFile = filename
	return nil
}

// theFileShouldContain verifies a file contains the expected text.
func (testCtx *TestContext) theFileShouldContain(filename, expectedContent string) error {
	filename = testCtx.substituteVariables(filename)
	data, err := os.ReadFile(filename) //nolint:gosec // G304: scenario-controlled path
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if !strings.Contains(string(data), expectedContent) {
		return fmt.Errorf("file %s does not contain '%s'\nContent: %s", filename, expectedContent, data)
	}
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	return testCtx.SetEnv(name, testCtx.substituteVariables(value))
}

// aCalibrationRecordExistsAt writes a small four-camera record.
func (testCtx *TestContext) aCalibrationRecordExistsAt(path string) error {
	path = testCtx.substituteVariables(path)
	cams := make([]camera.Params, 4)
	for i := range cams {
		cams[i] = camera.Params{Focal: 300, Aspect: 1, PPX: 160, PPY: 120, R: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
	}
	quad := [4]utils.Point{{X: 80, Y: 75}, {X: 1450, Y: 70}, {X: 85, Y: 1460}, {X: 1455, Y: 1465}}
	rec := store.NewRecord(quad, cams, store.Metadata{SessionID: "feature-session", WarpScale: 300, Width: 1536, Height: 1536})
	return store.Save(path, rec)
}

func (testCtx *TestContext) registerBackgroundSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a synthetic four-camera rig$`, testCtx.aSyntheticFourCameraRig)
	sc.Step(`^a calibration record exists at "([^"]*)"$`, testCtx.aCalibrationRecordExistsAt)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
}

func (testCtx *TestContext) registerCommandSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
}

func (testCtx *TestContext) registerOutputSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
}

func (testCtx *TestContext) registerFileSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}

// RegisterCommonSteps registers all common step definitions.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	testCtx.registerBackgroundSteps(sc)
	testCtx.registerCommandSteps(sc)
	testCtx.registerOutputSteps(sc)
	testCtx.registerFileSteps(sc)
}
