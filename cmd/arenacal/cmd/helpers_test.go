package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MeKo-Tech/arenacal/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and captures its output.
// Flags are reset afterwards because cobra keeps parsed values on the shared command tree.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { resetFlags(rootCmd) })

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return strings.TrimSpace(buf.String()), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// writeScene renders the synthetic rig and writes its four stills into dir.
func writeScene(t *testing.T, dir string) []string {
	t.Helper()
	paths, err := testutil.WriteRig(dir, testutil.RenderScene(testutil.DefaultSceneConfig()), "png")
	require.NoError(t, err)
	return paths
}
