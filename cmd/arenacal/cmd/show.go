package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <record>",
	Short: "Print a saved calibration record",
	Long: `Read a calibration record written by calibrate, serve or the watcher and
print its corners, camera matrices and metadata.

Examples:
  arenacal show calibration.yaml
  arenacal show calibration.yaml --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		rec, err := store.Load(args[0])
		if err != nil {
			return err
		}
		switch format {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		case "text":
			return writeRecordText(cmd.OutOrStdout(), rec)
		default:
			return fmt.Errorf("invalid output format: %s (must be one of: text, json)", format)
		}
	},
}

func writeRecordText(w io.Writer, rec *store.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	m := rec.Metadata
	_, _ = fmt.Fprintf(tw, "Session:\t%s\n", m.SessionID)
	if m.RunID != "" {
		_, _ = fmt.Fprintf(tw, "Run:\t%s\n", m.RunID)
	}
	_, _ = fmt.Fprintf(tw, "Created:\t%s\n", m.Created.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(tw, "Panorama:\t%dx%d\n", m.Width, m.Height)
	_, _ = fmt.Fprintf(tw, "Warp scale:\t%.2f\n", m.WarpScale)
	_, _ = fmt.Fprintf(tw, "RMS:\t%.4f\n", m.RMS)
	for i, c := range rec.Corners() {
		_, _ = fmt.Fprintf(tw, "Corner %d:\t(%.1f, %.1f)\n", i+1, c.X, c.Y)
	}
	for i := range rec.K {
		k := rec.K[i]
		_, _ = fmt.Fprintf(tw, "Camera %d:\tf=%.2f  ppx=%.1f  ppy=%.1f\n", i, k[0], k[2], k[5])
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringP("format", "f", "text", "output format (text, json)")
}
