package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent calibration runs",
	Long: `List the most recent calibration runs recorded in the history database,
newest first. Failed saves are listed with their error.

Examples:
  arenacal history
  arenacal history --limit 5 --format json
  arenacal history --db /var/lib/arenacal/history.db`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		path := cfg.Store.HistoryPath
		if cmd.Flags().Changed("db") {
			path, _ = cmd.Flags().GetString("db")
		}
		if path == "" {
			return fmt.Errorf("no history database configured")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")

		history, err := store.OpenHistory(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := history.Close(); err != nil {
				slog.Warn("Failed to close history", "error", err)
			}
		}()

		entries, err := history.Recent(commandContext(cmd), limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch format {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		case "text":
			if len(entries) == 0 {
				_, err := fmt.Fprintln(out, "No calibration runs recorded")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "CREATED\tSTATUS\tSIZE\tWARP SCALE\tRMS\tRECORD")
			for _, e := range entries {
				record := e.RecordPath
				if e.Error != "" {
					record += " (" + e.Error + ")"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%.2f\t%.4f\t%s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Status, e.Width, e.Height, e.WarpScale, e.RMS, record)
			}
			return tw.Flush()
		default:
			return fmt.Errorf("invalid output format: %s (must be one of: text, json)", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	historyCmd.Flags().String("db", "", "history database path (defaults to store.history_path)")
	historyCmd.Flags().StringP("format", "f", "text", "output format (text, json)")
}
