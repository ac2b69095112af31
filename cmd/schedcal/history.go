package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"schedcal/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent refresh runs",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs to show")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	st, err := store.Open(filepath.Join(cfg.StateDir, "schedcal.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.RecentRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tTOOK\tENTRIES\tDROPPED\tCACHED\tERROR")
	for _, r := range runs {
		cached := "-"
		switch {
		case r.ExtractionCached:
			cached = "extraction"
		case r.FromCache:
			cached = "document"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.StartedAt.In(loc).Format("2006-01-02 15:04:05"),
			r.Status,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.Entries,
			r.Dropped,
			cached,
			r.Error,
		)
	}
	return tw.Flush()
}
