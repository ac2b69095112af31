package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"schedcal/internal/model"
	"schedcal/internal/pipeline"
	"schedcal/internal/store"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run one refresh and exit",
	Long: `Once fetches the schedule, extracts and parses the meetings, infers
end times, and writes the calendar file, then prints the entries. A failed
run leaves the previous calendar in place and exits non-zero.`,
	RunE: runOnce,
}

func init() {
	onceCmd.Flags().String("output", "", "calendar file to write (overrides config)")
	onceCmd.Flags().Bool("no-history", false, "do not record the run or use the extraction cache")

	_ = viper.BindPFlag("output", onceCmd.Flags().Lookup("output"))

	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	noHistory, _ := cmd.Flags().GetBool("no-history")

	var st pipeline.Store
	if !noHistory {
		s, err := store.Open(filepath.Join(cfg.StateDir, "schedcal.db"))
		if err != nil {
			return err
		}
		defer s.Close()
		st = s
	}

	runner, err := pipeline.New(cfg, st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printEntries(out, res.Entries)
	fmt.Fprintf(out, "\n%d entries written to %s (%d dropped, +%d -%d ~%d)\n",
		len(res.Entries), res.OutputPath, len(res.Dropped),
		len(res.Changes.Added), len(res.Changes.Removed), len(res.Changes.Rescheduled))
	for _, d := range res.Dropped {
		fmt.Fprintf(os.Stderr, "dropped %q (%s %s): %s\n", d.Record.Title, d.Record.Date, d.Record.Time, d.Reason)
	}
	return nil
}

// printEntries writes one aligned row per entry.
func printEntries(w io.Writer, entries []model.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tBOUND\tTITLE")
	for _, e := range entries {
		bound := string(e.Bound)
		if e.OverlapsNext {
			bound += " (overlaps next)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Start.Format("Mon 2006-01-02 15:04 MST"),
			e.End.Format("15:04"),
			bound,
			e.Title,
		)
	}
	tw.Flush()
}
