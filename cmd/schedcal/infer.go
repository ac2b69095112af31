package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"schedcal/internal/ics"
	"schedcal/internal/infer"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/schedule"
)

var inferCmd = &cobra.Command{
	Use:   "infer [records-file]",
	Short: "Infer end times for records in a YAML or JSON file and print the calendar",
	Long: `Infer reads extracted records, either a list of {title, date, time}
objects or an object with an "events" list, from a file (or stdin when the
argument is "-" or missing). It parses them in the configured timezone,
infers end times, and writes the calendar to stdout. No network access.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInfer,
}

func init() {
	inferCmd.Flags().String("floor-mode", "", `"always" or "clamp_to_next" (overrides config)`)
	inferCmd.Flags().String("cutoff", "", "end-of-day cutoff, HH:MM (overrides config)")
	inferCmd.Flags().Bool("table", false, "print a table instead of the calendar")

	_ = viper.BindPFlag("floor_mode", inferCmd.Flags().Lookup("floor-mode"))
	_ = viper.BindPFlag("cutoff", inferCmd.Flags().Lookup("cutoff"))

	rootCmd.AddCommand(inferCmd)
}

func runInfer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	table, _ := cmd.Flags().GetBool("table")

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	records, err := decodeRecords(in)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	parser := schedule.Parser{Location: loc, Year: schedule.ResolveYear(cfg.Year, nowFunc(), loc)}
	events, errs := parser.Parse(records)
	for _, e := range errs {
		appLog.Warn("record dropped", "index", e.Index, "title", e.Record.Title, "err", e.Err)
	}

	entries := infer.Infer(events, policy)
	for _, v := range infer.Check(entries, policy) {
		appLog.Debug("entry check", "violation", v.String())
	}

	out := cmd.OutOrStdout()
	if table {
		printEntries(out, entries)
		return nil
	}
	cal := ics.Emit(entries, ics.EmitOptions{
		ProductID:    cfg.Output.ProductID,
		CalendarName: cfg.Output.CalendarName,
		Timezone:     cfg.Timezone,
		Now:          nowFunc(),
	})
	_, err = io.WriteString(out, cal.Serialize())
	return err
}

// decodeRecords accepts a YAML or JSON sequence of records, or a mapping
// with an "events" sequence.
func decodeRecords(r io.Reader) ([]model.Record, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []model.Record{}, nil
		}
		return nil, fmt.Errorf("records: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}

	switch root.Kind {
	case yaml.SequenceNode:
		var records []model.Record
		if err := root.Decode(&records); err != nil {
			return nil, fmt.Errorf("records: %w", err)
		}
		return records, nil
	case yaml.MappingNode:
		var wrapped struct {
			Events []model.Record `yaml:"events"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("records: %w", err)
		}
		if wrapped.Events == nil {
			return nil, errors.New(`records: mapping has no "events" list`)
		}
		return wrapped.Events, nil
	default:
		return nil, errors.New("records: expected a list or an object with an \"events\" list")
	}
}
