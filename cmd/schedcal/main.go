// Package main is the entry point for the schedcal CLI.
package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appLog "schedcal/internal/log"
)

// version is set at build time via ldflags.
var version = "dev"

// nowFunc is the clock used for the default year and DTSTAMP.
var nowFunc = time.Now

const defaultConfigPath = "/etc/schedcal/config.yaml"

// rootCmd is the base command for the schedcal CLI.
var rootCmd = &cobra.Command{
	Use:   "schedcal",
	Short: "Publish a meeting-schedule document as an iCalendar feed",
	Long: `schedcal fetches a published meeting schedule (PDF, HTML, or a
JavaScript-rendered page), asks a language model to list the meetings,
infers an end time for each one, and publishes the result as an .ics feed.

Settings come from the YAML config file; flags and SCHEDCAL_* environment
variables override it (for example SCHEDCAL_API_KEY, SCHEDCAL_TIMEZONE).`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", defaultConfigPath, "config file (created with defaults if missing)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn, or error")
	rootCmd.PersistentFlags().String("state-dir", "", "directory for the fetch cache, run database, and default output")
	rootCmd.PersistentFlags().String("timezone", "", "IANA timezone of the schedule")
	rootCmd.PersistentFlags().Int("year", 0, "year for dates without one (default: current year)")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindPFlag("timezone", rootCmd.PersistentFlags().Lookup("timezone"))
	_ = viper.BindPFlag("year", rootCmd.PersistentFlags().Lookup("year"))
}

func initConfig() {
	viper.SetEnvPrefix("SCHEDCAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		appLog.Error("schedcal failed", err)
		os.Exit(1)
	}
}
