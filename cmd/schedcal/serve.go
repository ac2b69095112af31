package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"schedcal/internal/config"
	appLog "schedcal/internal/log"
	"schedcal/internal/pipeline"
	"schedcal/internal/scheduler"
	"schedcal/internal/store"
	"schedcal/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Refresh on a cron schedule and serve the calendar over HTTP",
	Long: `Serve runs the refresh pipeline on the configured cron schedule (each
trigger waits a random jitter first) and serves the published calendar at
/calendar.ics together with a small JSON API:

  GET  /health         liveness, never authenticated
  GET  /calendar.ics   the published feed
  GET  /api/entries    entries of the last run
  GET  /api/runs       recent run history
  POST /api/refresh    run now`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("refresh", "", "cron schedule (overrides config)")
	serveCmd.Flags().Bool("no-initial-run", false, "wait for the first cron trigger instead of refreshing at startup")

	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("refresh", serveCmd.Flags().Lookup("refresh"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	noInitial, _ := cmd.Flags().GetBool("no-initial-run")

	appLog.Info("schedcal starting", "version", version)
	logEffectiveConfig(cfg)

	st, err := store.Open(filepath.Join(cfg.StateDir, "schedcal.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := pipeline.New(cfg, st)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	var jitter scheduler.Jitter
	jitter.Min, jitter.Max = cfg.Jitter()
	opts := []scheduler.Option{scheduler.WithLocation(loc)}
	if !noInitial {
		opts = append(opts, scheduler.WithRunAtStart())
	}
	sched, err := scheduler.Start(ctx, cfg.RefreshCron, jitter, func(ctx context.Context) {
		if _, err := runner.Run(ctx); err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
			appLog.Warn("scheduled run failed; previous calendar kept", "err", err)
		}
	}, opts...)
	if err != nil {
		return err
	}

	srv := web.NewServer(cfg, runner, st)
	serveErr := web.Serve(ctx, cfg, srv.Handler())
	cancel()
	<-sched.Done()

	appLog.Info("schedcal exiting")
	return serveErr
}

func logEffectiveConfig(cfg *config.Config) {
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"year", cfg.Year,
		"refresh", cfg.RefreshCron,
		"source_kind", cfg.Source.Kind,
		"provider", cfg.Extract.Provider,
		"model", cfg.Extract.Model,
		"api_key_set", cfg.Extract.APIKey != "",
		"elapsed_cap", cfg.Inference.ElapsedCap,
		"cutoff", cfg.Inference.Cutoff,
		"floor", cfg.Inference.Floor,
		"floor_mode", cfg.Inference.FloorMode,
		"output", cfg.Output.Path,
		"state_dir", cfg.StateDir,
	)
}
