package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"schedcal/internal/config"
	appLog "schedcal/internal/log"
)

// loadConfig reads the YAML file named by --config and applies flag and
// environment overrides from the global viper instance.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if lvl, ok := appLog.ParseLevel(cfg.LogLevel); ok {
		appLog.SetLevel(lvl)
	}
	appLog.Debug("config loaded", "path", path)
	return cfg, nil
}

// applyOverrides copies every key set in v (by a bound flag or a
// SCHEDCAL_* variable) onto cfg. Defaults derived from an overridden field
// (the output path from state_dir, the model from provider) follow it.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	str := func(key string, dst *string) bool {
		if val := v.GetString(key); v.IsSet(key) && val != "" {
			*dst = val
			return true
		}
		return false
	}

	str("listen", &cfg.Listen)
	str("timezone", &cfg.Timezone)
	str("log_level", &cfg.LogLevel)
	str("refresh", &cfg.RefreshCron)
	str("source_url", &cfg.Source.URL)
	str("source_kind", &cfg.Source.Kind)
	str("floor_mode", &cfg.Inference.FloorMode)
	str("cutoff", &cfg.Inference.Cutoff)

	if v.IsSet("year") {
		if y := v.GetInt("year"); y > 0 {
			cfg.Year = y
		}
	}

	oldStateDir := cfg.StateDir
	if str("state_dir", &cfg.StateDir) {
		if cfg.Output.Path == filepath.Join(oldStateDir, "calendar.ics") {
			cfg.Output.Path = filepath.Join(cfg.StateDir, "calendar.ics")
		}
	}
	str("output", &cfg.Output.Path)

	oldProvider := cfg.Extract.Provider
	if str("provider", &cfg.Extract.Provider) && cfg.Extract.Model == config.DefaultModel(oldProvider) {
		cfg.Extract.Model = config.DefaultModel(cfg.Extract.Provider)
	}
	str("model", &cfg.Extract.Model)

	if !str("api_key", &cfg.Extract.APIKey) && cfg.Extract.APIKey == "" {
		switch cfg.Extract.Provider {
		case "gemini":
			cfg.Extract.APIKey = os.Getenv("GEMINI_API_KEY")
		case "anthropic":
			cfg.Extract.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	cfg.Normalize()
}
