package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"schedcal/internal/infer"
)

// NOTE: Load/Save keep the YAML file as the single source of truth; CLI
// flags and SCHEDCAL_* environment variables are applied on top by
// cmd/schedcal and are never written back.

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "America/New_York"
	defaultRefreshCron  = "0 */6 * * *"
	defaultSourceURL    = "https://edr.state.fl.us/Content/calendar.pdf"
	defaultSourceKind   = "pdf"
	defaultUserAgent    = "schedcal/0.1"
	defaultTimeoutSec   = 60
	defaultProvider     = "gemini"
	defaultMaxRetries   = 3
	defaultStateDir     = "/var/lib/schedcal"
	defaultOutputName   = "calendar.ics"
	defaultCalendarName = "Meeting Schedule"
	defaultProductID    = "-//schedcal//Meeting Schedule//EN"
	defaultJitterMin    = 7
	defaultJitterMax    = 19
)

var defaultModels = map[string]string{
	"gemini":    "gemini-3-flash-preview",
	"anthropic": "claude-sonnet-4-20250514",
}

// DefaultModel returns the model used when extract.model is unset.
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// SourceConfig describes where the schedule document comes from.
type SourceConfig struct {
	// URL of the schedule document.
	URL string `yaml:"url" json:"url"`
	// Kind is one of "pdf", "html", "page" (rendered in headless Chromium)
	// or "text".
	Kind string `yaml:"kind" json:"kind"`
	// UserAgent is sent with every fetch.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// TimeoutSeconds bounds a single fetch.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ExtractConfig selects the language-model backend.
type ExtractConfig struct {
	// Provider is "gemini" or "anthropic".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// APIKey is usually supplied via SCHEDCAL_API_KEY instead of the file.
	APIKey     string `yaml:"api_key,omitempty" json:"-"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// InferenceConfig is the end-time policy in config-file form.
type InferenceConfig struct {
	// ElapsedCap is a Go duration string (default "5h").
	ElapsedCap string `yaml:"elapsed_cap" json:"elapsed_cap"`
	// Cutoff is an end-of-day clock time, "HH:MM" or "HH:MM:SS" (default "19:00").
	Cutoff string `yaml:"cutoff" json:"cutoff"`
	// Floor is a Go duration string (default "15m").
	Floor string `yaml:"floor" json:"floor"`
	// FloorMode is "always" (default) or "clamp_to_next".
	FloorMode string `yaml:"floor_mode" json:"floor_mode"`
}

// OutputConfig controls the published calendar.
type OutputConfig struct {
	// Path of the .ics file. Defaults to <state_dir>/calendar.ics.
	Path         string `yaml:"path" json:"path"`
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`
	ProductID    string `yaml:"product_id" json:"product_id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone every schedule timestamp is interpreted in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Year applies to records whose date has no year. Zero means the
	// current year in Timezone at run time.
	Year int `yaml:"year" json:"year"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// JitterMinSeconds/JitterMaxSeconds bound the random delay before each
	// scheduled run. Both unset means 7..19 s; 0 and 0 disables the delay.
	JitterMinSeconds *int `yaml:"jitter_min_seconds" json:"jitter_min_seconds"`
	JitterMaxSeconds *int `yaml:"jitter_max_seconds" json:"jitter_max_seconds"`

	Source    SourceConfig    `yaml:"source" json:"source"`
	Extract   ExtractConfig   `yaml:"extract" json:"extract"`
	Inference InferenceConfig `yaml:"inference" json:"inference"`
	Output    OutputConfig    `yaml:"output" json:"output"`

	// StateDir holds the fetch cache and the run database.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Year < 0 {
		c.Year = 0
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.JitterMinSeconds == nil && c.JitterMaxSeconds == nil {
		c.JitterMinSeconds = intPtr(defaultJitterMin)
		c.JitterMaxSeconds = intPtr(defaultJitterMax)
	}
	if c.JitterMinSeconds == nil || *c.JitterMinSeconds < 0 {
		c.JitterMinSeconds = intPtr(0)
	}
	if c.JitterMaxSeconds == nil || *c.JitterMaxSeconds < *c.JitterMinSeconds {
		c.JitterMaxSeconds = intPtr(*c.JitterMinSeconds)
	}

	if c.Source.URL == "" {
		c.Source.URL = defaultSourceURL
	}
	if c.Source.Kind == "" {
		c.Source.Kind = defaultSourceKind
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = defaultUserAgent
	}
	if c.Source.TimeoutSeconds <= 0 {
		c.Source.TimeoutSeconds = defaultTimeoutSec
	}

	if c.Extract.Provider == "" {
		c.Extract.Provider = defaultProvider
	}
	if c.Extract.Model == "" {
		c.Extract.Model = defaultModels[c.Extract.Provider]
	}
	if c.Extract.MaxRetries <= 0 {
		c.Extract.MaxRetries = defaultMaxRetries
	}

	if c.Inference.ElapsedCap == "" {
		c.Inference.ElapsedCap = "5h"
	}
	if c.Inference.Cutoff == "" {
		c.Inference.Cutoff = "19:00"
	}
	if c.Inference.Floor == "" {
		c.Inference.Floor = "15m"
	}
	if c.Inference.FloorMode == "" {
		c.Inference.FloorMode = string(infer.FloorAlways)
	}

	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	if c.Output.Path == "" {
		c.Output.Path = filepath.Join(c.StateDir, defaultOutputName)
	}
	if c.Output.CalendarName == "" {
		c.Output.CalendarName = defaultCalendarName
	}
	if c.Output.ProductID == "" {
		c.Output.ProductID = defaultProductID
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Jitter returns the configured delay bounds. Call after Normalize.
func (c *Config) Jitter() (lo, hi time.Duration) {
	if c.JitterMinSeconds != nil {
		lo = time.Duration(*c.JitterMinSeconds) * time.Second
	}
	if c.JitterMaxSeconds != nil {
		hi = time.Duration(*c.JitterMaxSeconds) * time.Second
	}
	return lo, hi
}

func intPtr(v int) *int { return &v }

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Policy converts the inference section into an infer.Policy.
func (c *Config) Policy() (infer.Policy, error) {
	var p infer.Policy

	elapsed, err := time.ParseDuration(c.Inference.ElapsedCap)
	if err != nil || elapsed <= 0 {
		return p, fmt.Errorf("config: inference.elapsed_cap %q: must be a positive duration", c.Inference.ElapsedCap)
	}
	floor, err := time.ParseDuration(c.Inference.Floor)
	if err != nil || floor <= 0 {
		return p, fmt.Errorf("config: inference.floor %q: must be a positive duration", c.Inference.Floor)
	}
	cutoff, err := infer.ParseClock(c.Inference.Cutoff)
	if err != nil {
		return p, fmt.Errorf("config: inference.cutoff: %w", err)
	}
	// infer.Policy treats a zero Clock as unset.
	if cutoff.IsZero() {
		return p, fmt.Errorf("config: inference.cutoff %q: must be after 00:00", c.Inference.Cutoff)
	}
	mode, err := infer.ParseFloorMode(c.Inference.FloorMode)
	if err != nil {
		return p, fmt.Errorf("config: inference.floor_mode: %w", err)
	}

	p = infer.Policy{
		ElapsedCap: elapsed,
		Cutoff:     cutoff,
		Floor:      floor,
		FloorMode:  mode,
	}
	return p, nil
}

// Validate checks the fields that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	switch c.Source.Kind {
	case "pdf", "html", "page", "text":
	default:
		errs = append(errs, fmt.Errorf("config: source.kind %q: must be pdf, html, page, or text", c.Source.Kind))
	}
	if _, ok := defaultModels[c.Extract.Provider]; !ok {
		errs = append(errs, fmt.Errorf("config: extract.provider %q: must be gemini or anthropic", c.Extract.Provider))
	}
	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data to a temp file next to path, syncs it, sets
// perm and renames it over path. Readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".schedcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
