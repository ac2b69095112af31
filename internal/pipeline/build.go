package pipeline

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"schedcal/internal/config"
	"schedcal/internal/extract"
	"schedcal/internal/ics"
	"schedcal/internal/source"
)

// New builds a Runner from configuration. st may be nil to run without
// history or an extraction cache.
func New(cfg *config.Config, st Store) (*Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	kind, err := source.ParseKind(cfg.Source.Kind)
	if err != nil {
		return nil, fmt.Errorf("config: source.kind: %w", err)
	}

	timeout := time.Duration(cfg.Source.TimeoutSeconds) * time.Second
	opts := []source.Option{
		source.WithClient(&http.Client{Timeout: timeout}),
		source.WithUserAgent(cfg.Source.UserAgent),
		source.WithMaxRetries(cfg.Extract.MaxRetries),
	}
	if kind == source.KindPage {
		opts = append(opts, source.WithRenderer(source.ChromeRenderer{Timeout: timeout}))
	}
	fetcher := source.NewFetcher(filepath.Join(cfg.StateDir, "cache"), opts...)

	ex, err := extract.New(extract.Config{
		Provider:   cfg.Extract.Provider,
		Model:      cfg.Extract.Model,
		APIKey:     cfg.Extract.APIKey,
		MaxRetries: cfg.Extract.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		Source:         source.Source{URL: cfg.Source.URL, Kind: kind},
		Fetcher:        fetcher,
		Extractor:      ex,
		Store:          st,
		Provider:       cfg.Extract.Provider,
		Model:          cfg.Extract.Model,
		ExtractRetries: cfg.Extract.MaxRetries,
		Location:       loc,
		Year:           cfg.Year,
		Policy:         policy,
		OutputPath:     cfg.Output.Path,
		Emit: ics.EmitOptions{
			ProductID:    cfg.Output.ProductID,
			CalendarName: cfg.Output.CalendarName,
			Timezone:     cfg.Timezone,
		},
	}, nil
}
