// Package extract asks a language model to list the meetings in a schedule
// document as (title, date, time) records.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/source"
)

var (
	// ErrNoContent is returned when the model response has no text.
	ErrNoContent = errors.New("extract: model returned no content")

	// ErrNoAPIKey is returned by New when the backend has no credentials.
	ErrNoAPIKey = errors.New("extract: API key is not set")
)

// Request is one extraction call.
type Request struct {
	Document source.Document

	// Year is stated in the prompt as the year for dates that omit one.
	Year int
}

// Extractor abstracts the model API so tests can supply a fake.
type Extractor interface {
	Extract(ctx context.Context, req Request) ([]model.Record, error)
}

// Config selects and configures a backend.
type Config struct {
	// Provider is "gemini" or "anthropic".
	Provider string
	Model    string
	APIKey   string

	// MaxRetries bounds throttling retries inside one HTTP call.
	MaxRetries int

	// Client is optional; a 120s-timeout client is used when nil.
	Client *http.Client
}

// New returns the backend named by cfg.Provider.
func New(cfg Config) (Extractor, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	switch cfg.Provider {
	case "", "gemini":
		return &GeminiBackend{APIKey: cfg.APIKey, Model: cfg.Model, Client: client, MaxRetries: cfg.MaxRetries}, nil
	case "anthropic":
		return &AnthropicBackend{APIKey: cfg.APIKey, Model: cfg.Model, Client: client, MaxRetries: cfg.MaxRetries}, nil
	default:
		return nil, fmt.Errorf("extract: unknown provider %q", cfg.Provider)
	}
}

// response is the JSON shape the prompt asks for.
type response struct {
	Events []model.Record `json:"events"`
}

// decodeRecords parses model output. Code fences are stripped, and a bare
// JSON array is accepted as well as {"events": [...]}.
func decodeRecords(text string) ([]model.Record, error) {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return nil, ErrNoContent
	}

	if strings.HasPrefix(clean, "[") {
		var records []model.Record
		if err := json.Unmarshal([]byte(clean), &records); err != nil {
			return nil, fmt.Errorf("extract: parsing response JSON: %w", err)
		}
		return records, nil
	}

	var resp response
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("extract: parsing response JSON: %w", err)
	}
	if resp.Events == nil {
		resp.Events = []model.Record{}
	}
	return resp.Events, nil
}

// backoffBase controls the base duration for exponential backoff between
// whole extraction attempts. Tests override this to avoid real sleeps.
var backoffBase = 2 * time.Second

// WithRetry calls ex until it succeeds, retrying up to maxRetries times
// with exponential backoff.
func WithRetry(ctx context.Context, ex Extractor, req Request, maxRetries int) ([]model.Record, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			appLog.Info("extract retrying", "attempt", attempt, "backoff", backoff, "last_err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		records, err := ex.Extract(ctx, req)
		if err == nil {
			return records, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}
