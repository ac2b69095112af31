// Package pipeline runs one refresh: fetch the schedule document, extract
// records (or reuse a cached extraction), parse, infer end times, and
// publish the calendar file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"schedcal/internal/extract"
	"schedcal/internal/ics"
	"schedcal/internal/infer"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/schedule"
	"schedcal/internal/source"
	"schedcal/internal/store"
)

// ErrRunInProgress is returned by Run when another run holds the lock.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

// Fetcher is satisfied by *source.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Source) (source.Document, error)
}

// Store is satisfied by *store.Store.
type Store interface {
	RecordRun(ctx context.Context, r store.Run) (string, error)
	LookupExtraction(ctx context.Context, docSHA256 string) (*store.Extraction, error)
	SaveExtraction(ctx context.Context, ex store.Extraction) error
}

// Dropped is a record that could not be turned into an event.
type Dropped struct {
	Record model.Record `json:"record"`
	Reason string       `json:"reason"`
}

// Result summarizes a successful run.
type Result struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	SourceURL        string `json:"source_url"`
	DocSHA256        string `json:"doc_sha256"`
	FromCache        bool   `json:"from_cache"`
	ExtractionCached bool   `json:"extraction_cached"`
	Year             int    `json:"year"`

	Records    int               `json:"records"`
	Dropped    []Dropped         `json:"dropped"`
	Entries    []model.Entry     `json:"entries"`
	Violations []infer.Violation `json:"violations,omitempty"`
	Changes    ics.Changes       `json:"changes"`
	OutputPath string            `json:"output_path"`
}

// Runner wires the stages together. Fields are set once before the first
// Run; Store may be nil.
type Runner struct {
	Source    source.Source
	Fetcher   Fetcher
	Extractor extract.Extractor
	Store     Store

	// Provider and Model label cached extractions.
	Provider string
	Model    string

	// ExtractRetries is the number of whole-call retries after a failed
	// extraction.
	ExtractRetries int

	Location *time.Location
	// Year for yearless dates; zero means the current year in Location.
	Year int

	Policy     infer.Policy
	OutputPath string
	Emit       ics.EmitOptions

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	runMu sync.Mutex

	mu   sync.RWMutex
	last *Result
}

// Last returns the most recent successful result, or nil before the first.
func (r *Runner) Last() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run performs one refresh. A failure before the calendar is written leaves
// the previous output in place. Concurrent calls do not queue: the loser
// gets ErrRunInProgress.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.runMu.Unlock()

	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	res := &Result{
		StartedAt:  r.now(),
		SourceURL:  r.Source.URL,
		OutputPath: r.OutputPath,
	}
	res.Year = schedule.ResolveYear(r.Year, res.StartedAt, loc)

	appLog.Info("pipeline run started", "url", source.RedactURL(r.Source.URL), "kind", r.Source.Kind, "year", res.Year)

	err := r.run(ctx, loc, res)
	res.FinishedAt = r.now()
	r.record(ctx, res, err)

	if err != nil {
		appLog.Error("pipeline run failed", err, "url", source.RedactURL(r.Source.URL))
		return nil, err
	}

	appLog.Info("pipeline run completed",
		"entries", len(res.Entries),
		"dropped", len(res.Dropped),
		"added", len(res.Changes.Added),
		"removed", len(res.Changes.Removed),
		"rescheduled", len(res.Changes.Rescheduled),
		"from_cache", res.FromCache,
		"extraction_cached", res.ExtractionCached,
		"elapsed", res.FinishedAt.Sub(res.StartedAt),
	)

	r.mu.Lock()
	r.last = res
	r.mu.Unlock()
	return res, nil
}

func (r *Runner) run(ctx context.Context, loc *time.Location, res *Result) error {
	doc, err := r.Fetcher.Fetch(ctx, r.Source)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	res.DocSHA256 = doc.SHA256
	res.FromCache = doc.FromCache

	records, cached, err := r.records(ctx, doc, res.Year)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	res.Records = len(records)
	res.ExtractionCached = cached

	parser := schedule.Parser{Location: loc, Year: res.Year}
	events, errs := parser.Parse(records)
	res.Dropped = make([]Dropped, 0, len(errs))
	for _, e := range errs {
		appLog.Warn("record dropped", "index", e.Index, "title", e.Record.Title, "date", e.Record.Date, "time", e.Record.Time, "err", e.Err)
		res.Dropped = append(res.Dropped, Dropped{Record: e.Record, Reason: e.Err.Error()})
	}
	if !cached && len(events) > 0 {
		r.saveExtraction(ctx, doc, records)
	}

	res.Entries = infer.Infer(events, r.Policy)
	res.Violations = infer.Check(res.Entries, r.Policy)
	for _, v := range res.Violations {
		appLog.Debug("entry check", "violation", v.String())
	}

	previous, err := ics.ReadFile(r.OutputPath)
	if err != nil {
		appLog.Warn("previous calendar unreadable, diffing against empty", "path", r.OutputPath, "err", err)
		previous = nil
	}
	res.Changes = ics.Diff(previous, res.Entries)

	opts := r.Emit
	opts.Now = res.StartedAt
	if err := ics.WriteFile(r.OutputPath, ics.Emit(res.Entries, opts)); err != nil {
		return err
	}
	return nil
}

// records returns the extraction for doc, from the store when the same
// provider and model already answered for its hash.
func (r *Runner) records(ctx context.Context, doc source.Document, year int) ([]model.Record, bool, error) {
	if r.Store != nil && doc.SHA256 != "" {
		ex, err := r.Store.LookupExtraction(ctx, doc.SHA256)
		switch {
		case err == nil && (ex.Provider != r.Provider || ex.Model != r.Model):
			appLog.Info("extraction cache stale", "sha256", doc.SHA256, "provider", ex.Provider, "model", ex.Model)
		case err == nil:
			appLog.Info("extraction cache hit", "sha256", doc.SHA256, "records", len(ex.Records))
			return ex.Records, true, nil
		case !errors.Is(err, store.ErrNotFound):
			appLog.Warn("extraction cache lookup failed", "err", err)
		}
	}

	if r.Extractor == nil {
		return nil, false, errors.New("no extractor configured")
	}
	records, err := extract.WithRetry(ctx, r.Extractor, extract.Request{Document: doc, Year: year}, r.ExtractRetries)
	if err != nil {
		return nil, false, err
	}
	return records, false, nil
}

// saveExtraction stores records for doc. Callers only save batches that
// produced at least one event, so an empty answer is asked again next run.
func (r *Runner) saveExtraction(ctx context.Context, doc source.Document, records []model.Record) {
	if r.Store == nil || doc.SHA256 == "" {
		return
	}
	err := r.Store.SaveExtraction(ctx, store.Extraction{
		DocSHA256: doc.SHA256,
		Provider:  r.Provider,
		Model:     r.Model,
		Records:   records,
	})
	if err != nil {
		appLog.Warn("extraction cache save failed", "err", err)
	}
}

func (r *Runner) record(ctx context.Context, res *Result, runErr error) {
	if r.Store == nil {
		return
	}
	run := store.Run{
		StartedAt:        res.StartedAt,
		FinishedAt:       res.FinishedAt,
		SourceURL:        res.SourceURL,
		DocSHA256:        res.DocSHA256,
		FromCache:        res.FromCache,
		ExtractionCached: res.ExtractionCached,
		Records:          res.Records,
		Dropped:          len(res.Dropped),
		Entries:          len(res.Entries),
		Status:           store.RunOK,
	}
	if runErr != nil {
		run.Status = store.RunFailed
		run.Error = runErr.Error()
	}

	// A cancelled run is still recorded.
	id, err := r.Store.RecordRun(context.WithoutCancel(ctx), run)
	if err != nil {
		appLog.Warn("run history write failed", "err", err)
		return
	}
	res.RunID = id
}
