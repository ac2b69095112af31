package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/config"
	"schedcal/internal/extract"
	"schedcal/internal/ics"
	"schedcal/internal/infer"
	"schedcal/internal/model"
	"schedcal/internal/source"
	"schedcal/internal/store"
)

type fakeFetcher struct {
	doc source.Document
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, src source.Source) (source.Document, error) {
	if f.err != nil {
		return source.Document{}, f.err
	}
	d := f.doc
	d.URL = src.URL
	return d, nil
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	years   []int
	records []model.Record
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) ([]model.Record, error) {
	f.mu.Lock()
	f.calls++
	f.years = append(f.years, req.Year)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.records, f.err
}

var sampleRecords = []model.Record{
	{Title: "Revenue Estimating Conference", Date: "12-January", Time: "1:30 PM"},
	{Title: "Demographic Estimating Conference", Date: "12-January", Time: "9:00 AM"},
	{Title: "Unreadable", Date: "sometime", Time: "9:00 AM"},
	{Title: "Evening Session", Date: "12-January", Time: "6:50 PM"},
}

func newRunner(t *testing.T, ex *fakeExtractor, st Store) (*Runner, *fakeFetcher) {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	f := &fakeFetcher{doc: source.Document{Kind: source.KindPDF, MIMEType: "application/pdf", Body: []byte("%PDF"), SHA256: "doc-1"}}
	r := &Runner{
		Source:     source.Source{URL: "https://example.com/calendar.pdf", Kind: source.KindPDF},
		Fetcher:    f,
		Extractor:  ex,
		Store:      st,
		Provider:   "gemini",
		Model:      "test-model",
		Location:   ny,
		Policy:     infer.DefaultPolicy(),
		OutputPath: filepath.Join(t.TempDir(), "calendar.ics"),
		Emit:       ics.EmitOptions{CalendarName: "Test", Timezone: "America/New_York"},
		Now:        func() time.Time { return time.Date(2026, time.January, 5, 12, 0, 0, 0, time.UTC) },
	}
	return r, f
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "schedcal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRun_WritesCalendar(t *testing.T) {
	ex := &fakeExtractor{records: sampleRecords}
	st := openStore(t)
	r, _ := newRunner(t, ex, st)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2026, res.Year)
	assert.Equal(t, []int{2026}, ex.years)
	assert.Equal(t, 4, res.Records)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "Unreadable", res.Dropped[0].Record.Title)

	require.Len(t, res.Entries, 3)
	assert.Equal(t, "Demographic Estimating Conference", res.Entries[0].Title)
	assert.Equal(t, model.BoundNext, res.Entries[0].Bound)
	assert.Equal(t, model.BoundElapsed, res.Entries[1].Bound)
	assert.Equal(t, model.BoundFloor, res.Entries[2].Bound)
	assert.Len(t, res.Changes.Added, 3)
	assert.NotEmpty(t, res.RunID)

	written, err := ics.ReadFile(r.OutputPath)
	require.NoError(t, err)
	require.Len(t, written, 3)
	assert.True(t, written[0].End.Equal(res.Entries[0].End))

	assert.Same(t, res, r.Last())

	runs, err := st.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunOK, runs[0].Status)
	assert.Equal(t, 3, runs[0].Entries)
	assert.Equal(t, 1, runs[0].Dropped)
}

func TestRun_ReusesCachedExtraction(t *testing.T) {
	ex := &fakeExtractor{records: sampleRecords}
	st := openStore(t)
	r, _ := newRunner(t, ex, st)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, ex.calls)
	assert.True(t, res.ExtractionCached)
	assert.True(t, res.Changes.Empty())
	assert.Len(t, res.Entries, 3)
}

func TestRun_EmptyExtractionIsNotCached(t *testing.T) {
	ex := &fakeExtractor{records: []model.Record{}}
	st := openStore(t)
	r, _ := newRunner(t, ex, st)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Entries)

	_, err = st.LookupExtraction(context.Background(), "doc-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ex.records = sampleRecords
	res, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ex.calls)
	assert.False(t, res.ExtractionCached)
	assert.Len(t, res.Entries, 3)
}

func TestRun_UnparseableExtractionIsNotCached(t *testing.T) {
	ex := &fakeExtractor{records: []model.Record{{Title: "Unreadable", Date: "sometime", Time: "9:00 AM"}}}
	st := openStore(t)
	r, _ := newRunner(t, ex, st)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Dropped, 1)

	_, err = st.LookupExtraction(context.Background(), "doc-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_ModelChangeBypassesCachedExtraction(t *testing.T) {
	ex := &fakeExtractor{records: sampleRecords}
	st := openStore(t)
	r, _ := newRunner(t, ex, st)

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	r.Model = "other-model"
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ex.calls)
	assert.False(t, res.ExtractionCached)
	assert.Len(t, res.Entries, 3)

	saved, err := st.LookupExtraction(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "other-model", saved.Model)

	r.Provider = "anthropic"
	res, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ex.calls)
	assert.False(t, res.ExtractionCached)
}

func TestRun_FetchFailureKeepsPreviousCalendar(t *testing.T) {
	ex := &fakeExtractor{records: sampleRecords}
	st := openStore(t)
	r, f := newRunner(t, ex, st)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(r.OutputPath)
	require.NoError(t, err)
	first := r.Last()

	f.err = errors.New("connection refused")
	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch: connection refused")

	after, err := os.ReadFile(r.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Same(t, first, r.Last())

	runs, err := st.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	statuses := []store.RunStatus{runs[0].Status, runs[1].Status}
	assert.ElementsMatch(t, []store.RunStatus{store.RunOK, store.RunFailed}, statuses)
}

func TestRun_ExtractionFailure(t *testing.T) {
	ex := &fakeExtractor{err: errors.New("quota exceeded")}
	r, _ := newRunner(t, ex, nil)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Nil(t, r.Last())

	_, statErr := os.Stat(r.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_EmptyBatchWritesEmptyCalendar(t *testing.T) {
	ex := &fakeExtractor{records: []model.Record{}}
	r, _ := newRunner(t, ex, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Entries)

	data, err := os.ReadFile(r.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN:VCALENDAR")
	assert.NotContains(t, string(data), "BEGIN:VEVENT")
}

func TestRun_RejectsOverlappingRun(t *testing.T) {
	ex := &fakeExtractor{
		records: sampleRecords,
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	r, _ := newRunner(t, ex, nil)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		done <- err
	}()
	<-ex.entered

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(ex.block)
	require.NoError(t, <-done)
}

func TestNew_FromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.Output.Path = filepath.Join(cfg.StateDir, "calendar.ics")

	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, extract.ErrNoAPIKey)

	cfg.Extract.APIKey = "k"
	cfg.Inference.Cutoff = "18:30"
	r, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, source.KindPDF, r.Source.Kind)
	assert.Equal(t, infer.Clock{Hour: 18, Minute: 30}, r.Policy.Cutoff)
	assert.Equal(t, "America/New_York", r.Location.String())
	assert.Nil(t, r.Store)

	cfg.Timezone = "Nowhere/Special"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}
