// Package store keeps run history and caches model extractions by document
// hash in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"schedcal/internal/model"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when no cached extraction matches.
var ErrNotFound = errors.New("store: not found")

// RunStatus is the outcome of one pipeline run.
type RunStatus string

const (
	RunOK     RunStatus = "ok"
	RunFailed RunStatus = "failed"
)

// Run is one row of run history.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	SourceURL  string    `json:"source_url"`
	DocSHA256  string    `json:"doc_sha256,omitempty"`

	// FromCache is set when the document came from the HTTP cache.
	FromCache bool `json:"from_cache"`
	// ExtractionCached is set when the model was not called.
	ExtractionCached bool `json:"extraction_cached"`

	Records int       `json:"records"`
	Dropped int       `json:"dropped"`
	Entries int       `json:"entries"`
	Status  RunStatus `json:"status"`
	Error   string    `json:"error,omitempty"`
}

// Extraction is a cached model response.
type Extraction struct {
	DocSHA256 string
	Provider  string
	Model     string
	Records   []model.Record
	CreatedAt time.Time
}

// Store handles database operations
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The scheduler and web handlers share the handle; sqlite allows one
	// writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun inserts r, assigning an ID when empty, and returns the ID.
func (s *Store) RecordRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, source_url, doc_sha256, from_cache,
			extraction_cached, records, dropped, entries, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.SourceURL, r.DocSHA256, r.FromCache,
		r.ExtractionCached, r.Records, r.Dropped, r.Entries, string(r.Status), r.Error,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return r.ID, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, source_url, doc_sha256, from_cache,
			extraction_cached, records, dropped, entries, status, error
		FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.SourceURL, &r.DocSHA256, &r.FromCache,
			&r.ExtractionCached, &r.Records, &r.Dropped, &r.Entries, &status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LookupExtraction returns the cached extraction for a document hash, or
// ErrNotFound.
func (s *Store) LookupExtraction(ctx context.Context, docSHA256 string) (*Extraction, error) {
	var ex Extraction
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT doc_sha256, provider, model, records_json, created_at FROM extractions WHERE doc_sha256 = ?",
		docSHA256,
	).Scan(&ex.DocSHA256, &ex.Provider, &ex.Model, &raw, &ex.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get extraction: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &ex.Records); err != nil {
		return nil, fmt.Errorf("decode extraction records: %w", err)
	}
	return &ex, nil
}

// SaveExtraction stores or replaces the extraction for ex.DocSHA256.
func (s *Store) SaveExtraction(ctx context.Context, ex Extraction) error {
	if ex.DocSHA256 == "" {
		return errors.New("store: extraction without document hash")
	}
	if ex.Records == nil {
		ex.Records = []model.Record{}
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(ex.Records)
	if err != nil {
		return fmt.Errorf("encode extraction records: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extractions (doc_sha256, provider, model, records_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_sha256) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			records_json = excluded.records_json,
			created_at = excluded.created_at`,
		ex.DocSHA256, ex.Provider, ex.Model, string(raw), ex.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert extraction: %w", err)
	}
	return nil
}
