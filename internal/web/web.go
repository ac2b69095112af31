package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"schedcal/internal/config"
	"schedcal/internal/ics"
	"schedcal/internal/infer"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/pipeline"
	"schedcal/internal/store"
)

// refreshTimeout bounds a run started from POST /api/refresh. The run is
// detached from the request so a disconnecting client does not abort it.
const refreshTimeout = 10 * time.Minute

// Runner is satisfied by *pipeline.Runner.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
	Last() *pipeline.Result
}

// History is satisfied by *store.Store.
type History interface {
	RecentRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// Server provides the calendar feed and a small JSON API.
type Server struct {
	cfg     *config.Config
	runner  Runner
	history History
	mux     *http.ServeMux

	// The published file is re-read only when its mtime changes.
	calMu    sync.RWMutex
	calCache *calendarCache
}

type calendarCache struct {
	body    []byte
	modTime time.Time
}

// NewServer constructs a new Server. history may be nil.
func NewServer(cfg *config.Config, runner Runner, history History) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		history: history,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, cfg *config.Config, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /api/entries", s.handleEntries)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the published .ics file. Conditional requests
// (If-Modified-Since) are answered by http.ServeContent.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	body, modTime, err := s.calendarBytes()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "calendar not generated yet")
			return
		}
		appLog.Error("calendar read failed", err, "path", s.cfg.Output.Path)
		writeError(w, http.StatusInternalServerError, "failed to read calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	http.ServeContent(w, r, "calendar.ics", modTime, bytes.NewReader(body))
}

func (s *Server) calendarBytes() ([]byte, time.Time, error) {
	path := s.cfg.Output.Path
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}

	s.calMu.RLock()
	cc := s.calCache
	s.calMu.RUnlock()
	if cc != nil && cc.modTime.Equal(info.ModTime()) {
		return cc.body, cc.modTime, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}

	s.calMu.Lock()
	s.calCache = &calendarCache{body: body, modTime: info.ModTime()}
	s.calMu.Unlock()
	return body, info.ModTime(), nil
}

// entryDTO is a JSON-friendly view of an entry.
type entryDTO struct {
	Title           string      `json:"title"`
	Start           time.Time   `json:"start"`
	End             time.Time   `json:"end"`
	Bound           model.Bound `json:"bound,omitempty"`
	OverlapsNext    bool        `json:"overlaps_next"`
	DurationMinutes float64     `json:"duration_minutes"`
}

// entriesResponse is the JSON response shape for /api/entries.
type entriesResponse struct {
	Entries     []entryDTO         `json:"entries"`
	Timezone    string             `json:"timezone"`
	GeneratedAt *time.Time         `json:"generated_at,omitempty"`
	RunID       string             `json:"run_id,omitempty"`
	Dropped     []pipeline.Dropped `json:"dropped,omitempty"`
	Violations  []infer.Violation  `json:"violations,omitempty"`
	Changes     *ics.Changes       `json:"changes,omitempty"`
}

// handleEntries returns the entries of the last run. Before the first run
// in this process it falls back to the entries in the published file.
func (s *Server) handleEntries(w http.ResponseWriter, _ *http.Request) {
	loc := resolveLocationOrLocal(s.cfg.Timezone)
	resp := entriesResponse{Entries: []entryDTO{}, Timezone: loc.String()}

	if last := s.runner.Last(); last != nil {
		finished := last.FinishedAt
		resp.GeneratedAt = &finished
		resp.RunID = last.RunID
		resp.Dropped = last.Dropped
		resp.Violations = last.Violations
		resp.Changes = &last.Changes
		resp.Entries = toDTOs(last.Entries, loc)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	entries, err := ics.ReadFile(s.cfg.Output.Path)
	if err != nil {
		appLog.Error("api entries: read published calendar failed", err, "path", s.cfg.Output.Path)
		writeError(w, http.StatusInternalServerError, "failed to read calendar")
		return
	}
	resp.Entries = toDTOs(entries, loc)
	writeJSON(w, http.StatusOK, resp)
}

func toDTOs(entries []model.Entry, loc *time.Location) []entryDTO {
	dtos := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, entryDTO{
			Title:           e.Title,
			Start:           e.Start.In(loc),
			End:             e.End.In(loc),
			Bound:           e.Bound,
			OverlapsNext:    e.OverlapsNext,
			DurationMinutes: e.Duration().Minutes(),
		})
	}
	return dtos
}

// refreshResponse is the JSON response shape for /api/refresh.
type refreshResponse struct {
	RunID            string      `json:"run_id"`
	Entries          int         `json:"entries"`
	Dropped          int         `json:"dropped"`
	FromCache        bool        `json:"from_cache"`
	ExtractionCached bool        `json:"extraction_cached"`
	Changes          ics.Changes `json:"changes"`
	ElapsedMs        int64       `json:"elapsed_ms"`
}

// handleRefresh runs the pipeline now.
//
// 409 if a run is already in progress, 502 if the run failed (the previous
// calendar stays published).
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), refreshTimeout)
	defer cancel()

	appLog.Info("api refresh requested", "remote", r.RemoteAddr)
	res, err := s.runner.Run(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "refresh already in progress")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		RunID:            res.RunID,
		Entries:          len(res.Entries),
		Dropped:          len(res.Dropped),
		FromCache:        res.FromCache,
		ExtractionCached: res.ExtractionCached,
		Changes:          res.Changes,
		ElapsedMs:        res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	})
}

// handleRuns returns recent run history.
//
// GET /api/runs?limit=20
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history disabled")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit <= 0 || limit > 500 {
		limit = 20
	}

	runs, err := s.history.RecentRuns(r.Context(), limit)
	if err != nil {
		appLog.Error("api runs: query failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read run history")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
