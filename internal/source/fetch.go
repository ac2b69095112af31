package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"schedcal/internal/httputil"
	appLog "schedcal/internal/log"
)

// maxBodyBytes bounds a single download.
const maxBodyBytes = 32 << 20

// cacheEntry holds HTTP cache metadata for a single document URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	SHA256       string    `json:"sha256"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Renderer turns a JavaScript-driven page into visible text.
type Renderer interface {
	RenderText(ctx context.Context, url string) (string, error)
}

// Fetcher retrieves schedule documents with HTTP caching
// (ETag / Last-Modified) backed by a disk cache.
type Fetcher struct {
	client     *http.Client
	cacheDir   string
	userAgent  string
	maxRetries int
	renderer   Renderer
	now        func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client (timeout 60s by default).
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithRenderer sets the renderer used for KindPage sources.
func WithRenderer(r Renderer) Option {
	return func(f *Fetcher) { f.renderer = r }
}

// WithMaxRetries sets how often throttled responses are retried.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) { f.maxRetries = n }
}

// NewFetcher creates a Fetcher caching under cacheDir
// (e.g. "/var/lib/schedcal/source-cache").
func NewFetcher(cacheDir string, opts ...Option) *Fetcher {
	if cacheDir == "" {
		// Fallback to a relative dir so development runs without root.
		cacheDir = "./var/source-cache"
	}
	f := &Fetcher{
		client:    &http.Client{Timeout: 60 * time.Second},
		cacheDir:  cacheDir,
		userAgent: "schedcal/0.1",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves src and interprets it according to its Kind.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (Document, error) {
	if src.URL == "" {
		return Document{}, ErrEmptyURL
	}
	kind, err := ParseKind(string(src.Kind))
	if err != nil {
		return Document{}, err
	}

	if kind == KindPage {
		return f.fetchRendered(ctx, src.URL)
	}

	raw, err := f.fetchRaw(ctx, src.URL)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		URL:       src.URL,
		Kind:      kind,
		MIMEType:  raw.contentType,
		Body:      raw.body,
		SHA256:    digest(raw.body),
		FromCache: raw.fromCache,
		FetchedAt: f.now(),
	}

	switch kind {
	case KindPDF:
		if doc.MIMEType == "" || doc.MIMEType == "application/octet-stream" {
			doc.MIMEType = "application/pdf"
		}
	case KindHTML:
		doc.Text = ExtractText(raw.body)
		if strings.TrimSpace(doc.Text) == "" {
			return Document{}, fmt.Errorf("source: no text content in %s", RedactURL(src.URL))
		}
	case KindText:
		doc.Text = string(raw.body)
		doc.MIMEType = "text/plain"
	}

	return doc, nil
}

func (f *Fetcher) fetchRendered(ctx context.Context, url string) (Document, error) {
	if f.renderer == nil {
		return Document{}, errors.New("source: page kind requires a renderer")
	}

	appLog.Info("source render start", "url", RedactURL(url))
	text, err := f.renderer.RenderText(ctx, url)
	if err != nil {
		return Document{}, fmt.Errorf("source: render %s: %w", RedactURL(url), err)
	}
	if strings.TrimSpace(text) == "" {
		return Document{}, fmt.Errorf("source: rendered page %s has no text", RedactURL(url))
	}

	body := []byte(text)
	return Document{
		URL:       url,
		Kind:      KindPage,
		MIMEType:  "text/plain",
		Body:      body,
		Text:      text,
		SHA256:    digest(body),
		FetchedAt: f.now(),
	}, nil
}

type rawResult struct {
	body        []byte
	contentType string
	fromCache   bool
}

// fetchRaw downloads url, honoring ETag and Last-Modified. It uses a disk
// cache under f.cacheDir keyed by a hash of the URL and falls back to the
// cached body when the request fails.
func (f *Fetcher) fetchRaw(ctx context.Context, url string) (rawResult, error) {
	cachePath := f.cachePathForURL(url)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return rawResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)
	cached := rawResult{body: cachedBody, contentType: meta.ContentType, fromCache: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return rawResult{}, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	// Conditional headers only make sense when we can serve the 304 body.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("source fetch start", "url", RedactURL(url))

	resp, err := httputil.DoWithRetry(ctx, f.client, req, f.maxRetries)
	if err != nil {
		if len(cachedBody) > 0 && ctx.Err() == nil {
			appLog.Error("source fetch network error, using cached body", err, "url", RedactURL(url))
			return cached, nil
		}
		return rawResult{}, fmt.Errorf("source: fetch %s: %w", RedactURL(url), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if err != nil {
			return rawResult{}, fmt.Errorf("source: read %s: %w", RedactURL(url), err)
		}
		if len(body) > maxBodyBytes {
			return rawResult{}, fmt.Errorf("source: %s exceeds %d bytes", RedactURL(url), maxBodyBytes)
		}
		if len(body) == 0 {
			return rawResult{}, fmt.Errorf("source: %s returned an empty body", RedactURL(url))
		}

		contentType := mediaType(resp.Header.Get("Content-Type"))
		newMeta := cacheEntry{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			ContentType:  contentType,
			SHA256:       digest(body),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("source cache save failed", err, "url", RedactURL(url))
		}

		appLog.Info("source fetch success", "url", RedactURL(url), "bytes", len(body), "from_cache", false)
		return rawResult{body: body, contentType: contentType}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return rawResult{}, errors.New("source: received 304 Not Modified but no cached body available")
		}
		appLog.Info("source not modified; using cache", "url", RedactURL(url))
		return cached, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("source fetch non-OK, using cached body", errors.New(resp.Status), "url", RedactURL(url), "status", resp.StatusCode)
			return cached, nil
		}
		return rawResult{}, fmt.Errorf("source: fetch %s: %s", RedactURL(url), resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// First 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = f.now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

func mediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return mt
}

// RedactURL hides path and query of a URL for logging purposes.
//
//	https://example.com/private/schedule.pdf?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "source://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
