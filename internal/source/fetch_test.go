package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdfBody = []byte("%PDF-1.4 fake schedule")

func TestFetch_PDFWithConditionalCache(t *testing.T) {
	var calls int32
	var sawETag atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "schedcal-test", r.Header.Get("User-Agent"))
		if inm := r.Header.Get("If-None-Match"); inm != "" {
			sawETag.Store(inm)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdfBody)
	}))
	defer ts.Close()

	f := NewFetcher(t.TempDir(), WithClient(ts.Client()), WithUserAgent("schedcal-test"))
	src := Source{URL: ts.URL + "/calendar.pdf", Kind: KindPDF}

	first, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, pdfBody, first.Body)
	assert.Equal(t, "application/pdf", first.MIMEType)
	assert.True(t, first.IsBinary())
	assert.Len(t, first.SHA256, 64)

	second, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, pdfBody, second.Body)
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, "application/pdf", second.MIMEType)
	assert.Equal(t, `"v1"`, sawETag.Load())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetch_FallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(pdfBody)
	}))
	defer ts.Close()

	f := NewFetcher(t.TempDir(), WithClient(ts.Client()))
	src := Source{URL: ts.URL, Kind: KindPDF}

	_, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	doc, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, doc.FromCache)
	assert.Equal(t, pdfBody, doc.Body)
	assert.Equal(t, "application/pdf", doc.MIMEType)
}

func TestFetch_ServerErrorWithoutCache(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	f := NewFetcher(t.TempDir(), WithClient(ts.Client()))
	_, err := f.Fetch(context.Background(), Source{URL: ts.URL, Kind: KindPDF})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetch_HTMLText(t *testing.T) {
	page := `<html><head><style>td{color:red}</style><script>var x = 1;</script></head>
<body><h1>Conference Schedule</h1>
<table>
<tr><th>Date</th><th>Time</th><th>Meeting</th></tr>
<tr><td>12-January</td><td>1:30 PM</td><td>Revenue Estimating Conference</td></tr>
</table></body></html>`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer ts.Close()

	f := NewFetcher(t.TempDir(), WithClient(ts.Client()))
	doc, err := f.Fetch(context.Background(), Source{URL: ts.URL, Kind: KindHTML})
	require.NoError(t, err)

	assert.False(t, doc.IsBinary())
	assert.Equal(t, "text/html", doc.MIMEType)
	assert.Equal(t, "Conference Schedule\nDate | Time | Meeting\n12-January | 1:30 PM | Revenue Estimating Conference", doc.Text)
	assert.NotContains(t, doc.Text, "var x")
}

type fakeRenderer struct {
	text string
	err  error
}

func (r fakeRenderer) RenderText(_ context.Context, _ string) (string, error) {
	return r.text, r.err
}

func TestFetch_RenderedPage(t *testing.T) {
	f := NewFetcher(t.TempDir(), WithRenderer(fakeRenderer{text: "12-January 1:30 PM Board meeting"}))

	doc, err := f.Fetch(context.Background(), Source{URL: "https://example.com/schedule", Kind: KindPage})
	require.NoError(t, err)
	assert.Equal(t, KindPage, doc.Kind)
	assert.Equal(t, "12-January 1:30 PM Board meeting", doc.Text)
	assert.Equal(t, digest([]byte(doc.Text)), doc.SHA256)

	f = NewFetcher(t.TempDir(), WithRenderer(fakeRenderer{err: errors.New("chrome missing")}))
	_, err = f.Fetch(context.Background(), Source{URL: "https://example.com/schedule", Kind: KindPage})
	assert.ErrorContains(t, err, "chrome missing")

	f = NewFetcher(t.TempDir())
	_, err = f.Fetch(context.Background(), Source{URL: "https://example.com/schedule", Kind: KindPage})
	assert.ErrorContains(t, err, "requires a renderer")
}

func TestFetch_InvalidSource(t *testing.T) {
	f := NewFetcher(t.TempDir())

	_, err := f.Fetch(context.Background(), Source{})
	assert.ErrorIs(t, err, ErrEmptyURL)

	_, err = f.Fetch(context.Background(), Source{URL: "https://example.com", Kind: "docx"})
	assert.ErrorContains(t, err, "unknown kind")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", RedactURL("https://example.com/private/cal.pdf?token=abc"))
	assert.Equal(t, "http://host:8080/...(redacted)", RedactURL("http://host:8080"))
	assert.Equal(t, "source://...(redacted)", RedactURL("not a url"))
}
