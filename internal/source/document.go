// Package source retrieves the schedule document the extraction step reads.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var ErrEmptyURL = errors.New("source URL is empty")

// Kind selects how a fetched document is interpreted.
type Kind string

const (
	KindPDF  Kind = "pdf"  // raw bytes handed to the model as a document
	KindHTML Kind = "html" // static HTML, reduced to visible text
	KindPage Kind = "page" // JavaScript page rendered in headless Chromium
	KindText Kind = "text" // plain text
)

// ParseKind validates a config value.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPDF, KindHTML, KindPage, KindText:
		return k, nil
	case "":
		return KindPDF, nil
	default:
		return "", fmt.Errorf("source: unknown kind %q", s)
	}
}

// Source is a configured schedule location.
type Source struct {
	URL  string
	Kind Kind
}

// Document is a fetched schedule.
type Document struct {
	URL  string
	Kind Kind

	// MIMEType of Body, e.g. "application/pdf" or "text/plain".
	MIMEType string

	// Body is the raw payload.
	Body []byte

	// Text is the readable text for html, page and text kinds; empty for pdf.
	Text string

	// SHA256 is the hex digest of Body; the extraction cache key.
	SHA256 string

	// FromCache is true when Body came from the disk cache (304, or a
	// fallback after a failed request).
	FromCache bool

	FetchedAt time.Time
}

// IsBinary reports whether the model must receive Body rather than Text.
func (d Document) IsBinary() bool {
	return d.Kind == KindPDF
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
