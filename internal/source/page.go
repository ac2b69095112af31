package source

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Default render parameters.
const (
	DefaultRenderTimeout = 45 * time.Second
	DefaultReadySelector = "body"
)

// ChromeRenderer loads a page in headless Chromium via chromedp and returns
// the text of ReadySelector once it is visible. Use it for schedules that
// are filled in by JavaScript after load.
type ChromeRenderer struct {
	// ReadySelector is waited on before reading text; it should match the
	// element that holds the schedule. Defaults to "body".
	ReadySelector string

	// Settle is an extra delay after the selector appears, for late
	// XHR-driven updates.
	Settle time.Duration

	// Timeout bounds the entire render. Zero means DefaultRenderTimeout.
	Timeout time.Duration
}

// RenderText implements Renderer.
func (r ChromeRenderer) RenderText(parentCtx context.Context, url string) (string, error) {
	if url == "" {
		return "", ErrEmptyURL
	}
	selector := r.ReadySelector
	if selector == "" {
		selector = DefaultReadySelector
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	var text string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
	}
	if r.Settle > 0 {
		tasks = append(tasks, chromedp.Sleep(r.Settle))
	}
	tasks = append(tasks, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeVisible))

	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("render: chromedp run failed: %w", err)
	}
	return text, nil
}
