// Package control exposes the recovery-wrapped browser operations: each one
// ensures a usable session exists before acting and flags the session for
// replacement when a failure indicates the session itself died.
package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/periscopehq/periscope/internal/browser"
	"github.com/periscopehq/periscope/internal/logging"
	"github.com/periscopehq/periscope/internal/monitoring"
	"github.com/periscopehq/periscope/internal/session"
)

// Config holds operation settings.
type Config struct {
	NavTimeout     time.Duration
	ScreenshotPath string
}

// Controller issues operations against the managed session.
type Controller struct {
	sessions *session.Manager
	cfg      Config
	log      *logging.Logger
	metrics  *monitoring.Metrics
}

// New creates a controller over the given session manager.
func New(sessions *session.Manager, cfg Config, log *logging.Logger) *Controller {
	return &Controller{
		sessions: sessions,
		cfg:      cfg,
		log:      log,
	}
}

// WithMetrics attaches a metrics collector.
func (c *Controller) WithMetrics(metrics *monitoring.Metrics) *Controller {
	c.metrics = metrics
	return c
}

// NavInfo describes a completed navigation, after redirects.
type NavInfo struct {
	URL    string
	Status int
	Title  string
}

// Status is a point-in-time snapshot of the session for status replies.
type Status struct {
	Ready           bool
	URL             string
	LastHealthCheck time.Time
}

// Navigate resolves raw into an absolute URL and loads it in the live page.
// The operation does not retry after a session failure; the caller re-issues
// once recovery has replaced the session.
func (c *Controller) Navigate(ctx context.Context, raw string) (*NavInfo, error) {
	if err := c.sessions.EnsureReady(ctx); err != nil {
		return nil, err
	}
	target, err := NormalizeURL(raw)
	if err != nil {
		return nil, err
	}

	page, release, err := c.sessions.AcquirePage(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	res, err := page.Navigate(ctx, target, c.cfg.NavTimeout)
	if err != nil {
		c.noteFailure("navigate", err)
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.NavigationDuration.Observe(time.Since(start).Seconds())
	}
	if res.Status >= 400 {
		return nil, fmt.Errorf("destination %s returned status %d", res.URL, res.Status)
	}

	info := &NavInfo{URL: res.URL, Status: res.Status}
	if html, err := page.Content(ctx); err == nil {
		info.Title = pageTitle(html)
	}
	return info, nil
}

// ClickAt clicks at viewport coordinates. Coordinates pass through verbatim.
func (c *Controller) ClickAt(ctx context.Context, x, y float64) error {
	return c.withPage(ctx, "click", func(page browser.Page) error {
		return page.Click(ctx, x, y)
	})
}

// TypeText types text into the focused element.
func (c *Controller) TypeText(ctx context.Context, text string) error {
	return c.withPage(ctx, "type", func(page browser.Page) error {
		return page.Type(ctx, text)
	})
}

// PressKey presses a named key (e.g. "Enter", "Tab").
func (c *Controller) PressKey(ctx context.Context, key string) error {
	return c.withPage(ctx, "press", func(page browser.Page) error {
		return page.Press(ctx, key)
	})
}

// Screenshot captures the current viewport and writes it to the fixed
// screenshot path, replacing the previous file atomically. The path written
// is returned.
func (c *Controller) Screenshot(ctx context.Context) (string, error) {
	var data []byte
	err := c.withPage(ctx, "screenshot", func(page browser.Page) error {
		var err error
		data, err = page.Screenshot(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(c.cfg.ScreenshotPath, data); err != nil {
		return "", err
	}
	return c.cfg.ScreenshotPath, nil
}

// TrySnapshot captures and publishes a screenshot without queuing behind an
// in-flight command. Returns false when the cycle was skipped (busy or not
// ready).
func (c *Controller) TrySnapshot(ctx context.Context) (bool, error) {
	page, release, ok := c.sessions.TryAcquirePage()
	if !ok {
		return false, nil
	}
	defer release()

	data, err := page.Screenshot(ctx)
	if err != nil {
		c.noteFailure("screenshot", err)
		return true, err
	}
	if err := writeFileAtomic(c.cfg.ScreenshotPath, data); err != nil {
		return true, err
	}
	return true, nil
}

// Status reports the session's current readiness and location.
func (c *Controller) Status() Status {
	return Status{
		Ready:           c.sessions.IsReady(),
		URL:             c.sessions.CurrentURL(),
		LastHealthCheck: c.sessions.LastHealthCheck(),
	}
}

// Init tears down and re-establishes the session on explicit client request.
func (c *Controller) Init(ctx context.Context) error {
	return c.sessions.Initialize(ctx)
}

// withPage runs one capability command against the live page, applying the
// uniform ensure-then-recover pattern.
func (c *Controller) withPage(ctx context.Context, op string, fn func(page browser.Page) error) error {
	if err := c.sessions.EnsureReady(ctx); err != nil {
		return err
	}
	page, release, err := c.sessions.AcquirePage(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := fn(page); err != nil {
		c.noteFailure(op, err)
		return err
	}
	return nil
}

// noteFailure triggers recovery for session-ending failures. Everything else
// propagates without touching the session.
func (c *Controller) noteFailure(op string, err error) {
	if browser.IsInvalidated(err) {
		c.log.Warn("Operation hit dead session",
			zap.String("op", op),
			zap.Error(err),
		)
		c.sessions.Invalidate(op)
	}
}

// pageTitle extracts the document title from raw HTML.
func pageTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
