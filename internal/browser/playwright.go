package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/periscopehq/periscope/internal/logging"
)

// Config holds driver-level browser settings.
type Config struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
}

// launchArgs are fixed chromium flags for container environments without a
// display, with sandboxing unavailable and timer throttling disabled so
// background pages keep rendering predictably.
var launchArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-gpu",
	"--disable-dev-shm-usage",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
}

// PlaywrightDriver launches chromium through Playwright. The Playwright
// runtime itself is started lazily on first launch and reused across browser
// replacements.
type PlaywrightDriver struct {
	cfg Config
	log *logging.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightDriver creates a driver with the given settings.
func NewPlaywrightDriver(cfg Config, log *logging.Logger) *PlaywrightDriver {
	return &PlaywrightDriver{cfg: cfg, log: log}
}

// Launch starts a fresh chromium process with one browser context.
func (d *PlaywrightDriver) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := d.runtime()
	if err != nil {
		return nil, err
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.cfg.Headless),
		Args:     launchArgs,
	})
	if err != nil {
		return nil, classify("launch", err)
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  d.cfg.ViewportWidth,
			Height: d.cfg.ViewportHeight,
		},
	})
	if err != nil {
		b.Close()
		return nil, classify("new context", err)
	}

	d.log.Info("Browser launched",
		zap.Bool("headless", d.cfg.Headless),
		zap.Int("viewport_width", d.cfg.ViewportWidth),
		zap.Int("viewport_height", d.cfg.ViewportHeight),
	)
	return &chromium{browser: b, context: bctx}, nil
}

// Stop shuts down the Playwright runtime.
func (d *PlaywrightDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

// runtime returns the shared Playwright instance, starting it on first use.
// Driver binaries are installed if missing; output is discarded to keep the
// service's structured log stream clean.
func (d *PlaywrightDriver) runtime() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw != nil {
		return d.pw, nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	d.pw = pw
	return pw, nil
}

// chromium adapts a playwright browser + context pair to the Browser interface.
type chromium struct {
	browser playwright.Browser
	context playwright.BrowserContext
}

func (c *chromium) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.context.NewPage()
	if err != nil {
		return nil, classify("new page", err)
	}
	return &chromiumPage{page: p}, nil
}

func (c *chromium) Pages() []Page {
	raw := c.context.Pages()
	pages := make([]Page, 0, len(raw))
	for _, p := range raw {
		pages = append(pages, &chromiumPage{page: p})
	}
	return pages
}

func (c *chromium) Connected() bool {
	return c.browser.IsConnected()
}

func (c *chromium) OnDisconnected(fn func()) {
	c.browser.On("disconnected", func(playwright.Browser) {
		fn()
	})
}

func (c *chromium) Close() error {
	if err := c.browser.Close(); err != nil {
		return classify("close", err)
	}
	return nil
}

// chromiumPage adapts a playwright page to the Page interface.
type chromiumPage struct {
	page playwright.Page
}

func (p *chromiumPage) Navigate(ctx context.Context, url string, timeout time.Duration) (*NavResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return nil, classify("navigate", err)
	}
	result := &NavResult{URL: p.page.URL()}
	if resp != nil {
		result.Status = resp.Status()
	}
	return result, nil
}

func (p *chromiumPage) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := p.page.Evaluate(script)
	if err != nil {
		return nil, classify("evaluate", err)
	}
	return v, nil
}

func (p *chromiumPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, classify("screenshot", err)
	}
	return data, nil
}

func (p *chromiumPage) Click(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("click", p.page.Mouse().Click(x, y))
}

func (p *chromiumPage) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("type", p.page.Keyboard().Type(text))
}

func (p *chromiumPage) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("press", p.page.Keyboard().Press(key))
}

func (p *chromiumPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	if err != nil {
		return "", classify("content", err)
	}
	return html, nil
}

func (p *chromiumPage) SetViewport(width, height int) error {
	return classify("set viewport", p.page.SetViewportSize(width, height))
}

func (p *chromiumPage) URL() string {
	return p.page.URL()
}

func (p *chromiumPage) Close() error {
	return classify("close page", p.page.Close())
}
