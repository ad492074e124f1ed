// Package browsertest provides an in-memory implementation of the browser
// capability interfaces for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/periscopehq/periscope/internal/browser"
)

// Driver is a fake browser.Driver. Error injection fields may be set between
// launches; all state is safe for concurrent use.
type Driver struct {
	mu          sync.Mutex
	launchErr   error
	launchDelay time.Duration
	launches    int
	browsers    []*Browser
	stopped     bool
}

func NewDriver() *Driver {
	return &Driver{}
}

// FailLaunches makes subsequent launches fail with err. Pass nil to restore.
func (d *Driver) FailLaunches(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launchErr = err
}

// SetLaunchDelay makes each launch block for delay, to widen race windows in
// concurrency tests.
func (d *Driver) SetLaunchDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launchDelay = delay
}

// Launches returns how many times Launch has been called.
func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

// Browsers returns every browser handle this driver has produced.
func (d *Driver) Browsers() []*Browser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Browser(nil), d.browsers...)
}

// Stopped reports whether Stop was called.
func (d *Driver) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *Driver) Launch(ctx context.Context) (browser.Browser, error) {
	d.mu.Lock()
	d.launches++
	err := d.launchErr
	delay := d.launchDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	b := &Browser{connected: true}
	d.mu.Lock()
	d.browsers = append(d.browsers, b)
	d.mu.Unlock()
	return b, nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

// Browser is a fake browser.Browser.
type Browser struct {
	mu           sync.Mutex
	pages        []*Page
	connected    bool
	closed       bool
	onDisconnect []func()
	pageErr      error
}

// FailNewPage makes subsequent NewPage calls fail with err.
func (b *Browser) FailNewPage(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pageErr = err
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pageErr != nil {
		return nil, b.pageErr
	}
	if !b.connected {
		return nil, &browser.InvalidatedError{Op: "new page", Err: fmt.Errorf("browser has been closed")}
	}
	p := &Page{browser: b, url: "about:blank", navStatus: 200}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *Browser) Pages() []browser.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := make([]browser.Page, 0, len(b.pages))
	for _, p := range b.pages {
		if !p.Closed() {
			open = append(open, p)
		}
	}
	return open
}

// OpenPages returns the concrete open page handles for assertions.
func (b *Browser) OpenPages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := make([]*Page, 0, len(b.pages))
	for _, p := range b.pages {
		if !p.Closed() {
			open = append(open, p)
		}
	}
	return open
}

// AddPage simulates a tab opened by external navigation (popup, window.open).
func (b *Browser) AddPage() *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &Page{browser: b, url: "about:blank", navStatus: 200}
	b.pages = append(b.pages, p)
	return p
}

func (b *Browser) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Browser) OnDisconnected(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisconnect = append(b.onDisconnect, fn)
}

func (b *Browser) Close() error {
	b.disconnect()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Disconnect simulates the browser process dying, firing disconnect handlers
// exactly as a real crash would.
func (b *Browser) Disconnect() {
	b.disconnect()
}

// DropConnection marks the process dead without firing disconnect handlers,
// as when the event is lost and only a health probe can notice.
func (b *Browser) DropConnection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

func (b *Browser) disconnect() {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = false
	handlers := append([]func(){}, b.onDisconnect...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// Page is a fake browser.Page recording every operation issued against it.
type Page struct {
	mu        sync.Mutex
	browser   *Browser
	closed    bool
	url       string
	ops       []string
	viewportW int
	viewportH int
	content   string

	navErr    error
	navStatus int
	evalErr   error
	shotData  []byte
	shotErr   error
	inputErr  error
}

// FailNavigation makes Navigate fail with err.
func (p *Page) FailNavigation(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navErr = err
}

// SetNavStatus sets the HTTP status reported by subsequent navigations.
func (p *Page) SetNavStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navStatus = status
}

// FailEvaluate makes Evaluate fail with err.
func (p *Page) FailEvaluate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalErr = err
}

// SetScreenshot sets the bytes returned by Screenshot, or the error if err is
// non-nil.
func (p *Page) SetScreenshot(data []byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shotData = data
	p.shotErr = err
}

// FailInput makes Click, Type and Press fail with err.
func (p *Page) FailInput(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputErr = err
}

// SetContent sets the HTML returned by Content.
func (p *Page) SetContent(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = html
}

// Ops returns the recorded operation log.
func (p *Page) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

// Viewport returns the last viewport set on the page.
func (p *Page) Viewport() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewportW, p.viewportH
}

func (p *Page) record(op string) {
	p.ops = append(p.ops, op)
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) (*browser.NavResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate " + url)
	if p.navErr != nil {
		return nil, p.navErr
	}
	p.url = url
	return &browser.NavResult{URL: url, Status: p.navStatus}, nil
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("evaluate")
	if p.evalErr != nil {
		return nil, p.evalErr
	}
	return true, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot")
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	if p.shotData != nil {
		return p.shotData, nil
	}
	return []byte("png"), nil
}

func (p *Page) Click(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("click %.0f,%.0f", x, y))
	return p.inputErr
}

func (p *Page) Type(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("type " + text)
	return p.inputErr
}

func (p *Page) Press(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("press " + key)
	return p.inputErr
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("content")
	return p.content, nil
}

func (p *Page) SetViewport(width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("viewport")
	p.viewportW = width
	p.viewportH = height
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("close")
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
