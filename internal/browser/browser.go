package browser

import (
	"context"
	"time"
)

// NavResult describes the outcome of a successful navigation after redirects.
type NavResult struct {
	URL    string
	Status int
}

// Driver launches browser instances. Exactly one implementation talks to a
// real rendering engine; tests substitute a fake.
type Driver interface {
	// Launch starts a fresh browser process and returns a handle to it.
	Launch(ctx context.Context) (Browser, error)
	// Stop releases the driver itself (not individual browsers).
	Stop() error
}

// Browser is a handle to one running browser process.
type Browser interface {
	// NewPage opens a page in the browser's single context.
	NewPage(ctx context.Context) (Page, error)
	// Pages lists all pages currently attached, in opening order.
	Pages() []Page
	// Connected reports whether the underlying process is still alive.
	Connected() bool
	// OnDisconnected registers fn to run once when the process dies. The
	// registration lives and dies with this handle.
	OnDisconnected(fn func())
	// Close terminates the browser process.
	Close() error
}

// Page is a handle to one open tab.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) (*NavResult, error)
	Evaluate(ctx context.Context, script string) (any, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Click(ctx context.Context, x, y float64) error
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
	Content(ctx context.Context) (string, error)
	SetViewport(width, height int) error
	URL() string
	Close() error
}
