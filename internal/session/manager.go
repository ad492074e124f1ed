// Package session owns the single browser session: its state, its recovery,
// and the guarantee that at most one recovery runs at a time no matter how
// many triggers fire.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/periscopehq/periscope/internal/browser"
	"github.com/periscopehq/periscope/internal/logging"
	"github.com/periscopehq/periscope/internal/monitoring"
)

// ErrUnavailable is returned when no usable browser session exists and one
// could not be established.
var ErrUnavailable = errors.New("browser session unavailable")

// Config holds session lifecycle settings.
type Config struct {
	ViewportWidth  int
	ViewportHeight int
	DefaultURL     string
	NavTimeout     time.Duration

	HealthInterval    time.Duration
	InitRetryBackoff  time.Duration
	DisconnectBackoff time.Duration
	HealthBackoff     time.Duration
}

// Manager owns the browser/page handle pair and keeps it either usable or
// under active recovery.
//
// Two locks: mu protects session state and the recovery guard; opMu
// serializes commands issued against the browser capability so only one is
// ever in flight. State transitions happen entirely within one mu critical
// section, never interleaved with capability calls.
type Manager struct {
	driver  browser.Driver
	cfg     Config
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu              sync.Mutex
	browser         browser.Browser
	page            browser.Page
	ready           bool
	recovering      bool
	recoveryDone    chan struct{}
	lastHealthCheck time.Time
	retryTimer      *time.Timer
	monitorStop     chan struct{}
	closed          bool

	opMu sync.Mutex
}

// NewManager creates a session manager. The session starts empty; the first
// EnsureReady or Initialize populates it.
func NewManager(driver browser.Driver, cfg Config, log *logging.Logger) *Manager {
	return &Manager{
		driver: driver,
		cfg:    cfg,
		log:    log,
	}
}

// WithMetrics attaches a metrics collector.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// IsReady reports whether the session can accept operations right now.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready && !m.recovering
}

// LastHealthCheck returns the time of the last confirmed-responsive probe.
func (m *Manager) LastHealthCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHealthCheck
}

// CurrentURL returns the URL of the live page, or "" when none exists.
func (m *Manager) CurrentURL() string {
	m.mu.Lock()
	page := m.page
	m.mu.Unlock()
	if page == nil {
		return ""
	}
	return page.URL()
}

// EnsureReady returns nil if a usable session exists. If not and no recovery
// is in flight it performs a full initialization synchronously. If a recovery
// is in flight it waits for that attempt's outcome instead of starting a
// second one.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrUnavailable
	}
	if m.ready {
		m.mu.Unlock()
		return nil
	}
	if m.recovering {
		done := m.recoveryDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if m.IsReady() {
			return nil
		}
		return ErrUnavailable
	}
	m.beginRecoveryLocked()
	m.mu.Unlock()

	if m.runInit(ctx, "ensure_ready") {
		return nil
	}
	return ErrUnavailable
}

// Initialize tears down any existing session and establishes a fresh one. An
// initialize requested while a recovery is in flight collapses into that
// recovery and reports its outcome.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrUnavailable
	}
	if m.recovering {
		done := m.recoveryDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if m.IsReady() {
			return nil
		}
		return ErrUnavailable
	}
	m.ready = false
	m.beginRecoveryLocked()
	m.mu.Unlock()

	if m.runInit(ctx, "init") {
		return nil
	}
	return ErrUnavailable
}

// Invalidate marks the session dead after an operation-detected failure and
// kicks off recovery without waiting for it. The failing operation reports
// its own error; the replacement session serves later callers.
func (m *Manager) Invalidate(trigger string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.ready = false
	if m.recovering {
		m.mu.Unlock()
		return
	}
	m.beginRecoveryLocked()
	m.mu.Unlock()

	m.log.Warn("Session invalidated, recovering", zap.String("trigger", trigger))
	if m.metrics != nil {
		m.metrics.RecordRecovery(trigger)
	}
	go m.runInit(context.Background(), trigger)
}

// AcquirePage returns the live page after serializing against every other
// capability command. The returned release func must be called when the
// command completes.
func (m *Manager) AcquirePage(ctx context.Context) (browser.Page, func(), error) {
	m.opMu.Lock()
	m.mu.Lock()
	page, ok := m.page, m.ready
	m.mu.Unlock()
	if !ok || page == nil {
		m.opMu.Unlock()
		return nil, nil, ErrUnavailable
	}
	return page, func() { m.opMu.Unlock() }, nil
}

// TryAcquirePage is the non-blocking variant used by periodic tasks, which
// skip their cycle rather than queue behind an in-flight command.
func (m *Manager) TryAcquirePage() (browser.Page, func(), bool) {
	if !m.opMu.TryLock() {
		return nil, nil, false
	}
	m.mu.Lock()
	page, ok := m.page, m.ready
	m.mu.Unlock()
	if !ok || page == nil {
		m.opMu.Unlock()
		return nil, nil, false
	}
	return page, func() { m.opMu.Unlock() }, true
}

// Close releases the session and the driver. Best-effort; close errors are
// logged, never retried.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()

	m.teardown()
	if err := m.driver.Stop(); err != nil {
		m.log.Warn("Failed to stop browser driver", zap.Error(err))
	}
}

// beginRecoveryLocked claims the single-flight guard. Any pending deferred
// retry is cancelled so a stale timer cannot fire against the new session.
// Caller holds mu.
func (m *Manager) beginRecoveryLocked() {
	m.recovering = true
	m.ready = false
	m.recoveryDone = make(chan struct{})
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.metrics != nil {
		m.metrics.SetSessionReady(false)
	}
}

// endRecoveryLocked releases the guard, publishing the attempt's outcome to
// every waiter. Caller holds mu. ready and recovering flip within the same
// critical section so no observer sees both true.
func (m *Manager) endRecoveryLocked(ok bool) {
	m.ready = ok
	m.recovering = false
	close(m.recoveryDone)
	m.recoveryDone = nil
	if m.metrics != nil {
		m.metrics.SetSessionReady(ok)
	}
}

// runInit performs one initialization attempt while holding the recovery
// guard, releasing it when the attempt resolves. On failure a deferred retry
// is scheduled before the guard is released.
func (m *Manager) runInit(ctx context.Context, trigger string) bool {
	start := time.Now()
	err := m.initialize(ctx)

	m.mu.Lock()
	if err != nil {
		m.log.Error("Browser initialization failed",
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		if !m.closed {
			m.scheduleRetryLocked("init_failure", m.cfg.InitRetryBackoff)
		}
		m.endRecoveryLocked(false)
		m.mu.Unlock()
		return false
	}
	if m.closed {
		// Shutdown raced the recovery; release what we just built.
		m.endRecoveryLocked(false)
		m.mu.Unlock()
		m.teardown()
		return false
	}
	m.endRecoveryLocked(true)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecoveryDuration.Observe(time.Since(start).Seconds())
	}
	m.log.Info("Browser session ready",
		zap.String("trigger", trigger),
		zap.Duration("took", time.Since(start)),
	)
	return true
}

// initialize builds a usable session: reuse the surviving browser when its
// process is still alive, otherwise tear down and relaunch. On success the
// handles are committed and the health monitor restarted.
func (m *Manager) initialize(ctx context.Context) error {
	if m.reuseIfAlive(ctx) {
		m.startMonitor()
		return nil
	}

	m.teardown()

	b, err := m.driver.Launch(ctx)
	if err != nil {
		return err
	}

	page, err := b.NewPage(ctx)
	if err != nil {
		b.Close()
		return err
	}
	if err := page.SetViewport(m.cfg.ViewportWidth, m.cfg.ViewportHeight); err != nil {
		b.Close()
		return err
	}
	if _, err := page.Navigate(ctx, m.cfg.DefaultURL, m.cfg.NavTimeout); err != nil {
		b.Close()
		return err
	}

	m.mu.Lock()
	m.browser = b
	m.page = page
	m.lastHealthCheck = time.Time{}
	m.mu.Unlock()

	b.OnDisconnected(func() { m.handleDisconnect(b) })
	m.startMonitor()
	return nil
}

// reuseIfAlive attempts the cheap recovery path: keep the existing browser
// process, close every page but the first, and reset that page. Returns
// false when a full relaunch is needed.
func (m *Manager) reuseIfAlive(ctx context.Context) bool {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil || !b.Connected() {
		return false
	}

	pages := b.Pages()
	if len(pages) == 0 {
		return false
	}
	for _, extra := range pages[1:] {
		if err := extra.Close(); err != nil {
			m.log.Warn("Failed to close extra page", zap.Error(err))
		}
	}

	page := pages[0]
	if err := page.SetViewport(m.cfg.ViewportWidth, m.cfg.ViewportHeight); err != nil {
		m.log.Warn("Page reuse failed, relaunching", zap.Error(err))
		return false
	}
	if _, err := page.Navigate(ctx, m.cfg.DefaultURL, m.cfg.NavTimeout); err != nil {
		m.log.Warn("Page reuse failed, relaunching", zap.Error(err))
		return false
	}

	m.mu.Lock()
	m.page = page
	m.lastHealthCheck = time.Time{}
	m.mu.Unlock()

	m.log.Info("Reused live browser process")
	return true
}

// teardown releases the current session. Individual close errors are logged
// as warnings and never block the reset; state is cleared before the closes
// so a disconnect event from our own Close is recognized as stale.
func (m *Manager) teardown() {
	m.stopMonitor()

	m.mu.Lock()
	b := m.browser
	m.browser = nil
	m.page = nil
	m.ready = false
	m.mu.Unlock()

	if b == nil {
		return
	}
	for _, p := range b.Pages() {
		if err := p.Close(); err != nil {
			m.log.Warn("Failed to close page", zap.Error(err))
		}
	}
	if err := b.Close(); err != nil {
		m.log.Warn("Failed to close browser", zap.Error(err))
	}
}

// handleDisconnect reacts to the browser process dying underneath us. Stale
// handles (already replaced or closed by our own teardown) are ignored.
func (m *Manager) handleDisconnect(b browser.Browser) {
	m.mu.Lock()
	if m.closed || m.browser != b {
		m.mu.Unlock()
		return
	}
	m.log.Warn("Browser disconnected")
	m.ready = false
	if m.metrics != nil {
		m.metrics.SetSessionReady(false)
	}
	if !m.recovering {
		m.scheduleRetryLocked("disconnect", m.cfg.DisconnectBackoff)
	}
	m.mu.Unlock()
}

// scheduleRetryLocked schedules one deferred recovery attempt. A pending
// retry absorbs further triggers; the timer is cancelled whenever a new
// initialization claims the guard first. Caller holds mu.
func (m *Manager) scheduleRetryLocked(trigger string, backoff time.Duration) {
	if m.retryTimer != nil {
		return
	}
	m.log.Info("Scheduling browser recovery",
		zap.String("trigger", trigger),
		zap.Duration("backoff", backoff),
	)
	if m.metrics != nil {
		m.metrics.RecordRecovery(trigger)
	}
	m.retryTimer = time.AfterFunc(backoff, func() {
		m.mu.Lock()
		m.retryTimer = nil
		if m.closed || m.recovering || m.ready {
			m.mu.Unlock()
			return
		}
		m.beginRecoveryLocked()
		m.mu.Unlock()
		m.runInit(context.Background(), trigger)
	})
}
