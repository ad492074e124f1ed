package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscopehq/periscope/internal/browser"
	"github.com/periscopehq/periscope/internal/browser/browsertest"
	"github.com/periscopehq/periscope/internal/logging"
)

func testConfig() Config {
	return Config{
		ViewportWidth:     1280,
		ViewportHeight:    720,
		DefaultURL:        "about:blank",
		NavTimeout:        time.Second,
		HealthInterval:    25 * time.Millisecond,
		InitRetryBackoff:  20 * time.Millisecond,
		DisconnectBackoff: 10 * time.Millisecond,
		HealthBackoff:     10 * time.Millisecond,
	}
}

func newTestManager(t *testing.T) (*Manager, *browsertest.Driver) {
	t.Helper()
	driver := browsertest.NewDriver()
	m := NewManager(driver, testConfig(), logging.NewNop())
	t.Cleanup(m.Close)
	return m, driver
}

func TestEnsureReadyLaunchesSession(t *testing.T) {
	m, driver := newTestManager(t)

	require.NoError(t, m.EnsureReady(context.Background()))
	assert.True(t, m.IsReady())
	assert.Equal(t, 1, driver.Launches())

	b := driver.Browsers()[0]
	pages := b.OpenPages()
	require.Len(t, pages, 1)

	w, h := pages[0].Viewport()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
	assert.Equal(t, "about:blank", pages[0].URL())

	// A second call reuses the existing session.
	require.NoError(t, m.EnsureReady(context.Background()))
	assert.Equal(t, 1, driver.Launches())
}

func TestEnsureReadySingleFlight(t *testing.T) {
	m, driver := newTestManager(t)
	driver.SetLaunchDelay(50 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.EnsureReady(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, driver.Launches())
	assert.True(t, m.IsReady())
}

func TestEnsureReadyFailureSchedulesRetry(t *testing.T) {
	m, driver := newTestManager(t)
	driver.FailLaunches(errors.New("no chromium"))

	err := m.EnsureReady(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, m.IsReady())

	// Once launches succeed again, the deferred retry recovers the session
	// without any further caller involvement.
	driver.FailLaunches(nil)
	require.Eventually(t, m.IsReady, time.Second, 5*time.Millisecond)
}

func TestInitializeReusesLiveBrowser(t *testing.T) {
	m, driver := newTestManager(t)
	require.NoError(t, m.EnsureReady(context.Background()))

	// Simulate tabs opened by external navigation.
	b := driver.Browsers()[0]
	b.AddPage()
	b.AddPage()
	require.Len(t, b.OpenPages(), 3)

	require.NoError(t, m.Initialize(context.Background()))
	assert.True(t, m.IsReady())

	// The live process was reused and pruned back to a single page.
	assert.Equal(t, 1, driver.Launches())
	assert.Len(t, b.OpenPages(), 1)
}

func TestInitializeRelaunchesDeadBrowser(t *testing.T) {
	m, driver := newTestManager(t)
	require.NoError(t, m.EnsureReady(context.Background()))

	driver.Browsers()[0].DropConnection()
	require.NoError(t, m.Initialize(context.Background()))

	assert.True(t, m.IsReady())
	assert.Equal(t, 2, driver.Launches())
}

func TestDisconnectTriggersRecovery(t *testing.T) {
	m, driver := newTestManager(t)
	require.NoError(t, m.EnsureReady(context.Background()))

	driver.Browsers()[0].Disconnect()
	assert.False(t, m.IsReady())

	require.Eventually(t, func() bool {
		return m.IsReady() && driver.Launches() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentTriggersCollapse(t *testing.T) {
	m, driver := newTestManager(t)
	require.NoError(t, m.EnsureReady(context.Background()))
	b := driver.Browsers()[0]

	// An operation-detected invalidation claims the guard; the disconnect
	// event arriving right after must collapse into the same recovery.
	m.Invalidate("navigate")
	b.Disconnect()

	require.Eventually(t, m.IsReady, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // no stray retry firing afterwards
	assert.Equal(t, 2, driver.Launches())
	assert.True(t, m.IsReady())
}

func TestInvalidateIsFireAndForget(t *testing.T) {
	m, driver := newTestManager(t)
	require.NoError(t, m.EnsureReady(context.Background()))
	driver.SetLaunchDelay(50 * time.Millisecond)
	driver.Browsers()[0].DropConnection()

	start := time.Now()
	m.Invalidate("screenshot")
	assert.Less(t, time.Since(start), 20*time.Millisecond)
	assert.False(t, m.IsReady())

	require.Eventually(t, m.IsReady, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, driver.Launches())
}

func TestEnsureReadyWaitsForInflightRecovery(t *testing.T) {
	m, driver := newTestManager(t)
	require.NoError(t, m.EnsureReady(context.Background()))
	driver.SetLaunchDelay(50 * time.Millisecond)
	driver.Browsers()[0].DropConnection()

	m.Invalidate("navigate")

	// Callers arriving mid-recovery observe the in-flight attempt's outcome.
	require.NoError(t, m.EnsureReady(context.Background()))
	assert.True(t, m.IsReady())
	assert.Equal(t, 2, driver.Launches())
}

func TestEnsureReadyRespectsContext(t *testing.T) {
	m, driver := newTestManager(t)
	require.NoError(t, m.EnsureReady(context.Background()))
	driver.SetLaunchDelay(time.Second)
	driver.Browsers()[0].DropConnection()

	m.Invalidate("navigate")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.EnsureReady(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquirePageSerializesCommands(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.EnsureReady(context.Background()))

	page, release, err := m.AcquirePage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, page)

	// Periodic tasks skip their cycle instead of queuing.
	_, _, ok := m.TryAcquirePage()
	assert.False(t, ok)

	release()
	_, release2, ok := m.TryAcquirePage()
	require.True(t, ok)
	release2()
}

func TestAcquirePageWhenUnavailable(t *testing.T) {
	driver := browsertest.NewDriver()
	m := NewManager(driver, testConfig(), logging.NewNop())
	t.Cleanup(m.Close)

	_, _, err := m.AcquirePage(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	_, _, ok := m.TryAcquirePage()
	assert.False(t, ok)
}

func TestCloseReleasesEverything(t *testing.T) {
	driver := browsertest.NewDriver()
	m := NewManager(driver, testConfig(), logging.NewNop())
	require.NoError(t, m.EnsureReady(context.Background()))

	m.Close()

	assert.False(t, m.IsReady())
	assert.True(t, driver.Stopped())
	assert.True(t, driver.Browsers()[0].Closed())

	err := m.EnsureReady(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, driver.Launches())
}

func TestReadinessImpliesUsability(t *testing.T) {
	m, driver := newTestManager(t)
	require.NoError(t, m.EnsureReady(context.Background()))
	require.True(t, m.IsReady())

	page, release, err := m.AcquirePage(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = page.Evaluate(context.Background(), "() => true")
	assert.NoError(t, err)
	assert.Equal(t, 1, driver.Launches())
}

func TestStateAccessors(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Empty(t, m.CurrentURL())
	assert.True(t, m.LastHealthCheck().IsZero())

	require.NoError(t, m.EnsureReady(context.Background()))
	assert.Equal(t, "about:blank", m.CurrentURL())
}

func TestInvalidatedErrorClassification(t *testing.T) {
	err := &browser.InvalidatedError{Op: "navigate", Err: errors.New("target closed")}
	assert.True(t, browser.IsInvalidated(err))
	assert.False(t, browser.IsInvalidated(errors.New("net::ERR_NAME_NOT_RESOLVED")))
}
