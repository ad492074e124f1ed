package control

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscopehq/periscope/internal/browser"
	"github.com/periscopehq/periscope/internal/browser/browsertest"
	"github.com/periscopehq/periscope/internal/logging"
	"github.com/periscopehq/periscope/internal/session"
)

func newTestController(t *testing.T) (*Controller, *browsertest.Driver, string) {
	t.Helper()
	driver := browsertest.NewDriver()
	sessions := session.NewManager(driver, session.Config{
		ViewportWidth:     1280,
		ViewportHeight:    720,
		DefaultURL:        "about:blank",
		NavTimeout:        time.Second,
		HealthInterval:    time.Minute, // keep the monitor quiet in these tests
		InitRetryBackoff:  10 * time.Millisecond,
		DisconnectBackoff: 10 * time.Millisecond,
		HealthBackoff:     10 * time.Millisecond,
	}, logging.NewNop())
	t.Cleanup(sessions.Close)

	shotPath := filepath.Join(t.TempDir(), "screenshot.png")
	ctrl := New(sessions, Config{
		NavTimeout:     time.Second,
		ScreenshotPath: shotPath,
	}, logging.NewNop())
	return ctrl, driver, shotPath
}

func TestNavigateSuccess(t *testing.T) {
	ctrl, driver, _ := newTestController(t)

	info, err := ctrl.Navigate(context.Background(), "example.org")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", info.URL)
	assert.Equal(t, 200, info.Status)

	page := driver.Browsers()[0].OpenPages()[0]
	assert.Contains(t, page.Ops(), "navigate https://example.org")
}

func TestNavigateExtractsTitle(t *testing.T) {
	ctrl, driver, _ := newTestController(t)
	require.NoError(t, ctrl.Init(context.Background()))
	driver.Browsers()[0].OpenPages()[0].SetContent("<html><head><title> Example Domain </title></head></html>")

	info, err := ctrl.Navigate(context.Background(), "example.org")
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", info.Title)
}

func TestNavigateRejectsInvalidURL(t *testing.T) {
	ctrl, driver, _ := newTestController(t)
	require.NoError(t, ctrl.Init(context.Background()))
	page := driver.Browsers()[0].OpenPages()[0]
	opsBefore := len(page.Ops())

	_, err := ctrl.Navigate(context.Background(), "not a url")
	var invalid *InvalidURLError
	require.ErrorAs(t, err, &invalid)

	// Validation failed before any navigation was issued.
	assert.Equal(t, opsBefore, len(page.Ops()))
	assert.Equal(t, 1, driver.Launches())
}

func TestNavigateHTTPErrorIsTransient(t *testing.T) {
	ctrl, driver, _ := newTestController(t)
	require.NoError(t, ctrl.Init(context.Background()))
	driver.Browsers()[0].OpenPages()[0].SetNavStatus(503)

	_, err := ctrl.Navigate(context.Background(), "example.org")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	// An HTTP-level failure must not cost us the session.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, driver.Launches())
}

func TestNavigateInvalidationTriggersRecovery(t *testing.T) {
	ctrl, driver, _ := newTestController(t)
	require.NoError(t, ctrl.Init(context.Background()))

	b := driver.Browsers()[0]
	b.OpenPages()[0].FailNavigation(&browser.InvalidatedError{
		Op:  "navigate",
		Err: errors.New("target closed"),
	})
	b.DropConnection()

	_, err := ctrl.Navigate(context.Background(), "example.org")
	require.Error(t, err)
	assert.True(t, browser.IsInvalidated(err))

	// Recovery runs behind the failing call; the caller re-issues later.
	require.Eventually(t, func() bool {
		return driver.Launches() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestClickTypePress(t *testing.T) {
	ctrl, driver, _ := newTestController(t)

	require.NoError(t, ctrl.ClickAt(context.Background(), 100, 200))
	require.NoError(t, ctrl.TypeText(context.Background(), "hello"))
	require.NoError(t, ctrl.PressKey(context.Background(), "Enter"))

	ops := driver.Browsers()[0].OpenPages()[0].Ops()
	assert.Contains(t, ops, "click 100,200")
	assert.Contains(t, ops, "type hello")
	assert.Contains(t, ops, "press Enter")
}

func TestOperationsFailWhenSessionUnavailable(t *testing.T) {
	ctrl, driver, _ := newTestController(t)
	driver.FailLaunches(errors.New("no chromium"))

	_, err := ctrl.Navigate(context.Background(), "example.org")
	assert.ErrorIs(t, err, session.ErrUnavailable)

	err = ctrl.ClickAt(context.Background(), 1, 2)
	assert.ErrorIs(t, err, session.ErrUnavailable)

	_, err = ctrl.Screenshot(context.Background())
	assert.ErrorIs(t, err, session.ErrUnavailable)
}

func TestScreenshotWritesFile(t *testing.T) {
	ctrl, driver, shotPath := newTestController(t)
	require.NoError(t, ctrl.Init(context.Background()))
	driver.Browsers()[0].OpenPages()[0].SetScreenshot([]byte("first"), nil)

	path, err := ctrl.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shotPath, path)

	data, err := os.ReadFile(shotPath)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// A second capture replaces the same file in place.
	driver.Browsers()[0].OpenPages()[0].SetScreenshot([]byte("second"), nil)
	_, err = ctrl.Screenshot(context.Background())
	require.NoError(t, err)

	data, err = os.ReadFile(shotPath)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(shotPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1) // no temp files left behind
}

func TestTrySnapshotSkipsWhenNotReady(t *testing.T) {
	ctrl, _, shotPath := newTestController(t)

	captured, err := ctrl.TrySnapshot(context.Background())
	assert.False(t, captured)
	assert.NoError(t, err)
	_, statErr := os.Stat(shotPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTrySnapshotCaptures(t *testing.T) {
	ctrl, _, shotPath := newTestController(t)
	require.NoError(t, ctrl.Init(context.Background()))

	captured, err := ctrl.TrySnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, captured)

	_, statErr := os.Stat(shotPath)
	assert.NoError(t, statErr)
}

func TestStatusReflectsSession(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	st := ctrl.Status()
	assert.False(t, st.Ready)
	assert.Empty(t, st.URL)

	require.NoError(t, ctrl.Init(context.Background()))
	st = ctrl.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, "about:blank", st.URL)
}
