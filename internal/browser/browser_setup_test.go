// internal/browser/browser_setup_test.go
package browser_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rtsm-probe/internal/browser"
	"github.com/xkilldash9x/rtsm-probe/internal/config"
)

// testFixture holds the environment for browser integration tests.
type testFixture struct {
	Manager *browser.Manager
	Logger  *zap.Logger
	Config  *config.Config
	MgrCtx  context.Context
}

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser integration test skipped in -short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome/Chromium executable found in PATH")
}

// setupTestConfig returns defaults tuned for fast local pages.
func setupTestConfig(t *testing.T) (*zap.Logger, *config.Config) {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	cfg := config.NewDefaultConfig()
	cfg.Browser.Headless = true
	cfg.Browser.ActionTimeout = 10 * time.Second
	cfg.Network.NavigationTimeout = 15 * time.Second
	cfg.Network.IdleQuietPeriod = 100 * time.Millisecond
	cfg.Network.IdleTimeout = 5 * time.Second
	return logger, cfg
}

// setupBrowserManager starts a Manager that is shut down with the test.
func setupBrowserManager(t *testing.T) *testFixture {
	t.Helper()
	requireChrome(t)
	logger, cfg := setupTestConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	mgr, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		cancel()
		t.Skipf("browser unavailable: %v", err)
	}

	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			t.Logf("Error during Browser Manager shutdown: %v", err)
		}
		cancel()
	})

	return &testFixture{Manager: mgr, Logger: logger, Config: cfg, MgrCtx: ctx}
}

// newSession opens a session closed with the test.
func (f *testFixture) newSession(t *testing.T) browser.PageSession {
	t.Helper()
	initCtx, cancelInit := context.WithTimeout(f.MgrCtx, 30*time.Second)
	defer cancelInit()

	session, err := f.Manager.NewSession(initCtx)
	if err != nil {
		t.Fatalf("Failed to initialize session: %v", err)
	}
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := session.Close(closeCtx); err != nil {
			t.Logf("Error closing session %s: %v", session.ID(), err)
		}
	})
	return session
}

func createTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func servePage(t *testing.T, html string) *httptest.Server {
	t.Helper()
	return createTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	}))
}
