// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/config"
)

const launchTimeout = 30 * time.Second

// Manager owns the Chrome process. Each session it hands out runs in a fresh
// browser context, so cookies and storage never leak between flows.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	// wg tracks open sessions for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser and verifies it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Browser.Headless))

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx,
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	// The first Run allocates the process and must use the browser context
	// itself; a derived timeout context would kill Chrome when it expires.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.browserCancel()
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start: %w", err)
	}

	testCtx, cancelTest := context.WithTimeout(m.browserCtx, launchTimeout)
	defer cancelTest()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.browserCancel()
		m.allocatorCancel()
		return fmt.Errorf("browser failed to respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the Chrome command line from configuration.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	bcfg := m.cfg.Browser
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// A false boolean flag removes it from the command line, which is how
	// the defaults' enable-automation and headless are overridden.
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", bcfg.Headless),
		chromedp.Flag("ignore-certificate-errors", bcfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", bcfg.Headless),
	)
	if bcfg.ViewportWidth > 0 && bcfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(bcfg.ViewportWidth, bcfg.ViewportHeight))
	}
	if bcfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(bcfg.UserAgent))
	}
	if bcfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(bcfg.ExecPath))
	}

	for _, arg := range bcfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Containers rarely grant the sandbox its namespaces or a usable /dev/shm.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// NewSession opens a tab in a new, isolated browser context.
func (m *Manager) NewSession(ctx context.Context) (PageSession, error) {
	if err := m.browserCtx.Err(); err != nil {
		return nil, fmt.Errorf("browser is shut down: %w", err)
	}

	s := newSession(m.browserCtx, m.cfg, m.logger)
	if err := s.initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	m.wg.Add(1)
	return &sessionWrapper{Session: s, wg: &m.wg}, nil
}

// Shutdown waits for open sessions to close, bounded by ctx, then terminates
// the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug("All sessions have completed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	var err error
	if m.browserCtx != nil {
		// Cancel blocks until Chrome exits; treat an already-cancelled context as done.
		if cerr := chromedp.Cancel(m.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("failed to close browser: %w", cerr)
		}
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return err
}

// sessionWrapper decrements the manager's WaitGroup exactly once on Close.
type sessionWrapper struct {
	*Session
	wg     *sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

func (sw *sessionWrapper) Close(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return nil
	}
	err := sw.Session.Close(ctx)
	sw.closed = true
	sw.wg.Done()
	return err
}
