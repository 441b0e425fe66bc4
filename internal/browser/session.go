// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/rtsm-probe/internal/browser/probe"
	"github.com/xkilldash9x/rtsm-probe/internal/config"
)

// ErrSessionClosed is returned by every action on a closed session.
var ErrSessionClosed = errors.New("browser session is closed")

var _ PageSession = (*Session)(nil)

// Session is one tab in its own browser context.
type Session struct {
	id     string
	cfg    *config.Config
	logger *zap.Logger

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc

	// pacer spaces out mutating actions when slow motion is configured.
	pacer    *rate.Limiter
	requests *requestTracker

	mu       sync.Mutex
	isClosed bool
}

func newSession(browserCtx context.Context, cfg *config.Config, logger *zap.Logger) *Session {
	id := uuid.NewString()
	l := logger.Named("session").With(zap.String("session_id", id[:8]))

	s := &Session{
		id:        id,
		cfg:       cfg,
		logger:    l,
		parentCtx: browserCtx,
		requests:  newRequestTracker(l),
	}
	if cfg.Browser.SlowMo > 0 {
		s.pacer = rate.NewLimiter(rate.Every(cfg.Browser.SlowMo), 1)
	}
	return s
}

// initialize creates the tab and enables the domains the session relies on.
func (s *Session) initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already initialized")
	}
	s.ctx, s.cancel = chromedp.NewContext(s.parentCtx, chromedp.WithNewBrowserContext())
	s.mu.Unlock()

	chromedp.ListenTarget(s.ctx, s.requests.handle)

	// The tab is created by this first Run, so it must run on the session
	// context itself; ctx only bounds how long we wait for it.
	errCh := make(chan error, 1)
	go func() {
		actions := []chromedp.Action{network.Enable()}
		if w, h := s.cfg.Browser.ViewportWidth, s.cfg.Browser.ViewportHeight; w > 0 && h > 0 {
			actions = append(actions, chromedp.EmulateViewport(int64(w), int64(h)))
		}
		errCh <- chromedp.Run(s.ctx, actions...)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.cancel()
			return fmt.Errorf("failed to create tab: %w", err)
		}
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("session initialization interrupted: %w", ctx.Err())
	}

	s.logger.Debug("Browser session initialized.")
	return nil
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string { return s.id }

// Close closes the tab and disposes of its browser context.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed || s.ctx == nil {
		s.isClosed = true
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()

	select {
	case err := <-done:
		s.cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to close session %s: %w", s.id, err)
		}
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("Timed out closing session; tab was abandoned.", zap.Error(ctx.Err()))
	}
	s.logger.Debug("Browser session closed.")
	return nil
}

// run executes actions on the tab, bounded by both the caller's context and
// timeout.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.isClosed || s.ctx == nil
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		opCtx, cancelTimeout = context.WithTimeout(opCtx, timeout)
		defer cancelTimeout()
	}
	return chromedp.Run(opCtx, actions...)
}

func (s *Session) pace(ctx context.Context) error {
	if s.pacer == nil {
		return nil
	}
	return s.pacer.Wait(ctx)
}

// Navigate loads url and waits for the body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	navTimeout := s.cfg.Network.NavigationTimeout
	s.logger.Debug("Navigating", zap.String("url", url))

	s.requests.reset()
	err := s.run(ctx, navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrSessionClosed):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("navigation canceled: %w", ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
	default:
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
}

// Find locates the first visible element of set.
func (s *Session) Find(ctx context.Context, set probe.Set) probe.Match {
	return probe.Locate(ctx, s, set)
}

// Count reports how many elements match p.
func (s *Session) Count(ctx context.Context, p probe.Probe) (int, error) {
	return probe.Count(ctx, s, p)
}

// Click clicks the element a previous Find tagged.
func (s *Session) Click(ctx context.Context, m probe.Match) error {
	if !m.Found() {
		return fmt.Errorf("cannot click: element %s", m.Status)
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	if err := s.run(ctx, s.cfg.Browser.ActionTimeout,
		chromedp.Click(m.Selector, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return fmt.Errorf("click on %s failed: %w", m.Probe, err)
	}
	return nil
}

// Fill replaces the value of the tagged input.
func (s *Session) Fill(ctx context.Context, m probe.Match, value string) error {
	if !m.Found() {
		return fmt.Errorf("cannot fill: element %s", m.Status)
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	if err := s.run(ctx, s.cfg.Browser.ActionTimeout,
		chromedp.Clear(m.Selector, chromedp.ByQuery),
		chromedp.SendKeys(m.Selector, value, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return fmt.Errorf("fill of %s failed: %w", m.Probe, err)
	}
	return nil
}

// Evaluate runs expression, awaiting it if it yields a promise.
func (s *Session) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return s.run(ctx, s.cfg.Browser.ActionTimeout,
		chromedp.Evaluate(expression, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
}

// BodyText returns document.body.innerText, or "" before a body exists.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	if err := s.Evaluate(ctx, `document.body ? document.body.innerText : ""`, &text); err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.cfg.Browser.ActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, s.cfg.Browser.ActionTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

// SetCookie writes c through document.cookie, so it is scoped to the
// current document exactly as the application's own script would scope it.
func (s *Session) SetCookie(ctx context.Context, c Cookie) error {
	if c.Name == "" {
		return fmt.Errorf("cookie name is required")
	}
	expr := fmt.Sprintf("document.cookie = %s", jsString(formatCookie(c)))
	if err := s.Evaluate(ctx, expr, nil); err != nil {
		return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
	}
	return nil
}

// Cookies returns the cookies for the current document URL.
func (s *Session) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, s.cfg.Browser.ActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

// Screenshot captures the full page.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, s.cfg.Browser.ActionTimeout, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// WaitNetworkIdle blocks until the tab has had no request in flight for
// quiet, bounded by network.idle_timeout.
func (s *Session) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	if quiet <= 0 {
		quiet = s.cfg.Network.IdleQuietPeriod
	}
	waitCtx := ctx
	if t := s.cfg.Network.IdleTimeout; t > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	if err := s.requests.waitIdle(waitCtx, quiet); err != nil {
		return fmt.Errorf("network did not become idle (%d in flight): %w", s.requests.active(), err)
	}
	return nil
}

func formatCookie(c Cookie) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)
	path := c.Path
	if path == "" {
		path = "/"
	}
	b.WriteString("; path=" + path)
	if c.MaxAge > 0 {
		fmt.Fprintf(&b, "; max-age=%d", c.MaxAge)
	}
	if c.Secure {
		b.WriteString("; secure")
	}
	if c.SameSite != "" {
		b.WriteString("; samesite=" + strings.ToLower(c.SameSite))
	}
	return b.String()
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(raw)
}
