// Package rtsm drives the RTSM staging application through its login,
// study list and study dashboard screens.
package rtsm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/browser"
	"github.com/xkilldash9x/rtsm-probe/internal/browser/probe"
	"github.com/xkilldash9x/rtsm-probe/internal/config"
	"github.com/xkilldash9x/rtsm-probe/internal/popup"
	"github.com/xkilldash9x/rtsm-probe/internal/readiness"
	"github.com/xkilldash9x/rtsm-probe/internal/wait"
)

// timings are the fixed waits of the RTSM screens.
type timings struct {
	// element bounds a wait for a required element.
	element time.Duration
	// marker bounds the post-login marker search.
	marker time.Duration
	// logoutRedirect bounds the wait for the login form after logout.
	logoutRedirect time.Duration
	// menuOpen lets a dropdown or accordion expand.
	menuOpen time.Duration
	// menuLoad lets a menu target render after a click.
	menuLoad time.Duration
	// studyLoad lets a study dashboard render after opening it.
	studyLoad time.Duration
	// afterPopup is the extra settle once a duplicate-login popup was cleared.
	afterPopup time.Duration
	// verification lets the verification-code step appear.
	verification time.Duration
	poll         time.Duration
}

func defaultTimings(cfg *config.Config) timings {
	element := cfg.Target.Timeout
	if element <= 0 {
		element = 30 * time.Second
	}
	return timings{
		element:        element,
		marker:         10 * time.Second,
		logoutRedirect: 10 * time.Second,
		menuOpen:       time.Second,
		menuLoad:       2 * time.Second,
		studyLoad:      3 * time.Second,
		afterPopup:     2 * time.Second,
		verification:   3 * time.Second,
		poll:           250 * time.Millisecond,
	}
}

// Flow runs the RTSM steps against one page. It is not safe for concurrent
// use; each scenario owns its own Flow and page.
type Flow struct {
	page     browser.Page
	cfg      *config.Config
	logger   *zap.Logger
	popups   *popup.Resolver
	studies  *readiness.Verifier
	timing   timings
	scenario string

	mu    sync.Mutex
	notes []string
}

// NewFlow binds a flow to page. scenario names the diagnostics it writes.
func NewFlow(page browser.Page, cfg *config.Config, scenario string, logger *zap.Logger) *Flow {
	logger = logger.Named("rtsm").With(zap.String("scenario", scenario))
	return &Flow{
		page:     page,
		cfg:      cfg,
		logger:   logger,
		popups:   popup.NewResolver(page, cfg.Popup, logger),
		studies:  readiness.NewVerifier(page, readiness.StudyList, cfg.Readiness, logger),
		timing:   defaultTimings(cfg),
		scenario: scenario,
	}
}

// Logger returns the flow's scenario-scoped logger.
func (f *Flow) Logger() *zap.Logger { return f.logger }

// Notes returns the soft failures recorded so far.
func (f *Flow) Notes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notes...)
}

// note records a soft failure: logged, reported, never fatal.
func (f *Flow) note(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	f.logger.Warn(msg)
	f.mu.Lock()
	f.notes = append(f.notes, msg)
	f.mu.Unlock()
}

// fail captures diagnostics and wraps err as a hard failure of step.
func (f *Flow) fail(ctx context.Context, step string, err error) error {
	f.logger.Error("Step failed.", zap.String("step", step), zap.Error(err))
	artifacts, derr := f.CaptureDiagnostics(ctx, step)
	if derr != nil {
		f.logger.Warn("Could not capture diagnostics.", zap.String("step", step), zap.Error(derr))
	}
	return &StepError{Step: step, Err: err, Artifacts: artifacts}
}

// await polls for the first visible member of set. The returned match is
// the last observation: NotFound or Errored when the wait ran out.
func (f *Flow) await(ctx context.Context, set probe.Set, timeout time.Duration) probe.Match {
	var last probe.Match
	wait.Poll(ctx, func(ctx context.Context) (bool, error) {
		last = f.page.Find(ctx, set)
		return last.Found(), last.Err
	}, wait.Options{Timeout: timeout, Interval: f.timing.poll})
	if last.Status == probe.NotFound && last.Err == nil && ctx.Err() != nil {
		last.Err = ctx.Err()
	}
	return last
}

// Visible reports whether set currently has a visible member. A broken
// probe counts as not visible.
func (f *Flow) Visible(ctx context.Context, set probe.Set) bool {
	m := f.page.Find(ctx, set)
	if m.Status == probe.Errored {
		f.logger.Debug("Probe errored.", zap.String("set", set.Name), zap.Error(m.Err))
	}
	return m.Found()
}

// Require waits for set and fails hard when it never shows up.
func (f *Flow) Require(ctx context.Context, step string, set probe.Set) error {
	m := f.await(ctx, set, f.timing.element)
	if m.Found() {
		return nil
	}
	return f.fail(ctx, step, notFoundError(set, m))
}

func notFoundError(set probe.Set, m probe.Match) error {
	if m.Err != nil {
		return fmt.Errorf("%s %s: %w", set.Name, m.Status, m.Err)
	}
	return fmt.Errorf("%s not found (tried %s)", set.Name, set.Describe())
}

// textOf reads the trimmed textContent of a matched element.
func (f *Flow) textOf(ctx context.Context, m probe.Match) (string, error) {
	var text string
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%q); return el ? (el.textContent || "").trim() : ""; })()`, m.Selector)
	if err := f.page.Evaluate(ctx, expr, &text); err != nil {
		return "", err
	}
	return text, nil
}

// settleNetwork waits for network idle; not reaching it is a note.
func (f *Flow) settleNetwork(ctx context.Context, step string) {
	if err := f.page.WaitNetworkIdle(ctx, 0); err != nil {
		if ctx.Err() != nil {
			return
		}
		f.note("%s: %v", step, err)
	}
}

// Open navigates to the base URL and waits for the network to settle.
func (f *Flow) Open(ctx context.Context) error {
	url := f.cfg.Target.BaseURL
	f.logger.Info("Opening application.", zap.String("url", url))
	if err := f.page.Navigate(ctx, url); err != nil {
		return f.fail(ctx, StepOpen, err)
	}
	f.settleNetwork(ctx, StepOpen)
	return nil
}

// VerifyLoginPage checks the title and that both credential inputs are
// visible.
func (f *Flow) VerifyLoginPage(ctx context.Context) error {
	title, err := f.page.Title(ctx)
	if err != nil {
		return f.fail(ctx, StepLoginPage, err)
	}
	if !loginPageTitle.MatchString(title) {
		return f.fail(ctx, StepLoginPage, fmt.Errorf("unexpected page title %q", title))
	}
	for _, set := range []probe.Set{EmailInput, PasswordInput} {
		if m := f.await(ctx, set, f.timing.element); !m.Found() {
			return f.fail(ctx, StepLoginPage, notFoundError(set, m))
		}
	}
	return nil
}

// SetDeviceKey writes the device key cookie on the current document and
// reads it back. Without it the login stops at the verification-code step.
func (f *Flow) SetDeviceKey(ctx context.Context) error {
	t := f.cfg.Target
	if t.DeviceKey == "" {
		return f.fail(ctx, StepDeviceKey, fmt.Errorf("%w: device key", config.ErrMissingRequired))
	}
	err := f.page.SetCookie(ctx, browser.Cookie{
		Name:     t.DeviceKeyCookie,
		Value:    t.DeviceKey,
		Path:     "/",
		Secure:   true,
		SameSite: "lax",
	})
	if err != nil {
		return f.fail(ctx, StepDeviceKey, err)
	}

	cookies, err := f.page.Cookies(ctx)
	if err != nil {
		return f.fail(ctx, StepDeviceKey, err)
	}
	for _, c := range cookies {
		if c.Name == t.DeviceKeyCookie {
			f.logger.Info("Device key cookie set.", zap.String("cookie", c.Name), zap.String("domain", c.Domain))
			return nil
		}
	}
	return f.fail(ctx, StepDeviceKey, fmt.Errorf("cookie %s was not stored", t.DeviceKeyCookie))
}

// Login submits the credentials and clears a duplicate-login popup if one
// shows up. An undismissed popup is a note; the next verification decides.
func (f *Flow) Login(ctx context.Context) (popup.Result, error) {
	email := f.await(ctx, EmailInput, f.timing.element)
	if !email.Found() {
		return popup.Result{}, f.fail(ctx, StepLogin, fmt.Errorf("login form: %w", notFoundError(EmailInput, email)))
	}
	if err := f.page.Fill(ctx, email, f.cfg.Target.Email); err != nil {
		return popup.Result{}, f.fail(ctx, StepLogin, err)
	}

	password := f.page.Find(ctx, PasswordInput)
	if !password.Found() {
		return popup.Result{}, f.fail(ctx, StepLogin, notFoundError(PasswordInput, password))
	}
	if err := f.page.Fill(ctx, password, f.cfg.Target.Password); err != nil {
		return popup.Result{}, f.fail(ctx, StepLogin, err)
	}

	submit := f.page.Find(ctx, SubmitButton)
	if !submit.Found() {
		return popup.Result{}, f.fail(ctx, StepLogin, notFoundError(SubmitButton, submit))
	}
	if err := f.page.Click(ctx, submit); err != nil {
		return popup.Result{}, f.fail(ctx, StepLogin, err)
	}
	f.logger.Info("Credentials submitted.", zap.String("via", submit.Probe.String()))

	res := f.popups.Resolve(ctx, popup.DuplicateLogin)
	switch {
	case res.Dismissed:
		if err := wait.Sleep(ctx, f.timing.afterPopup); err != nil {
			return res, err
		}
	case res.Present:
		f.note("duplicate login popup was not dismissed: %v", res.Err)
	}
	return res, nil
}

// AwaitVerificationStep gives the verification-code screen time to appear
// after a login without a device key and returns the URL it landed on.
func (f *Flow) AwaitVerificationStep(ctx context.Context) (string, error) {
	if err := wait.Sleep(ctx, f.timing.verification); err != nil {
		return "", err
	}
	u, err := f.page.URL(ctx)
	if err != nil {
		return "", f.fail(ctx, StepLogin, err)
	}
	f.logger.Info("Login is waiting for a verification code.", zap.String("url", u))
	return u, nil
}

// VerifyLogin checks that the browser left the sign-in screen. When no
// post-login marker appears but the URL is no longer a sign-in URL, the
// login is accepted and the page state is logged.
func (f *Flow) VerifyLogin(ctx context.Context) error {
	f.settleNetwork(ctx, StepVerifyLogin)

	u, err := f.page.URL(ctx)
	if err != nil {
		return f.fail(ctx, StepVerifyLogin, err)
	}
	if signInURL.MatchString(u) {
		return f.fail(ctx, StepVerifyLogin, fmt.Errorf("still on sign-in page %s", u))
	}

	m := f.await(ctx, PostLoginMarkers, f.timing.marker)
	if m.Found() {
		f.logger.Info("Login verified.", zap.String("marker", m.Probe.String()), zap.String("url", u))
		return nil
	}

	fields := []zap.Field{zap.String("url", u)}
	if title, err := f.page.Title(ctx); err == nil {
		fields = append(fields, zap.String("title", title))
	}
	if text, err := f.page.BodyText(ctx); err == nil {
		fields = append(fields, zap.String("excerpt", readiness.Excerpt(text, 300)))
	}
	f.logger.Warn("No post-login marker found; accepting login on URL alone.", fields...)
	f.note("no post-login marker found at %s", u)
	return nil
}

// SignIn is Open, SetDeviceKey, Login and VerifyLogin in sequence.
func (f *Flow) SignIn(ctx context.Context) error {
	if err := f.Open(ctx); err != nil {
		return err
	}
	if err := f.SetDeviceKey(ctx); err != nil {
		return err
	}
	if _, err := f.Login(ctx); err != nil {
		return err
	}
	return f.VerifyLogin(ctx)
}

// DismissReleaseNotes closes the release announcement if it is showing.
func (f *Flow) DismissReleaseNotes(ctx context.Context) popup.Result {
	res := f.popups.Resolve(ctx, popup.ReleaseNotes)
	if res.Present && !res.Dismissed {
		f.note("release notes dialog was not dismissed: %v", res.Err)
	}
	return res
}

// Logout opens the user menu, clicks logout and waits for the login form.
func (f *Flow) Logout(ctx context.Context) error {
	menu := f.await(ctx, UserMenu, f.timing.marker)
	if !menu.Found() {
		return f.fail(ctx, StepLogout, fmt.Errorf("user menu: %w", notFoundError(UserMenu, menu)))
	}
	if err := f.page.Click(ctx, menu); err != nil {
		return f.fail(ctx, StepLogout, err)
	}
	if err := wait.Sleep(ctx, f.timing.menuOpen); err != nil {
		return err
	}

	logout := f.page.Find(ctx, LogoutButton)
	if !logout.Found() {
		if text, err := f.page.BodyText(ctx); err == nil {
			f.logger.Warn("Logout entry not found.", zap.String("excerpt", readiness.Excerpt(text, 300)))
		}
		return f.fail(ctx, StepLogout, notFoundError(LogoutButton, logout))
	}
	if err := f.page.Click(ctx, logout); err != nil {
		return f.fail(ctx, StepLogout, err)
	}

	if m := f.await(ctx, EmailInput, f.timing.logoutRedirect); !m.Found() {
		return f.fail(ctx, StepLogout, fmt.Errorf("login form did not return: %w", notFoundError(EmailInput, m)))
	}
	if m := f.page.Find(ctx, PasswordInput); !m.Found() {
		return f.fail(ctx, StepLogout, notFoundError(PasswordInput, m))
	}
	f.logger.Info("Logged out.")
	return nil
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
