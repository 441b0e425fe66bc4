// Package popup detects and clears transient dialogs that may or may not
// appear after a state-changing action.
package popup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/browser/probe"
	"github.com/xkilldash9x/rtsm-probe/internal/config"
	"github.com/xkilldash9x/rtsm-probe/internal/wait"
)

// Page is the part of the browser surface the resolver needs.
type Page interface {
	Find(ctx context.Context, set probe.Set) probe.Match
	Click(ctx context.Context, m probe.Match) error
	BodyText(ctx context.Context) (string, error)
}

// Result reports what the resolver observed. Dismissed implies Present.
// Present=false only means nothing was seen within the grace period.
type Result struct {
	Present   bool
	Dismissed bool
	// Signal names the probe or marker that detected the popup.
	Signal string
	// Confirm is the candidate that was clicked.
	Confirm string
	Elapsed time.Duration
	// Err explains a present-but-not-dismissed result. Diagnostic only.
	Err error
}

// Resolver runs the detect, confirm, settle protocol against one page.
type Resolver struct {
	page   Page
	cfg    config.PopupConfig
	logger *zap.Logger
}

// NewResolver creates a resolver bound to page.
func NewResolver(page Page, cfg config.PopupConfig, logger *zap.Logger) *Resolver {
	return &Resolver{page: page, cfg: cfg, logger: logger.Named("popup")}
}

// Resolve watches for profile during the grace period and, if it shows up,
// clicks the first visible confirm candidate and waits for the settle period.
// It never fails; the caller decides whether an undismissed popup matters.
func (r *Resolver) Resolve(ctx context.Context, profile Profile) Result {
	start := time.Now()
	log := r.logger.With(zap.String("profile", profile.Name))
	log.Debug("Checking for transient popup.", zap.Duration("grace", r.cfg.GracePeriod))

	var res Result
	outcome := wait.Poll(ctx, func(ctx context.Context) (bool, error) {
		signal, err := r.detect(ctx, profile)
		if signal != "" {
			res.Signal = signal
			return true, nil
		}
		return false, err
	}, wait.Options{Timeout: r.cfg.GracePeriod, Interval: r.cfg.PollInterval})

	if !outcome.Satisfied {
		res.Elapsed = time.Since(start)
		log.Debug("No popup detected.", zap.Int("checks", outcome.Attempts), zap.NamedError("last_probe_error", outcome.LastErr))
		return res
	}
	res.Present = true
	log.Info("Popup detected.", zap.String("signal", res.Signal))

	confirm := r.page.Find(ctx, profile.Confirm)
	switch confirm.Status {
	case probe.Found:
	case probe.Errored:
		res.Err = fmt.Errorf("probing confirm candidates: %w", confirm.Err)
	default:
		res.Err = fmt.Errorf("no visible confirm candidate among %s", profile.Confirm.Describe())
	}
	if res.Err != nil {
		res.Elapsed = time.Since(start)
		log.Warn("Popup present but could not be dismissed.", zap.Error(res.Err))
		return res
	}

	res.Confirm = confirm.Probe.String()
	if err := r.page.Click(ctx, confirm); err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		log.Warn("Clicking the popup confirm candidate failed.", zap.String("confirm", res.Confirm), zap.Error(err))
		return res
	}
	res.Dismissed = true
	log.Info("Popup dismissed.", zap.String("confirm", res.Confirm))

	if err := wait.Sleep(ctx, r.cfg.SettlePeriod); err != nil {
		log.Debug("Settle wait interrupted.", zap.Error(err))
	}
	res.Elapsed = time.Since(start)
	return res
}

// detect returns the first signal that fires: a visible probe, then a marker
// in the body text.
func (r *Resolver) detect(ctx context.Context, profile Profile) (string, error) {
	m := r.page.Find(ctx, profile.Detect)
	if m.Found() {
		return m.Probe.String(), nil
	}
	probeErr := m.Err

	if len(profile.Markers) == 0 {
		return "", probeErr
	}
	text, err := r.page.BodyText(ctx)
	if err != nil {
		return "", err
	}
	for _, marker := range profile.Markers {
		if strings.Contains(text, marker) {
			return "text:" + marker, nil
		}
	}
	return "", probeErr
}
