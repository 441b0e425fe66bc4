package readiness

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/config"
	"github.com/xkilldash9x/rtsm-probe/internal/wait"
)

const excerptLen = 300

// Page is the part of the browser surface the verifier reads.
type Page interface {
	Evaluator
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
}

// Result is the outcome of a Wait. Ready=false is a soft failure: the caller
// decides whether to proceed with whatever state exists.
type Result struct {
	Ready   bool
	State   State
	Signals Signals
	Outcome wait.Outcome
}

// Verifier polls a page until its view settles.
type Verifier struct {
	page   Page
	rules  Rules
	cfg    config.ReadinessConfig
	logger *zap.Logger
}

// NewVerifier creates a verifier for rules on page.
func NewVerifier(page Page, rules Rules, cfg config.ReadinessConfig, logger *zap.Logger) *Verifier {
	return &Verifier{
		page:   page,
		rules:  rules,
		cfg:    cfg,
		logger: logger.Named("readiness").With(zap.String("view", rules.Name)),
	}
}

// Check takes a single snapshot and returns its verdict.
func (v *Verifier) Check(ctx context.Context) (State, Signals, error) {
	s, err := Collect(ctx, v.page, v.rules)
	if err != nil {
		return StillLoading, Signals{}, err
	}
	return Evaluate(s, v.rules), s, nil
}

// Wait polls until the view is ready or timeout elapses. A non-positive
// timeout uses the configured default.
func (v *Verifier) Wait(ctx context.Context, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = v.cfg.Timeout
	}

	var res Result
	res.Outcome = wait.Poll(ctx, func(ctx context.Context) (bool, error) {
		state, signals, err := v.Check(ctx)
		if err != nil {
			return false, err
		}
		res.State, res.Signals = state, signals
		v.logger.Debug("Readiness tick.",
			zap.Int("headers", signals.Headers),
			zap.Int("rows", signals.Rows),
			zap.Int("categories", signals.Categories),
			zap.Bool("empty", signals.Empty),
			zap.Bool("loading", signals.Loading),
		)
		return state.Ready(), nil
	}, wait.Options{Timeout: timeout, Interval: v.cfg.Interval})

	res.Ready = res.Outcome.Satisfied
	if res.Ready {
		v.logger.Info("View is ready.", zap.Stringer("state", res.State), zap.Duration("elapsed", res.Outcome.Elapsed))
		return res
	}

	v.logDiagnostics(ctx, res)
	return res
}

// logDiagnostics records where the page was when readiness timed out. The
// poll deadline has passed, so reads get a short budget of their own.
func (v *Verifier) logDiagnostics(ctx context.Context, res Result) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	fields := []zap.Field{
		zap.Duration("elapsed", res.Outcome.Elapsed),
		zap.Int("checks", res.Outcome.Attempts),
		zap.Int("headers", res.Signals.Headers),
		zap.Int("rows", res.Signals.Rows),
		zap.Int("categories", res.Signals.Categories),
		zap.Bool("empty", res.Signals.Empty),
		zap.Bool("loading", res.Signals.Loading),
	}
	if res.Outcome.LastErr != nil {
		fields = append(fields, zap.NamedError("last_error", res.Outcome.LastErr))
	}
	if u, err := v.page.URL(dctx); err == nil {
		fields = append(fields, zap.String("url", u))
	}
	if t, err := v.page.Title(dctx); err == nil {
		fields = append(fields, zap.String("title", t))
	}
	if text, err := v.page.BodyText(dctx); err == nil {
		fields = append(fields, zap.String("excerpt", Excerpt(text, excerptLen)))
	}
	v.logger.Warn("View did not become ready before the timeout; continuing with partial state.", fields...)
}

// Excerpt returns at most n runes of s.
func Excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
