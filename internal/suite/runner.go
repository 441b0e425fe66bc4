// internal/suite/runner.go
package suite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/rtsm-probe/internal/browser"
	"github.com/xkilldash9x/rtsm-probe/internal/config"
	"github.com/xkilldash9x/rtsm-probe/internal/rtsm"
	"github.com/xkilldash9x/rtsm-probe/internal/wait"
)

// Status is the final state of one scenario.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of one scenario, across all its attempts.
type Result struct {
	ID        string        `json:"id"`
	Scenario  string        `json:"scenario"`
	Status    Status        `json:"status"`
	Attempts  int           `json:"attempts"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"-"`
	Error     string        `json:"error,omitempty"`
	// Notes are the soft failures of the last attempt.
	Notes     []string      `json:"notes,omitempty"`
	Artifacts []string      `json:"artifacts,omitempty"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type resultAlias Result

type resultJSON struct {
	resultAlias
	DurationMS int64 `json:"duration_ms"`
}

// MarshalJSON writes Duration as duration_ms, the unit of the report summary.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{resultAlias: resultAlias(r), DurationMS: r.Duration.Milliseconds()})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var v resultJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Result(v.resultAlias)
	r.Duration = time.Duration(v.DurationMS) * time.Millisecond
	return nil
}

// Report is the outcome of one run. Results follow the order in which the
// scenarios were selected.
type Report struct {
	RunID      string    `json:"run_id"`
	BaseURL    string    `json:"base_url"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
}

// Duration is the wall-clock length of the run.
func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Passed reports whether no scenario failed.
func (r *Report) Passed() bool { return r.Count(StatusFailed) == 0 }

// Runner executes scenarios, each in a session of its own.
type Runner struct {
	sessions browser.SessionFactory
	cfg      *config.Config
	logger   *zap.Logger
}

// NewRunner creates a runner that draws sessions from sessions.
func NewRunner(sessions browser.SessionFactory, cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{sessions: sessions, cfg: cfg, logger: logger.Named("suite")}
}

// Run executes the named scenarios (all when names is empty) with at most
// suite.workers in parallel. Missing target configuration is reported
// before any session is opened. Scenario failures are recorded in the
// report, not returned.
func (r *Runner) Run(ctx context.Context, names []string) (*Report, error) {
	if err := r.cfg.ValidateTarget(); err != nil {
		return nil, err
	}
	scenarios, err := Select(names)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		BaseURL:   r.cfg.Target.BaseURL,
		StartedAt: time.Now().UTC(),
		Results:   make([]Result, len(scenarios)),
	}
	log := r.logger.With(zap.String("run_id", report.RunID))
	log.Info("Starting run.", zap.Int("scenarios", len(scenarios)), zap.Int("workers", r.cfg.Suite.Workers))

	g := new(errgroup.Group)
	workers := r.cfg.Suite.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			report.Results[i] = r.runScenario(ctx, sc, log)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()
	log.Info("Run finished.",
		zap.Int("passed", report.Count(StatusPassed)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Int("skipped", report.Count(StatusSkipped)),
		zap.Duration("duration", report.Duration()),
	)
	return report, nil
}

// runScenario retries sc up to suite.retries extra times. Each attempt gets
// a fresh session and its own timeout.
func (r *Runner) runScenario(ctx context.Context, sc Scenario, log *zap.Logger) Result {
	res := Result{ID: uuid.NewString(), Scenario: sc.Name, StartedAt: time.Now().UTC()}
	log = log.With(zap.String("scenario", sc.Name), zap.String("result_id", res.ID))

	if ctx.Err() != nil {
		res.Status = StatusSkipped
		res.Error = ctx.Err().Error()
		return res
	}

	log.Info("Scenario started.")
	err := wait.Retry(ctx, r.cfg.Suite.Retries+1, r.cfg.Suite.RetryDelay, func(ctx context.Context) error {
		res.Attempts++
		notes, artifacts, err := r.attempt(ctx, sc)
		res.Notes = notes
		res.Artifacts = append(res.Artifacts, artifacts...)
		if err != nil && res.Attempts <= r.cfg.Suite.Retries {
			log.Warn("Scenario attempt failed; retrying.", zap.Int("attempt", res.Attempts), zap.Error(err))
		}
		return err
	})
	res.Duration = time.Since(res.StartedAt)

	switch {
	case err == nil:
		res.Status = StatusPassed
		log.Info("Scenario passed.", zap.Duration("duration", res.Duration), zap.Int("notes", len(res.Notes)))
	case res.Attempts == 0:
		res.Status = StatusSkipped
		res.Error = err.Error()
	default:
		res.Status = StatusFailed
		res.Error = err.Error()
		log.Error("Scenario failed.", zap.Int("attempts", res.Attempts), zap.Error(err))
	}
	return res
}

// attempt runs sc once in a new session.
func (r *Runner) attempt(ctx context.Context, sc Scenario) (notes, artifacts []string, err error) {
	actx := ctx
	if t := r.cfg.Suite.ScenarioTimeout; t > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	session, err := r.sessions.NewSession(actx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cerr := session.Close(cctx); cerr != nil {
			r.logger.Warn("Failed to close session.", zap.String("session_id", session.ID()), zap.Error(cerr))
		}
	}()

	flow := rtsm.NewFlow(session, r.cfg, sc.Name, r.logger)
	err = sc.Run(actx, flow)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("scenario timed out after %s: %w", r.cfg.Suite.ScenarioTimeout, err)
	}
	return flow.Notes(), rtsm.ArtifactsOf(err), err
}
