package suite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rtsm-probe/internal/browser"
	"github.com/xkilldash9x/rtsm-probe/internal/browser/probe"
	"github.com/xkilldash9x/rtsm-probe/internal/config"
	"github.com/xkilldash9x/rtsm-probe/internal/readiness"
	"github.com/xkilldash9x/rtsm-probe/internal/rtsm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubSession is a static page: the sets named in visible are shown, all
// others are absent.
type stubSession struct {
	id      string
	title   string
	visible map[string]bool
	closed  atomic.Bool
	onClose func()
}

var _ browser.PageSession = (*stubSession)(nil)

func (s *stubSession) ID() string { return s.id }
func (s *stubSession) Close(context.Context) error {
	s.closed.Store(true)
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}
func (s *stubSession) Navigate(context.Context, string) error { return nil }
func (s *stubSession) Find(_ context.Context, set probe.Set) probe.Match {
	if s.visible[set.Name] {
		return probe.Match{Status: probe.Found, Index: 0, Probe: set.Probes[0], Selector: set.Name}
	}
	return probe.Match{Status: probe.NotFound, Index: -1}
}
func (s *stubSession) Click(context.Context, probe.Match) error { return nil }
func (s *stubSession) Fill(context.Context, probe.Match, string) error { return nil }
func (s *stubSession) Count(context.Context, probe.Probe) (int, error) { return 0, nil }
func (s *stubSession) Evaluate(_ context.Context, _ string, out interface{}) error {
	if sig, ok := out.(*readiness.Signals); ok {
		*sig = readiness.Signals{}
	}
	return nil
}
func (s *stubSession) BodyText(context.Context) (string, error) { return "", nil }
func (s *stubSession) URL(context.Context) (string, error) { return "https://staging.example.test/", nil }
func (s *stubSession) Title(context.Context) (string, error) { return s.title, nil }
func (s *stubSession) SetCookie(context.Context, browser.Cookie) error { return nil }
func (s *stubSession) Cookies(context.Context) ([]*network.Cookie, error) { return nil, nil }
func (s *stubSession) Screenshot(context.Context) ([]byte, error) { return []byte("jpeg"), nil }
func (s *stubSession) WaitNetworkIdle(context.Context, time.Duration) error {
	return nil
}

// stubFactory hands out stub sessions and tracks how many are open at once.
type stubFactory struct {
	mu       sync.Mutex
	visible  map[string]bool
	title    string
	failures int // NewSession fails this many times first
	delay    time.Duration

	opened   int
	open     int
	maxOpen  int
	sessions []*stubSession
}

func (f *stubFactory) NewSession(ctx context.Context) (browser.PageSession, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("browser crashed")
	}
	f.opened++
	f.open++
	if f.open > f.maxOpen {
		f.maxOpen = f.open
	}
	s := &stubSession{id: "s", title: f.title, visible: f.visible}
	s.onClose = func() {
		f.mu.Lock()
		f.open--
		f.mu.Unlock()
	}
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return s, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Target.BaseURL = "https://staging.example.test"
	cfg.Target.Email = "qa@example.test"
	cfg.Target.Password = "s3cret"
	cfg.Target.DeviceKey = "device-123"
	cfg.Target.Timeout = 50 * time.Millisecond
	cfg.Popup = config.PopupConfig{GracePeriod: 20 * time.Millisecond, PollInterval: 10 * time.Millisecond}
	cfg.Readiness = config.ReadinessConfig{Timeout: 20 * time.Millisecond, Interval: 10 * time.Millisecond}
	cfg.Suite.Workers = 1
	cfg.Suite.Retries = 0
	cfg.Suite.RetryDelay = time.Millisecond
	cfg.Suite.ScenarioTimeout = 5 * time.Second
	cfg.Suite.ArtifactsDir = t.TempDir()
	return cfg
}

func TestRun_PreconditionFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Target.DeviceKey = ""
	factory := &stubFactory{}

	report, err := NewRunner(factory, cfg, zaptest.NewLogger(t)).Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingRequired)
	assert.Contains(t, err.Error(), "TEST_DEVICE_KEY")
	assert.Nil(t, report)
	assert.Zero(t, factory.opened, "no session may start before configuration is valid")
}

func TestRun_UnknownScenario(t *testing.T) {
	_, err := NewRunner(&stubFactory{}, testConfig(t), zaptest.NewLogger(t)).Run(context.Background(), []string{"page-access", "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scenario(s): nope")
}

func TestRun_PageAccessPasses(t *testing.T) {
	factory := &stubFactory{
		title:   "Maven RTSM",
		visible: map[string]bool{rtsm.EmailInput.Name: true, rtsm.PasswordInput.Name: true},
	}
	report, err := NewRunner(factory, testConfig(t), zaptest.NewLogger(t)).Run(context.Background(), []string{"page-access"})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, "page-access", res.Scenario)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.ID)
	assert.NotEmpty(t, report.RunID)
	assert.True(t, report.Passed())
	assert.Equal(t, "https://staging.example.test", report.BaseURL)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.True(t, factory.sessions[0].closed.Load())
}

func TestRun_FailuresAreIsolatedAndBounded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Suite.Workers = 2
	factory := &stubFactory{title: "blank", delay: 20 * time.Millisecond}

	report, err := NewRunner(factory, cfg, zaptest.NewLogger(t)).Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, report.Results, len(Catalogue()))
	for i, res := range report.Results {
		assert.Equal(t, Catalogue()[i].Name, res.Scenario, "results keep selection order")
		assert.Equal(t, StatusFailed, res.Status, res.Scenario)
		assert.Equal(t, 1, res.Attempts)
		assert.NotEmpty(t, res.Error)
		assert.NotEmpty(t, res.Artifacts, "hard failures carry diagnostics")
	}
	assert.False(t, report.Passed())
	assert.Equal(t, len(Catalogue()), report.Count(StatusFailed))
	assert.LessOrEqual(t, factory.maxOpen, 2)
	assert.Zero(t, factory.open, "every session is closed")
}

func TestRun_RetriesUseFreshSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Suite.Retries = 2
	factory := &stubFactory{
		title:    "Maven RTSM",
		visible:  map[string]bool{rtsm.EmailInput.Name: true, rtsm.PasswordInput.Name: true},
		failures: 1,
	}

	report, err := NewRunner(factory, cfg, zaptest.NewLogger(t)).Run(context.Background(), []string{"page-access"})
	require.NoError(t, err)
	res := report.Results[0]
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestRun_RetriesExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Suite.Retries = 1
	factory := &stubFactory{title: "Maven RTSM", failures: 5}

	report, err := NewRunner(factory, cfg, zaptest.NewLogger(t)).Run(context.Background(), []string{"page-access"})
	require.NoError(t, err)
	res := report.Results[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, res.Error, "failed after 2 attempts")
	assert.Contains(t, res.Error, "browser crashed")
}

func TestRun_CanceledContextSkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	factory := &stubFactory{}

	report, err := NewRunner(factory, testConfig(t), zaptest.NewLogger(t)).Run(ctx, []string{"page-access", "dashboard"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(StatusSkipped))
	assert.Zero(t, factory.opened)
}

func TestRunScenario_Timeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Suite.ScenarioTimeout = 50 * time.Millisecond
	r := NewRunner(&stubFactory{}, cfg, zaptest.NewLogger(t))

	blocking := Scenario{Name: "blocking", Run: func(ctx context.Context, _ *rtsm.Flow) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	start := time.Now()
	res := r.runScenario(context.Background(), blocking, r.logger)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "scenario timed out after 50ms")
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunScenario_NotesAreReported(t *testing.T) {
	r := NewRunner(&stubFactory{}, testConfig(t), zaptest.NewLogger(t))
	sc := Scenario{Name: "notes", Run: func(ctx context.Context, f *rtsm.Flow) error {
		f.WaitStudyList(ctx)
		return nil
	}}

	res := r.runScenario(context.Background(), sc, r.logger)
	assert.Equal(t, StatusPassed, res.Status)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "study list not ready")
}

func TestSelect(t *testing.T) {
	all, err := Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 8)

	picked, err := Select([]string{"dashboard", "page-access", "dashboard"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "page-access", picked[0].Name)
	assert.Equal(t, "dashboard", picked[1].Name)

	assert.Equal(t, []string{
		"dashboard",
		"login-logout",
		"login-without-device-key",
		"manage-user-count",
		"page-access",
		"study-dashboard-navigation",
		"study-list",
		"study-menu-navigation",
	}, Names())
}

func TestResult_JSONDurationInMilliseconds(t *testing.T) {
	res := Result{ID: "r1", Scenario: "page-access", Status: StatusPassed, Attempts: 1, Duration: 1500 * time.Millisecond}

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"duration_ms":1500`)
	assert.NotContains(t, string(raw), `"duration":`)

	var back Result
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, res.Duration, back.Duration)
	assert.Equal(t, res.Scenario, back.Scenario)
}
