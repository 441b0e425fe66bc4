// internal/rtsm/study.go
package rtsm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/readiness"
	"github.com/xkilldash9x/rtsm-probe/internal/wait"
)

// DashboardReport summarizes the study list after login.
type DashboardReport struct {
	Ready        bool              `json:"ready"`
	State        string            `json:"state"`
	Empty        bool              `json:"empty"`
	Studies      int               `json:"studies"`
	FirstStudy   string            `json:"first_study,omitempty"`
	Environments map[string]int    `json:"environments,omitempty"`
	Statuses     map[string]int    `json:"statuses,omitempty"`
	Phases       map[string]int    `json:"phases,omitempty"`
	Sponsors     map[string]int    `json:"sponsors,omitempty"`
	Signals      readiness.Signals `json:"signals"`
}

// MenuReport lists the study dashboard menus that were visible.
type MenuReport struct {
	Dashboard  []string `json:"dashboard"`
	IP         []string `json:"ip"`
	Setup      []string `json:"setup"`
	Manage     []string `json:"manage"`
	BackToHome bool     `json:"back_to_home"`
}

// Total is the number of visible menu entries across all groups.
func (r MenuReport) Total() int {
	return len(r.Dashboard) + len(r.IP) + len(r.Setup) + len(r.Manage)
}

// WaitStudyList waits for the study list to settle. A timeout is a note.
func (f *Flow) WaitStudyList(ctx context.Context) readiness.Result {
	res := f.studies.Wait(ctx, 0)
	if !res.Ready && ctx.Err() == nil {
		f.note("study list not ready after %s (state %s); verifying partial state", res.Outcome.Elapsed.Round(time.Millisecond), res.State)
	}
	return res
}

// VerifyDashboard waits for the study list and reports what it shows. An
// empty list still needs its header row; the tallies are informational.
func (f *Flow) VerifyDashboard(ctx context.Context) (DashboardReport, error) {
	res := f.WaitStudyList(ctx)
	report := DashboardReport{Ready: res.Ready, State: res.State.String(), Signals: res.Signals}

	if res.State != readiness.LoadedWithData && f.Visible(ctx, EmptyStudyList) {
		report.Empty = true
		if m := f.await(ctx, StudyNameHeader, f.timing.element); !m.Found() {
			return report, f.fail(ctx, StepDashboard, fmt.Errorf("empty study list without header: %w", notFoundError(StudyNameHeader, m)))
		}
		f.logger.Info("Study list is empty.")
		return report, nil
	}

	studies, err := f.page.Count(ctx, StudyName.Probes[0])
	if err != nil {
		f.note("could not count studies: %v", err)
	}
	report.Studies = studies
	if studies == 0 {
		f.note("no study data found on the study list")
		return report, nil
	}

	if m := f.page.Find(ctx, StudyName); m.Found() {
		if name, err := f.textOf(ctx, m); err == nil {
			report.FirstStudy = name
		}
	}
	report.Environments = f.tally(ctx, EnvironmentTypes)
	report.Statuses = f.tally(ctx, StatusTypes)
	report.Phases = f.tally(ctx, PhaseTypes)
	report.Sponsors = f.tally(ctx, Sponsors)
	if len(report.Environments) == 0 {
		f.note("no known environment type (%s) on the study list", joinNames(EnvironmentTypes))
	}
	if len(report.Statuses) == 0 {
		f.note("no study status on the study list")
	}

	f.logger.Info("Study list verified.",
		zap.Int("studies", report.Studies),
		zap.String("first_study", report.FirstStudy),
		zap.Any("environments", report.Environments),
	)
	return report, nil
}

// tally counts elements showing each text; zero counts are left out.
func (f *Flow) tally(ctx context.Context, texts []string) map[string]int {
	out := make(map[string]int)
	for _, text := range texts {
		n, err := f.page.Count(ctx, textSet(text).Probes[0])
		if err != nil {
			f.logger.Debug("Count failed.", zap.String("text", text), zap.Error(err))
			continue
		}
		if n > 0 {
			out[text] = n
		}
	}
	return out
}

// OpenFirstStudy clicks the first study link and waits for its dashboard.
// It returns the link text.
func (f *Flow) OpenFirstStudy(ctx context.Context) (string, error) {
	f.WaitStudyList(ctx)

	link := f.await(ctx, StudyLink, f.timing.element)
	if !link.Found() {
		return "", f.fail(ctx, StepOpenStudy, fmt.Errorf("no study link: %w", notFoundError(StudyLink, link)))
	}
	name, err := f.textOf(ctx, link)
	if err != nil {
		f.logger.Debug("Could not read study link text.", zap.Error(err))
	}
	if err := f.page.Click(ctx, link); err != nil {
		return "", f.fail(ctx, StepOpenStudy, err)
	}
	f.logger.Info("Opening study.", zap.String("study", name))

	f.settleNetwork(ctx, StepOpenStudy)
	if err := wait.Sleep(ctx, f.timing.studyLoad); err != nil {
		return name, err
	}
	return name, nil
}

// InspectStudyMenus reports which dashboard menus are visible. Missing
// menus are not failures.
func (f *Flow) InspectStudyMenus(ctx context.Context) MenuReport {
	visible := func(names []string) []string {
		var found []string
		for _, name := range names {
			if f.Visible(ctx, textSet(name)) {
				found = append(found, name)
			}
		}
		return found
	}
	r := MenuReport{
		Dashboard:  visible(DashboardMenus),
		IP:         visible(IPMenus),
		Setup:      visible(SetupMenus),
		Manage:     visible(ManageMenus),
		BackToHome: f.Visible(ctx, BackToHomeLink),
	}
	f.logger.Info("Study menus inspected.",
		zap.Int("dashboard", len(r.Dashboard)),
		zap.Int("ip", len(r.IP)),
		zap.Int("setup", len(r.Setup)),
		zap.Int("manage", len(r.Manage)),
	)
	if len(r.Dashboard) == 0 {
		f.note("no study dashboard menu visible")
	}
	return r
}

// menuStep is one click in the study menu walk. Sub is clicked after the
// menu expands, when it is visible.
type menuStep struct {
	Menu string
	Sub  string
}

var menuWalk = []menuStep{
	{Menu: "Subject"},
	{Menu: "IP Management", Sub: "IP Delivery"},
	{Menu: "Study Setup", Sub: "Randomization Settings"},
	{Menu: "Manage User"},
}

// NavigateMenus clicks through the study menus that are visible and
// returns the entries it opened. A click that fails on a visible entry is a
// hard failure.
func (f *Flow) NavigateMenus(ctx context.Context) ([]string, error) {
	var visited []string
	for _, step := range menuWalk {
		opened, err := f.clickIfVisible(ctx, step.Menu)
		if err != nil {
			return visited, err
		}
		if !opened {
			f.logger.Debug("Menu not visible.", zap.String("menu", step.Menu))
			continue
		}
		visited = append(visited, step.Menu)

		pause := f.timing.menuLoad
		if step.Sub != "" {
			pause = f.timing.menuOpen
		}
		if err := wait.Sleep(ctx, pause); err != nil {
			return visited, err
		}
		if step.Sub == "" {
			continue
		}

		opened, err = f.clickIfVisible(ctx, step.Sub)
		if err != nil {
			return visited, err
		}
		if opened {
			visited = append(visited, step.Sub)
			if err := wait.Sleep(ctx, f.timing.menuLoad); err != nil {
				return visited, err
			}
		}
	}
	f.logger.Info("Study menu navigation complete.", zap.Strings("visited", visited))
	return visited, nil
}

func (f *Flow) clickIfVisible(ctx context.Context, text string) (bool, error) {
	m := f.page.Find(ctx, textSet(text))
	if !m.Found() {
		return false, nil
	}
	if err := f.page.Click(ctx, m); err != nil {
		return false, f.fail(ctx, StepNavigateMenus, fmt.Errorf("menu %q: %w", text, err))
	}
	return true, nil
}

// BackToHome returns from a study dashboard to the study list.
func (f *Flow) BackToHome(ctx context.Context) error {
	link := f.await(ctx, BackToHomeLink, f.timing.element)
	if !link.Found() {
		return f.fail(ctx, StepBackToHome, notFoundError(BackToHomeLink, link))
	}
	if err := f.page.Click(ctx, link); err != nil {
		return f.fail(ctx, StepBackToHome, err)
	}
	f.settleNetwork(ctx, StepBackToHome)
	return f.Require(ctx, StepBackToHome, StudyListSubtitle)
}

// userCounts is what the user-count script reports.
type userCounts struct {
	Text string `json:"text"`
	Rows int    `json:"rows"`
}

const userCountScript = `(() => {
	const rows = Array.from(document.querySelectorAll('table tbody tr, [role="row"]'))
		.filter((row) => (row.textContent || "").trim().length > 0);
	return { text: document.body ? document.body.innerText : "", rows: rows.length };
})()`

// CountUsers opens Manage User on the current study and counts its users:
// "No. <n>" entries when the page numbers them, non-empty rows otherwise.
func (f *Flow) CountUsers(ctx context.Context) (int, error) {
	link := f.await(ctx, ManageUserLink, f.timing.marker)
	if !link.Found() {
		return 0, f.fail(ctx, StepCountUsers, notFoundError(ManageUserLink, link))
	}
	if err := f.page.Click(ctx, link); err != nil {
		return 0, f.fail(ctx, StepCountUsers, err)
	}
	if err := wait.Sleep(ctx, f.timing.menuLoad); err != nil {
		return 0, err
	}

	var counts userCounts
	if err := f.page.Evaluate(ctx, userCountScript, &counts); err != nil {
		return 0, f.fail(ctx, StepCountUsers, fmt.Errorf("reading user table: %w", err))
	}
	n := len(userNumber.FindAllString(counts.Text, -1))
	if n == 0 {
		n = counts.Rows
	}
	f.logger.Info("Users counted.", zap.Int("users", n))
	return n, nil
}
