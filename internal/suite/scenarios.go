// Package suite holds the RTSM scenario catalogue and the runner that
// executes scenarios in isolated browser sessions.
package suite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/rtsm-probe/internal/rtsm"
)

// Scenario is one end-to-end check. Run drives a fresh flow and returns a
// hard failure or nil; soft failures end up in the flow's notes.
type Scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context, f *rtsm.Flow) error
}

var catalogue = []Scenario{
	{
		Name:        "page-access",
		Description: "Open the application and check the login form.",
		Run: func(ctx context.Context, f *rtsm.Flow) error {
			if err := f.Open(ctx); err != nil {
				return err
			}
			return f.VerifyLoginPage(ctx)
		},
	},
	{
		Name:        "login-without-device-key",
		Description: "Log in without a device key and reach the verification-code step.",
		Run: func(ctx context.Context, f *rtsm.Flow) error {
			if err := f.Open(ctx); err != nil {
				return err
			}
			if _, err := f.Login(ctx); err != nil {
				return err
			}
			_, err := f.AwaitVerificationStep(ctx)
			return err
		},
	},
	{
		Name:        "login-logout",
		Description: "Log in with the device key, verify the study list, then log out.",
		Run: func(ctx context.Context, f *rtsm.Flow) error {
			if err := f.SignIn(ctx); err != nil {
				return err
			}
			if _, err := f.VerifyDashboard(ctx); err != nil {
				return err
			}
			return f.Logout(ctx)
		},
	},
	{
		Name:        "dashboard",
		Description: "Log in and check the study list, version label and home menu.",
		Run: func(ctx context.Context, f *rtsm.Flow) error {
			if err := f.SignIn(ctx); err != nil {
				return err
			}
			if _, err := f.VerifyDashboard(ctx); err != nil {
				return err
			}
			if err := f.Require(ctx, rtsm.StepRequire, rtsm.VersionLabel); err != nil {
				return err
			}
			if err := f.Require(ctx, rtsm.StepRequire, rtsm.HomeMenu); err != nil {
				return err
			}
			if f.Visible(ctx, rtsm.Pagination) {
				f.Logger().Info("Pagination shown.")
			}
			return nil
		},
	},
	{
		Name:        "study-list",
		Description: "Log in and check study rows, status badges and the Ongoing/Closed tabs.",
		Run: func(ctx context.Context, f *rtsm.Flow) error {
			if err := f.SignIn(ctx); err != nil {
				return err
			}
			if _, err := f.VerifyDashboard(ctx); err != nil {
				return err
			}
			if err := f.Require(ctx, rtsm.StepRequire, rtsm.UnlockedBadge); err != nil {
				return err
			}
			if err := f.Require(ctx, rtsm.StepRequire, rtsm.OngoingTab); err != nil {
				return err
			}
			return f.Require(ctx, rtsm.StepRequire, rtsm.ClosedTab)
		},
	},
	{
		Name:        "study-dashboard-navigation",
		Description: "Open the first study, inspect its menus and return home.",
		Run: func(ctx context.Context, f *rtsm.Flow) error {
			if err := f.SignIn(ctx); err != nil {
				return err
			}
			f.DismissReleaseNotes(ctx)
			if _, err := f.OpenFirstStudy(ctx); err != nil {
				return err
			}
			f.InspectStudyMenus(ctx)
			return f.BackToHome(ctx)
		},
	},
	{
		Name:        "study-menu-navigation",
		Description: "Open the first study and click through its menus.",
		Run: func(ctx context.Context, f *rtsm.Flow) error {
			if err := f.SignIn(ctx); err != nil {
				return err
			}
			if _, err := f.OpenFirstStudy(ctx); err != nil {
				return err
			}
			_, err := f.NavigateMenus(ctx)
			return err
		},
	},
	{
		Name:        "manage-user-count",
		Description: "Open the first study and count the users under Manage User.",
		Run: func(ctx context.Context, f *rtsm.Flow) error {
			if err := f.SignIn(ctx); err != nil {
				return err
			}
			if _, err := f.OpenFirstStudy(ctx); err != nil {
				return err
			}
			_, err := f.CountUsers(ctx)
			return err
		},
	},
}

// Catalogue returns every scenario in definition order.
func Catalogue() []Scenario {
	return append([]Scenario(nil), catalogue...)
}

// Names returns the scenario names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for _, sc := range catalogue {
		names = append(names, sc.Name)
	}
	sort.Strings(names)
	return names
}

// Select resolves names against the catalogue, keeping catalogue order and
// dropping duplicates. No names selects everything.
func Select(names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return Catalogue(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}

	var out []Scenario
	for _, sc := range catalogue {
		if want[sc.Name] {
			out = append(out, sc)
			delete(want, sc.Name)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown scenario(s): %s (available: %s)", strings.Join(unknown, ", "), strings.Join(Names(), ", "))
	}
	return out, nil
}
