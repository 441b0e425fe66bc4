// internal/rtsm/errors.go
package rtsm

import (
	"errors"
	"fmt"
)

// ErrHardFailure marks an error that ends a flow. Every StepError matches it
// through errors.Is, so callers can tell a terminal step from a context
// cancellation or a precondition error.
var ErrHardFailure = errors.New("hard failure")

// Step names used in StepError and in diagnostics file names.
const (
	StepOpen          = "open"
	StepLoginPage     = "login_page"
	StepDeviceKey     = "device_key"
	StepLogin         = "login"
	StepVerifyLogin   = "verify_login"
	StepDashboard     = "dashboard"
	StepOpenStudy     = "open_study"
	StepNavigateMenus = "navigate_menus"
	StepBackToHome    = "back_to_home"
	StepCountUsers    = "count_users"
	StepLogout        = "logout"
	StepRequire       = "require"
)

// StepError is a hard failure of one flow step. Artifacts lists the
// diagnostics captured before the error was returned.
type StepError struct {
	Step      string
	Err       error
	Artifacts []string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is makes every StepError match ErrHardFailure.
func (e *StepError) Is(target error) bool { return target == ErrHardFailure }

// ArtifactsOf returns the diagnostics attached to err, if any.
func ArtifactsOf(err error) []string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Artifacts
	}
	return nil
}
