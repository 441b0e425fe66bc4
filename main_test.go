package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/rtsm-probe/cmd"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitFailed, exitCode(cmd.ErrScenariosFailed))
	assert.Equal(t, exitFailed, exitCode(errors.New("boom")))
	assert.Equal(t, exitInterrupted, exitCode(fmt.Errorf("run interrupted: %w", context.Canceled)))
}

func TestHandlePanic(t *testing.T) {
	var code int
	orig := osExit
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = orig })

	func() {
		defer handlePanic()
		panic("boom")
	}()
	assert.Equal(t, 2, code)
}
