// ./main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/rtsm-probe/cmd"
	"github.com/xkilldash9x/rtsm-probe/internal/observability"
)

// Exit codes.
const (
	exitFailed      = 1
	exitInterrupted = 130
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	defer handlePanic()

	// Ctrl+C cancels the run; scenarios still in flight are closed and reported.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		osExit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return exitFailed
}

// handlePanic flushes the logs and prints the stack before exiting.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()
		fmt.Fprintf(os.Stderr, "panic: %v\n\n%s\n", r, debug.Stack())
		osExit(2)
	}
}
