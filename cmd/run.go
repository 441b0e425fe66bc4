// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/browser"
	"github.com/xkilldash9x/rtsm-probe/internal/config"
	"github.com/xkilldash9x/rtsm-probe/internal/observability"
	"github.com/xkilldash9x/rtsm-probe/internal/reporting"
	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

// ErrScenariosFailed is returned by run when at least one scenario failed.
var ErrScenariosFailed = errors.New("one or more scenarios failed")

const shutdownTimeout = 15 * time.Second

// browserProvider starts the browser that hands out scenario sessions.
type browserProvider interface {
	// Create returns a session factory and a cleanup function that stops the browser.
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (browser.SessionFactory, func(), error)
}

type defaultBrowserProvider struct{}

// NewBrowserProvider returns the provider that launches a local Chrome.
func NewBrowserProvider() browserProvider {
	return &defaultBrowserProvider{}
}

func (p *defaultBrowserProvider) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (browser.SessionFactory, func(), error) {
	manager, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(sctx); err != nil {
			logger.Warn("Browser shutdown failed.", zap.Error(err))
		}
	}
	return manager, cleanup, nil
}

type runOptions struct {
	scenarios []string
}

func newRunCmd(deps dependencies) *cobra.Command {
	opts := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the RTSM scenarios against the configured environment",
		Long: `Runs the selected scenarios (all by default), each in a fresh browser
session, writes the report and exits non-zero when any scenario failed.

Credentials come from TEST_EMAIL, TEST_PASSWORD and TEST_DEVICE_KEY, either in
the environment or in the dotenv file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runSuite(ctx, cmd.ErrOrStderr(), observability.GetLogger(), cfg, opts, deps)
		},
	}

	runCmd.Flags().StringSliceVarP(&opts.scenarios, "scenario", "s", nil, "scenario to run, repeatable (default all; see 'rtsm-probe scenarios')")
	runCmd.Flags().String("base-url", "", "application base URL (overrides TEST_BASE_URL)")
	runCmd.Flags().IntP("workers", "j", 1, "scenarios run in parallel")
	runCmd.Flags().Int("retries", 0, "extra attempts for a failing scenario")
	runCmd.Flags().String("artifacts-dir", "", "directory for failure screenshots and page dumps")
	runCmd.Flags().StringP("format", "f", "json", "report format (json, junit, sarif)")
	runCmd.Flags().StringP("output", "o", "", "report path; stdout when empty or '-'")
	runCmd.Flags().Bool("headless", true, "run Chrome without a window")
	runCmd.Flags().Duration("slow-mo", 0, "minimum delay between browser actions")
	return runCmd
}

// runSuite holds the testable core of the run command.
func runSuite(ctx context.Context, out io.Writer, logger *zap.Logger, cfg *config.Config, opts *runOptions, deps dependencies) error {
	// Fail before a browser is launched when credentials are missing.
	if err := cfg.ValidateTarget(); err != nil {
		return err
	}
	if _, err := suite.Select(opts.scenarios); err != nil {
		return err
	}

	sessions, cleanup, err := deps.browsers.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	report, err := suite.NewRunner(sessions, cfg, logger).Run(ctx, opts.scenarios)
	if err != nil {
		return err
	}

	if err := writeReport(report, cfg.Report.Format, cfg.Report.Output, logger); err != nil {
		return err
	}
	if cfg.Database.URL != "" {
		if err := saveReport(ctx, cfg, deps.stores, report, logger); err != nil {
			return err
		}
	}
	printSummary(out, report)

	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	if !report.Passed() {
		return fmt.Errorf("%w: %d of %d", ErrScenariosFailed, report.Count(suite.StatusFailed), len(report.Results))
	}
	return nil
}

func writeReport(report *suite.Report, format, outputPath string, logger *zap.Logger) error {
	reporter, err := reporting.New(format, outputPath, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(report); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	if !reporting.IsStdout(outputPath) {
		logger.Info("Report written.", zap.String("path", outputPath), zap.String("format", format))
	}
	return nil
}

func saveReport(ctx context.Context, cfg *config.Config, stores storeProvider, report *suite.Report, logger *zap.Logger) error {
	// An interrupted run is still worth keeping.
	ctx = context.WithoutCancel(ctx)
	st, cleanup, err := stores.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	if err := st.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	logger.Info("Report saved to database.", zap.String("run_id", report.RunID))
	return nil
}

func printSummary(out io.Writer, report *suite.Report) {
	fmt.Fprintln(out)
	for _, res := range report.Results {
		label := "PASS"
		switch res.Status {
		case suite.StatusFailed:
			label = "FAIL"
		case suite.StatusSkipped:
			label = "SKIP"
		}
		fmt.Fprintf(out, "%s  %-28s %8s", label, res.Scenario, res.Duration.Round(time.Millisecond))
		if res.Attempts > 1 {
			fmt.Fprintf(out, "  (%d attempts)", res.Attempts)
		}
		fmt.Fprintln(out)
		if res.Error != "" {
			fmt.Fprintf(out, "      %s\n", res.Error)
		}
		for _, n := range res.Notes {
			fmt.Fprintf(out, "      note: %s\n", n)
		}
	}
	fmt.Fprintf(out, "\nRun %s: %d passed, %d failed, %d skipped in %s\n",
		report.RunID,
		report.Count(suite.StatusPassed),
		report.Count(suite.StatusFailed),
		report.Count(suite.StatusSkipped),
		report.Duration().Round(time.Millisecond),
	)
}
