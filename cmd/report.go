// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/config"
	"github.com/xkilldash9x/rtsm-probe/internal/observability"
	"github.com/xkilldash9x/rtsm-probe/internal/store"
	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

// reportStore is the part of store.Store the commands use.
type reportStore interface {
	SaveReport(ctx context.Context, report *suite.Report) error
	ResultsByRunID(ctx context.Context, runID string) ([]suite.Result, error)
}

// storeProvider opens the results database. Tests inject a fake.
type storeProvider interface {
	// Create returns the store and a cleanup function that closes the pool.
	Create(ctx context.Context, cfg *config.Config) (reportStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider backed by PostgreSQL.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to PostgreSQL, applies the schema and returns the store
// with a cleanup function that closes the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (reportStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (RTSM_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return st, cleanup, nil
}

// newResultsCmd creates the `results` command.
func newResultsCmd(provider storeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "results <run-id>",
		Short: "Show the stored results of a previous run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runResults(ctx, cmd.OutOrStdout(), observability.GetLogger(), cfg, args[0], provider)
		},
	}
}

func runResults(ctx context.Context, out io.Writer, logger *zap.Logger, cfg *config.Config, runID string, provider storeProvider) error {
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	results, err := st.ResultsByRunID(ctx, runID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no results stored for run %s", runID)
	}
	logger.Debug("Loaded stored results.", zap.String("run_id", runID), zap.Int("count", len(results)))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tSTATUS\tATTEMPTS\tDURATION\tERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Scenario, r.Status, r.Attempts, r.Duration.Round(time.Millisecond), r.Error)
	}
	return tw.Flush()
}
