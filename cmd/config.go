// File: cmd/config.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check that the configuration is complete enough to run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			// Value checks already ran while loading; what remains is the target.
			if err := cfg.ValidateTarget(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration OK\n")
			fmt.Fprintf(out, "  base url:  %s\n", cfg.Target.BaseURL)
			fmt.Fprintf(out, "  account:   %s\n", cfg.Target.Email)
			fmt.Fprintf(out, "  workers:   %d\n", cfg.Suite.Workers)
			fmt.Fprintf(out, "  report:    %s\n", cfg.Report.Format)
			if cfg.Database.URL != "" {
				fmt.Fprintf(out, "  database:  enabled\n")
			}
			return nil
		},
	})
	return configCmd
}
