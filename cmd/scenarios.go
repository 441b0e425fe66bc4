// File: cmd/scenarios.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the available scenarios",
		Args:  cobra.NoArgs,
		// Listing needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, sc := range suite.Catalogue() {
				fmt.Fprintf(tw, "%s\t%s\n", sc.Name, sc.Description)
			}
			return tw.Flush()
		},
	}
}
