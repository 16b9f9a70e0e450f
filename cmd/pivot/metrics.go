package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/couchcryptid/owid-pivot/internal/domain"
	"github.com/spf13/cobra"
)

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "List the metrics that can be pivoted",
		Args:  cobra.NoArgs,
		// The catalog needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCOLUMN\tFILE")
			for _, m := range domain.Metrics() {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", m.Name, m.Column, m.File)
			}
			return tw.Flush()
		},
	}
}
