package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/ratelimit"
)

func newTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List the rate limit tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tTOKENS/MIN\tREQUESTS/MIN")
			for _, t := range ratelimit.Tiers() {
				fmt.Fprintf(w, "%s\t%d\t%d\n", t.Name, t.TokensPerMinute, t.RequestsPerMinute)
			}
			return w.Flush()
		},
	}
}
