package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/budget"
)

func newBudgetCmd(g *globalFlags) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show journaled spend against the configured limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			sinceTime, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}

			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			spent, err := j.TotalSince(context.Background(), sinceTime)
			if err != nil {
				return err
			}

			e := budget.New(cfg.Cost.LimitUSD, cfg.Cost.EnforceLimit)
			s := e.Status(spent)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SINCE\tLIMIT\tSPENT\tREMAINING\tUSED\tENFORCED\tLEVEL")
			fmt.Fprintf(w, "%s\t$%.2f\t$%.4f\t$%.4f\t%d%%\t%t\t%s\n",
				sinceTime.Format("2006-01-02"), s.LimitUSD, s.SpentUSD, s.RemainingUSD,
				s.UsedPercent, s.Enforced, s.Level)
			if err := w.Flush(); err != nil {
				return err
			}
			if msg := e.Warning(spent); msg != "" {
				fmt.Println(msg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD) or age such as 24h (default: start of month)")
	return cmd
}
