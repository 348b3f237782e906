package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/config"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/tracker"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		since     string
		sessionID string
		limit     int
		summary   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled cost records",
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

			ctx := context.Background()
			if summary {
				rows, err := j.Summary(ctx, sinceTime)
				if err != nil {
					return err
				}
				return writeJournalSummary(os.Stdout, rows)
			}

			recs, err := j.Query(ctx, sinceTime, sessionID, limit)
			if err != nil {
				return err
			}
			return writeRecords(os.Stdout, recs)
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD) or age such as 24h (default: start of month)")
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session ID")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records to show (0 for all)")
	cmd.Flags().BoolVar(&summary, "summary", false, "group spend by session and model")

	cmd.AddCommand(newHistoryPruneCmd(g))
	return cmd
}

func newHistoryPruneCmd(g *globalFlags) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journaled records older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			retention := cfg.Journal.Retention
			if olderThan > 0 {
				retention = olderThan
			}
			if retention <= 0 {
				return errors.New("no retention window: set journal.retention or pass --older-than")
			}

			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			n, err := j.Prune(context.Background(), time.Now().Add(-retention))
			if err != nil {
				return err
			}
			logger.Debug("journal pruned", slog.Duration("retention", retention), slog.Int64("removed", n))
			fmt.Printf("Removed %d record(s) older than %s.\n", n, retention)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override journal.retention")
	return cmd
}

// openJournal opens the configured journal. History commands read the
// database even when live journaling is switched off.
func openJournal(cfg *config.Config) (*tracker.SQLiteJournal, error) {
	if cfg.Journal.DBPath == "" {
		return nil, errors.New("journal.db_path is not set")
	}
	if _, err := os.Stat(cfg.Journal.DBPath); err != nil {
		return nil, fmt.Errorf("journal %s: %w", cfg.Journal.DBPath, err)
	}
	return tracker.OpenJournal(cfg.Journal.DBPath)
}

// parseSince accepts a YYYY-MM-DD date or a duration measured back from
// now. Empty means the start of the current month.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q (use YYYY-MM-DD or a duration like 24h)", s)
}

func writeRecords(out io.Writer, recs []models.CostRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(out, "No cost records found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSESSION\tMODEL\tINPUT\tOUTPUT\tCOST")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t$%.4f\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.SessionID, r.Model,
			r.InputTokens, r.OutputTokens, r.CostUSD)
	}
	return w.Flush()
}

func writeJournalSummary(out io.Writer, rows []models.JournalSummary) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "No cost records found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMODEL\tQUERIES\tINPUT\tOUTPUT\tCOST\tLAST SEEN")
	var total float64
	for _, s := range rows {
		total += s.CostUSD
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t$%.4f\t%s\n",
			s.SessionID, s.Model, s.Queries, s.InputTokens, s.OutputTokens, s.CostUSD,
			s.LastSeen.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "TOTAL\t\t\t\t\t$%.4f\t\n", total)
	return w.Flush()
}
