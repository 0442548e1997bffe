package commands

import (
	"fmt"
	"time"

	"hashdive-scraper/internal/runlog"
	"hashdive-scraper/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyFlags struct {
	limit      int
	identifier string
}

func init() {
	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "How many runs and attempts to show.")
	historyCmd.Flags().StringVar(&historyFlags.identifier, "identifier", "", "Show every attempt for one address instead.")
	rootCmd.AddCommand(historyCmd)
}

func attemptTable(attempts []runlog.AttemptRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"run", "#", "address", "outcome", "messages", "stop", "took", "error"})
	for _, a := range attempts {
		t.AppendRow(table.Row{
			a.RunID, a.Index, a.Identifier, a.Outcome, a.Messages, a.StopReason,
			a.Duration.Round(time.Millisecond), a.Error,
		})
	}
	return t.Render()
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit N] [--identifier address]",
	Short: "Shows recent fetch runs and attempts from the run ledger.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		db, err := cfg.Paths.Ledger.OpenDB()
		if err != nil {
			serviceutil.Fatal("failed to open run ledger", err)
		}
		defer db.Close()
		ledger, err := runlog.New(ctx, db, clock)
		if err != nil {
			serviceutil.Fatal("failed to open run ledger", err)
		}

		if historyFlags.identifier != "" {
			attempts, err := ledger.History(ctx, historyFlags.identifier)
			if err != nil {
				serviceutil.Fatal("failed to read history", err)
			}
			fmt.Println(attemptTable(attempts))
			return
		}

		runs, err := ledger.Runs(ctx, historyFlags.limit)
		if err != nil {
			serviceutil.Fatal("failed to read runs", err)
		}
		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"run", "started", "took", "total", "skipped", "success", "empty", "timeout", "error", "aborted"})
		for _, r := range runs {
			took := "interrupted"
			if r.Finished {
				took = r.Summary.Elapsed.Round(time.Second).String()
			}
			s := r.Summary
			t.AppendRow(table.Row{
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), took,
				s.Total, s.Skipped, s.Success, s.Empty, s.TimedOut, s.Errored, r.Error,
			})
		}
		fmt.Println(t.Render())

		attempts, err := ledger.LatestAttempts(ctx, historyFlags.limit)
		if err != nil {
			serviceutil.Fatal("failed to read attempts", err)
		}
		fmt.Println(attemptTable(attempts))
	},
}
