package commands

import (
	"errors"
	"fmt"
	"os"

	"hashdive-scraper/internal/cleanup"
	"hashdive-scraper/internal/msglog"
	"hashdive-scraper/internal/record"
	"hashdive-scraper/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Removes records without trader types and old log files.",
}

var usersFlags struct {
	usersDir string
	logsDir  string
	dryRun   bool
	list     bool
	force    bool
}

var logsFlags struct {
	logDir    string
	list      bool
	maxAge    int
	maxSizeMB float64
	dryRun    bool
}

func init() {
	flags := cleanupUsersCmd.Flags()
	flags.StringVar(&usersFlags.usersDir, "users-dir", "", "The records directory, overrides paths.records.")
	flags.StringVar(&usersFlags.logsDir, "logs-dir", "", "The message capture directory, overrides paths.messages.")
	flags.BoolVar(&usersFlags.dryRun, "dry-run", false, "Show what would be deleted without deleting anything.")
	flags.BoolVar(&usersFlags.list, "list", false, "Only list the records that have no trader types.")
	flags.BoolVar(&usersFlags.force, "force", false, "Delete without asking for confirmation.")

	flags = cleanupLogsCmd.Flags()
	flags.StringVar(&logsFlags.logDir, "log-dir", "", "The log directory, overrides paths.logs.")
	flags.BoolVar(&logsFlags.list, "list", false, "Only list the log files.")
	flags.IntVar(&logsFlags.maxAge, "max-age", 0, "Delete log files older than this many days.")
	flags.Float64Var(&logsFlags.maxSizeMB, "max-size", 0, "Delete log files larger than this many MB.")
	flags.BoolVar(&logsFlags.dryRun, "dry-run", false, "Show what would be deleted without deleting anything.")

	cleanupCmd.AddCommand(cleanupUsersCmd, cleanupLogsCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func candidateTable(plan cleanup.Plan) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"address", "record", "captured messages"})
	for _, c := range plan.Candidates {
		logs := "-"
		if c.HasLogs {
			logs = fmt.Sprint(c.LogFiles)
		}
		t.AppendRow(table.Row{c.Identifier, c.RecordPath, logs})
	}
	t.AppendFooter(table.Row{"total", len(plan.Candidates), ""})
	return t.Render()
}

var cleanupUsersCmd = &cobra.Command{
	Use:   "users [--users-dir dir] [--logs-dir dir] [--dry-run] [--list] [--force]",
	Short: "Deletes records whose trader type list is empty, along with their message captures.",
	Run: func(cmd *cobra.Command, args []string) {
		store := record.NewStore(override(usersFlags.usersDir, cfg.Paths.Records))
		logs := msglog.NewWriter(override(usersFlags.logsDir, cfg.Paths.Messages))
		cleaner := cleanup.NewCleaner(store, logs, tel)

		plan, err := cleaner.Scan()
		if err != nil {
			serviceutil.Fatal("failed to scan records", err)
		}
		fmt.Printf("scanned %d records, %d without trader types, %d unreadable\n",
			plan.Scanned, len(plan.Candidates), len(plan.Unreadable))

		if usersFlags.list {
			fmt.Println(candidateTable(plan))
			return
		}
		if len(plan.Candidates) == 0 {
			fmt.Println("nothing to delete")
			return
		}

		var confirm cleanup.Confirmer = cleanup.NewPromptConfirmer(os.Stdin, os.Stdout)
		if usersFlags.force {
			confirm = cleanup.AlwaysConfirm{}
		}
		report, err := cleaner.Execute(plan, cleanup.Options{
			DryRun:  usersFlags.dryRun,
			Confirm: confirm,
		})
		if errors.Is(err, cleanup.ErrCancelled) {
			fmt.Println("cancelled, nothing was deleted")
			return
		}
		if err != nil {
			serviceutil.Fatal("cleanup failed", err)
		}

		if report.DryRun {
			fmt.Println(candidateTable(plan))
			fmt.Printf("dry run: %d to delete, %d deleted\n", report.ToDelete, report.DeletedRecords)
			return
		}
		fmt.Printf(
			"deleted %d records and %d capture directories, %d record and %d capture failures\n",
			report.DeletedRecords, report.DeletedLogs, report.FailedRecords, report.FailedLogs,
		)
	},
}

var cleanupLogsCmd = &cobra.Command{
	Use:   "logs [--log-dir dir] [--list] [--max-age days] [--max-size MB] [--dry-run]",
	Short: "Deletes *.log files by age or size.",
	Run: func(cmd *cobra.Command, args []string) {
		dir := override(logsFlags.logDir, cfg.Paths.Logs)
		files, err := cleanup.ListLogFiles(dir)
		if err != nil {
			serviceutil.Fatal("failed to list log files", err)
		}

		now := clock.Now()
		if logsFlags.list {
			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"file", "size (MB)", "age (days)", "modified"})
			var total float64
			for _, f := range files {
				total += f.SizeMB()
				t.AppendRow(table.Row{
					f.Name,
					fmt.Sprintf("%.2f", f.SizeMB()),
					f.AgeDays(now),
					f.ModTime.Format("2006-01-02 15:04:05"),
				})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("%d files", len(files)), fmt.Sprintf("%.2f", total), "", ""})
			fmt.Println(t.Render())
			return
		}

		criteria := cleanup.Criteria{MaxAgeDays: logsFlags.maxAge, MaxSizeMB: logsFlags.maxSizeMB}
		if criteria.Empty() {
			serviceutil.Fatal("nothing to do", errors.New("specify --max-age, --max-size or --list"))
		}

		selected := cleanup.SelectLogFiles(files, criteria, now)
		for _, s := range selected {
			fmt.Printf("%s: %s\n", s.File.Name, s.Reason)
		}
		report := cleanup.DeleteLogFiles(selected, logsFlags.dryRun)
		verb := "deleted"
		if report.DryRun {
			verb = "would delete"
		}
		fmt.Printf("%s %d files, %.2f MB, %d failures\n", verb, report.Deleted, report.FreedMB, report.Failed)
	},
}
