package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"hashdive-scraper/internal/acquire"
	"hashdive-scraper/internal/msglog"
	"hashdive-scraper/internal/record"
	"hashdive-scraper/internal/runlog"
	"hashdive-scraper/internal/tabular"
	libtelemetry "hashdive-scraper/lib/telemetry"

	"github.com/spf13/cobra"
)

var fetchFlags struct {
	limit       int
	offset      int
	refetch     bool
	csv         string
	output      string
	messages    string
	manual      bool
	delay       time.Duration
	metricsFile string
	noLedger    bool
}

func init() {
	flags := fetchCmd.Flags()
	flags.IntVar(&fetchFlags.limit, "limit", 0, "Process at most this many addresses, 0 means all.")
	flags.IntVar(&fetchFlags.offset, "offset", 0, "Skip this many addresses from the start of the input.")
	flags.BoolVar(&fetchFlags.refetch, "refetch", false, "Fetch addresses that already have a record.")
	flags.StringVar(&fetchFlags.csv, "csv", "", "The input csv, overrides paths.input.")
	flags.StringVar(&fetchFlags.output, "output", "", "The records directory, overrides paths.records.")
	flags.StringVar(&fetchFlags.messages, "logs", "", "The message capture directory, overrides paths.messages.")
	flags.BoolVar(&fetchFlags.manual, "manual", false, "Only use the manual cookies from the config, never read the browser.")
	flags.DurationVar(&fetchFlags.delay, "delay", -1, "Pause between addresses, overrides timing.inter_request_delay.")
	flags.StringVar(&fetchFlags.metricsFile, "metrics-file", "", "Write run metrics here in the prometheus text format.")
	flags.BoolVar(&fetchFlags.noLedger, "no-ledger", false, "Do not record the run in the run ledger.")
	rootCmd.AddCommand(fetchCmd)
}

func override(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// openLedger starts a ledger entry for the run, a ledger that cannot be
// opened only loses the history and does not stop the run.
func openLedger(ctx context.Context, opts acquire.Options) (*runlog.Run, func()) {
	db, err := cfg.Paths.Ledger.OpenDB()
	if err != nil {
		slog.Warn("run ledger unavailable", "err", err)
		return nil, func() {}
	}
	ledger, err := runlog.New(ctx, db, clock)
	if err != nil {
		db.Close()
		slog.Warn("run ledger unavailable", "err", err)
		return nil, func() {}
	}
	run, err := ledger.StartRun(ctx, opts)
	if err != nil {
		db.Close()
		slog.Warn("run ledger unavailable", "err", err)
		return nil, func() {}
	}
	return &run, func() { db.Close() }
}

// closeRun records how a run ended. An interrupted run stays unfinished, a
// failed one is aborted with its error.
func closeRun(ctx context.Context, run *runlog.Run, summary acquire.Summary, runErr error) {
	if run == nil || errors.Is(runErr, context.Canceled) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if runErr != nil {
		err = run.Abort(ctx, summary, runErr)
	} else {
		err = run.Finish(ctx, summary)
	}
	if err != nil {
		slog.Warn("failed to close run ledger entry", "run", run.ID, "err", err)
	}
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [--limit N] [--offset N] [--refetch] [--csv path] [--output dir] [--logs dir] [--manual]",
	Short: "Fetches the analytics of every address in the input csv and writes one record per address.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts := cfg.FetchOptions()
		opts.Limit = fetchFlags.limit
		opts.Offset = fetchFlags.offset
		opts.Refetch = fetchFlags.refetch
		if fetchFlags.delay >= 0 {
			opts.InterRequestDelay = fetchFlags.delay
		}

		input := override(fetchFlags.csv, cfg.Paths.Input)
		rows, err := tabular.ReadCSV(input)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		slog.Info("loaded input", "path", input, "rows", len(rows))

		protoCodec, err := loadCodec()
		if err != nil {
			return fmt.Errorf("failed to load codec: %w", err)
		}

		metrics := acquire.NewMetrics()
		deps := acquire.Deps{
			Store:    record.NewStore(override(fetchFlags.output, cfg.Paths.Records)),
			Sessions: newProvider(fetchFlags.manual),
			Opener:   newDialer(),
			Codec:    protoCodec,
			Schemas:  cfg.Schemas(),
			Request:  cfg.Request,
			Clock:    clock,
			Tel:      tel,
			Progress: acquire.ConsoleProgress{Out: os.Stdout},
			Messages: msglog.NewWriter(override(fetchFlags.messages, cfg.Paths.Messages)),
			Metrics:  metrics,
		}

		var run *runlog.Run
		if !fetchFlags.noLedger {
			var closeLedger func()
			run, closeLedger = openLedger(ctx, opts)
			defer closeLedger()
		}
		if run != nil {
			deps.Journal = run
		}

		perfCtx, stopPerf := context.WithCancel(ctx)
		libtelemetry.InstrumentPerfStats(perfCtx, 30*time.Second)
		defer stopPerf()

		summary, err := acquire.NewPipeline(deps, opts).Run(ctx, rows)
		fmt.Println(summary.Table())
		closeRun(ctx, run, summary, err)

		if fetchFlags.metricsFile != "" {
			metricsErr := metrics.WriteTextfile(fetchFlags.metricsFile)
			if metricsErr != nil {
				slog.Warn("failed to write metrics", "path", fetchFlags.metricsFile, "err", metricsErr)
			}
		}

		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled):
			slog.Warn("run interrupted", "processed", summary.Processed(), "total", summary.Total)
			return nil
		default:
			return fmt.Errorf("run aborted: %w", err)
		}
	},
}
