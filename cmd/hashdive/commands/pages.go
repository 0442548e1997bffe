package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"hashdive-scraper/internal/leaderboard"

	"github.com/spf13/cobra"
)

var pagesFlags struct {
	dir         string
	output      string
	maxPages    int
	manual      bool
	combineOnly bool
}

func init() {
	flags := pagesCmd.Flags()
	flags.StringVar(&pagesFlags.dir, "pages-dir", "", "Where page_N.csv files go, overrides paths.pages.")
	flags.StringVar(&pagesFlags.output, "output", "", "The combined csv, overrides paths.input.")
	flags.IntVar(&pagesFlags.maxPages, "max-pages", -1, "Fetch at most this many pages, overrides leaderboard.max_pages.")
	flags.BoolVar(&pagesFlags.manual, "manual", false, "Only use the manual cookies from the config, never read the browser.")
	flags.BoolVar(&pagesFlags.combineOnly, "combine-only", false, "Skip fetching and only combine the page files already on disk.")
	rootCmd.AddCommand(pagesCmd)
}

var pagesCmd = &cobra.Command{
	Use:   "pages [--pages-dir dir] [--output file] [--max-pages N] [--manual] [--combine-only]",
	Short: "Pages through the trader explorer and combines the pages into the input csv of fetch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir := override(pagesFlags.dir, cfg.Paths.Pages)
		output := override(pagesFlags.output, cfg.Paths.Input)

		if !pagesFlags.combineOnly {
			opts := cfg.LeaderboardOptions()
			if pagesFlags.maxPages >= 0 {
				opts.MaxPages = pagesFlags.maxPages
			}

			creds, err := newProvider(pagesFlags.manual).Resolve(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve credentials: %w", err)
			}
			protoCodec, err := loadCodec()
			if err != nil {
				return fmt.Errorf("failed to load codec: %w", err)
			}

			fetcher := leaderboard.Fetcher{
				Opener:  newDialer(),
				Codec:   protoCodec,
				Schemas: cfg.Schemas(),
				Request: cfg.Request,
				Query:   cfg.Leaderboard.Query,
				Clock:   clock,
				Tel:     tel,
			}
			report, err := fetcher.Fetch(ctx, creds, opts, func(page int, table leaderboard.Table) error {
				slog.Info("page fetched", "page", page, "rows", len(table.Rows))
				return leaderboard.WritePage(dir, page, table)
			})
			if len(report.Missing) > 0 {
				slog.Warn("pages without a table", "pages", report.Missing)
			}
			if err != nil && !errors.Is(err, leaderboard.ErrNoPageCount) {
				return fmt.Errorf("fetching pages failed after %d pages: %w", len(report.Fetched), err)
			}
			if err != nil {
				slog.Warn("only the first page was fetched", "err", err)
			}
			fmt.Printf("fetched %d of %d pages, %d traders, into %s\n", len(report.Fetched), report.Pages, report.Rows, dir)
		}

		written, err := leaderboard.Combine(dir, output)
		if err != nil {
			return fmt.Errorf("failed to combine pages: %w", err)
		}
		fmt.Printf("combined %d traders into %s\n", written, output)
		return nil
	},
}
