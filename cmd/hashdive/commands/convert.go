package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"hashdive-scraper/internal/convert"
	"hashdive-scraper/internal/record"
	"hashdive-scraper/lib/serviceutil"

	"github.com/spf13/cobra"
)

var convertFlags struct {
	usersDir string
	out      string
}

var statsFlags struct {
	usersDir string
}

func init() {
	convertCmd.Flags().StringVar(&convertFlags.usersDir, "users-dir", "", "The records directory, overrides paths.records.")
	convertCmd.Flags().StringVar(&convertFlags.out, "out", "data/users_data.csv", "The csv file to write.")
	statsCmd.Flags().StringVar(&statsFlags.usersDir, "users-dir", "", "The records directory, overrides paths.records.")
	rootCmd.AddCommand(convertCmd, statsCmd)
}

var convertCmd = &cobra.Command{
	Use:   "convert [--users-dir dir] [--out file]",
	Short: "Flattens every record into one csv row.",
	Run: func(cmd *cobra.Command, args []string) {
		store := record.NewStore(override(convertFlags.usersDir, cfg.Paths.Records))

		err := os.MkdirAll(filepath.Dir(convertFlags.out), 0755)
		if err != nil {
			serviceutil.Fatal("failed to create output directory", err)
		}
		f, err := os.Create(convertFlags.out)
		if err != nil {
			serviceutil.Fatal("failed to create output", err)
		}
		defer f.Close()

		report, err := convert.WriteStore(f, store, tel)
		if err != nil {
			serviceutil.Fatal("conversion failed", err)
		}
		if len(report.Failed) > 0 {
			slog.Warn("some records could not be read", "count", len(report.Failed))
		}
		fmt.Printf("converted %d records to %s\n", report.Converted, convertFlags.out)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [--users-dir dir]",
	Short: "Counts null, zero and empty values per field across all records.",
	Run: func(cmd *cobra.Command, args []string) {
		store := record.NewStore(override(statsFlags.usersDir, cfg.Paths.Records))
		stats, err := convert.Collect(store, tel)
		if err != nil {
			serviceutil.Fatal("failed to read records", err)
		}
		fmt.Printf("%d records, %d unreadable\n", stats.Records, stats.Unreadable)
		fmt.Println(stats.FieldTable())
		fmt.Println(stats.CategoryTable())
	},
}
