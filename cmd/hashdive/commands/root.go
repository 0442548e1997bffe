package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"hashdive-scraper/lib/configutil"
	libtelemetry "hashdive-scraper/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	cfg        Config
)

var rootCmd = &cobra.Command{
	Use:   "hashdive",
	Short: "hashdive collects trader analytics from hashdive.com one address at a time.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		libtelemetry.InitSlog(verbose)

		loaded, err := configutil.ReadWithDefaults(configPath, DefaultConfig())
		if err != nil {
			return fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}
		cfg = loaded

		request, err := cfg.Request.WithZoneOffset(clock.Now())
		if err != nil {
			slog.Warn("keeping the configured timezone offset", "err", err)
		}
		cfg.Request = request
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "hashdive.json5", "The config file, a .local variant next to it is merged over it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output.")
}

// ExecuteContext runs the command line and prints any error it returns, the
// caller decides the exit code.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return err
}
