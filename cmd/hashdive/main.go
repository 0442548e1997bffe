package main

import (
	"context"
	"log/slog"
	"os"

	"hashdive-scraper/cmd/hashdive/commands"
	"hashdive-scraper/lib/serviceutil"
	"hashdive-scraper/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	otel, err := telemetry.SetupFromEnv(ctx, "hashdive")
	if err != nil {
		slog.Debug("telemetry disabled", "err", err)
	}

	err = commands.ExecuteContext(ctx)
	otel.Shutdown(context.Background())
	if err != nil {
		os.Exit(1)
	}
}
