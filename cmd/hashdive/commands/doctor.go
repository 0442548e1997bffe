package commands

import (
	"fmt"
	"time"

	"hashdive-scraper/internal/probe"
	"hashdive-scraper/internal/session"
	"hashdive-scraper/lib/restyutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var doctorFlags struct {
	manual     bool
	identifier string
	skipStream bool
	dump       string
}

func init() {
	flags := doctorCmd.Flags()
	flags.BoolVar(&doctorFlags.manual, "manual", false, "Only use the manual cookies from the config, never read the browser.")
	flags.StringVar(&doctorFlags.identifier, "identifier", probe.DefaultIdentifier, "The address to request when probing the stream.")
	flags.BoolVar(&doctorFlags.skipStream, "skip-stream", false, "Do not open a stream.")
	flags.StringVar(&doctorFlags.dump, "dump", "", "Write the full http exchanges into this directory.")
	rootCmd.AddCommand(doctorCmd)
}

func tokenTable(reports []session.TokenReport) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"cookie", "status", "source", "length", "issued", "age"})
	for _, r := range reports {
		issued := "-"
		age := "-"
		if !r.IssuedAt.IsZero() {
			issued = r.IssuedAt.Format(time.RFC3339)
			age = r.Age.Round(time.Minute).String()
		}
		t.AppendRow(table.Row{r.Name, r.Status, r.Source, r.Length, issued, age})
	}
	return t.Render()
}

var doctorCmd = &cobra.Command{
	Use:   "doctor [--manual] [--identifier address] [--skip-stream] [--dump dir]",
	Short: "Checks the cookies, that the site answers and that a stream produces frames.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		healthy := true

		fmt.Println("cookies")
		creds, missing, storeErr := newProvider(doctorFlags.manual).Lookup(ctx)
		if storeErr != nil {
			fmt.Printf("  cookie store: %v\n", storeErr)
		}
		reports := session.Inspect(creds, cfg.Cookies.Names, clock.Now())
		fmt.Println(tokenTable(reports))
		for _, r := range reports {
			if !r.Status.Healthy() {
				healthy = false
			}
		}
		if len(missing) > 0 {
			fmt.Printf("  missing: %v, visit %s in chrome and refresh\n", missing, cfg.Endpoint.Origin)
			healthy = false
		}

		fmt.Println("http")
		checker := probe.NewHTTPChecker(cfg.Endpoint.UserAgent, 15*time.Second, tel)
		if doctorFlags.dump != "" {
			output, err := restyutil.NewFilesystemOutput(doctorFlags.dump)
			if err != nil {
				fmt.Printf("  cannot dump exchanges: %v\n", err)
			} else {
				checker.DumpTo(output)
			}
		}
		result := checker.Check(ctx, cfg.Endpoint.Origin)
		switch {
		case result.Err != nil:
			fmt.Printf("  %s: %v\n", result.URL, result.Err)
			healthy = false
		default:
			fmt.Printf("  %s: %d in %s\n", result.URL, result.Status, result.Latency.Round(time.Millisecond))
			if !result.Healthy() {
				healthy = false
			}
		}

		if doctorFlags.skipStream || len(missing) > 0 {
			reportHealth(healthy)
			return
		}

		fmt.Println("stream")
		protoCodec, err := loadCodec()
		if err != nil {
			fmt.Printf("  %v\n", err)
			reportHealth(false)
			return
		}
		streamer := probe.Streamer{
			Opener:  newDialer(),
			Codec:   protoCodec,
			Schemas: cfg.Schemas(),
			Request: cfg.Request,
			Clock:   clock,
			Tel:     tel,
		}
		stream, err := streamer.CheckStream(ctx, creds, doctorFlags.identifier, probe.DefaultStreamOptions())
		if err != nil {
			fmt.Printf("  %v\n", err)
			healthy = false
		}
		for i, frame := range stream.Frames {
			fmt.Printf("  frame %d: %d bytes, binary %t, decoded %t\n", i+1, frame.Size, frame.Binary, frame.Decoded)
		}
		fmt.Printf("  %d frames in %s, stopped: %s\n", len(stream.Frames), stream.Elapsed.Round(100*time.Millisecond), stream.Stop)
		if err == nil && !stream.Working() {
			fmt.Println("  no frames, the cookies may be expired or the site is rate limiting")
			healthy = false
		}
		reportHealth(healthy)
	},
}

func reportHealth(healthy bool) {
	if healthy {
		fmt.Println("ok")
		return
	}
	fmt.Println("problems found")
}
