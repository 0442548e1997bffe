package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hashdive-scraper/internal/acquire"
	"hashdive-scraper/internal/channel"
	"hashdive-scraper/internal/codec"
	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/internal/components/chrono"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/extract"
	"hashdive-scraper/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	report_page_open   = "page.open"
	report_page_send   = "page.send"
	report_page_read   = "page.read"
	report_page_frame  = "page.frame"
	report_page_table  = "page.table"
	report_page_sink   = "page.sink"
	report_page_count  = "page.count"
	report_page_missed = "page.missed"
)

var tracer = otel.Tracer("hashdive/internal/leaderboard")

// ErrNoPageCount means the first page never showed its "Page N of M" caption.
var ErrNoPageCount = errors.New("first page has no page count")

// streamIdentifier names the explorer stream in logs and spans.
const streamIdentifier = "leaderboard"

type Options struct {
	PerMessageTimeout time.Duration
	// TotalTimeout bounds the frames read for a single page.
	TotalTimeout time.Duration
	MaxMessages  int
	// SettleDelay is waited after each request before reading.
	SettleDelay time.Duration
	// PageDelay is waited between pages.
	PageDelay time.Duration
	// MaxPages <= 0 fetches every page.
	MaxPages int
}

func DefaultOptions() Options {
	return Options{
		TotalTimeout: 30 * time.Second,
		MaxMessages:  100,
		SettleDelay:  time.Second,
		PageDelay:    500 * time.Millisecond,
	}
}

type Report struct {
	// Pages is the page count the explorer reported.
	Pages   int
	Fetched []int
	Missing []int
	Rows    int
}

// Sink receives every page that carried a table.
type Sink func(page int, table Table) error

type Fetcher struct {
	Opener  channel.Opener
	Codec   codec.Codec
	Schemas acquire.Schemas
	Request codec.RequestOptions
	Query   Query
	Clock   chrono.API
	Tel     telemetry.API
}

type pageResult struct {
	count   int
	table   Table
	hasRows bool
}

// Fetch reads the first page to learn the page count, then every other page
// over the same stream. A page without a table is listed in Missing and does
// not stop the run, a broken stream does.
func (f Fetcher) Fetch(ctx context.Context, creds session.Credentials, opts Options, sink Sink) (report Report, err error) {
	assert.NotNil(f.Opener)
	assert.NotNil(f.Codec)
	assert.NotNil(f.Clock)
	assert.NotNil(f.Tel)
	tel := telemetry.NewScopedAPI("leaderboard", f.Tel)

	ctx, span := tracer.Start(ctx, "FetchLeaderboard")
	defer span.End()

	conn, err := f.Opener.Open(ctx, streamIdentifier, creds)
	if err != nil {
		tel.ReportBroken(report_page_open, err)
		return report, err
	}
	defer conn.Close()

	first, err := f.page(ctx, tel, conn, 1, opts)
	if err != nil {
		return report, err
	}
	err = f.keep(tel, &report, 1, first, sink)
	if err != nil {
		return report, err
	}
	if first.count == 0 {
		tel.ReportBroken(report_page_count, ErrNoPageCount)
		return report, ErrNoPageCount
	}
	report.Pages = first.count

	last := first.count
	if opts.MaxPages > 0 && last > opts.MaxPages {
		last = opts.MaxPages
	}
	for n := 2; n <= last; n++ {
		err = f.Clock.Sleep(ctx, opts.PageDelay)
		if err != nil {
			return report, err
		}
		result, err := f.page(ctx, tel, conn, n, opts)
		if err != nil {
			return report, err
		}
		err = f.keep(tel, &report, n, result, sink)
		if err != nil {
			return report, err
		}
	}

	span.SetAttributes(
		attribute.Int("pages", report.Pages),
		attribute.Int("fetched", len(report.Fetched)),
		attribute.Int("rows", report.Rows),
	)
	tel.ReportCount("rows", int64(report.Rows))
	return report, nil
}

func (f Fetcher) keep(tel telemetry.API, report *Report, n int, result pageResult, sink Sink) error {
	if !result.hasRows {
		tel.ReportWarning(report_page_missed, n)
		report.Missing = append(report.Missing, n)
		return nil
	}
	err := sink(n, result.table)
	if err != nil {
		tel.ReportBroken(report_page_sink, err, n)
		return fmt.Errorf("page %d: %w", n, err)
	}
	report.Fetched = append(report.Fetched, n)
	report.Rows += len(result.table.Rows)
	tel.ReportDebug("page fetched", "page", n, "rows", len(result.table.Rows))
	return nil
}

func (f Fetcher) page(ctx context.Context, tel telemetry.API, conn channel.Conn, n int, opts Options) (pageResult, error) {
	ctx, span := tracer.Start(ctx, "FetchPage")
	defer span.End()
	span.SetAttributes(attribute.Int("page", n))

	result := pageResult{}
	request, err := f.Codec.Encode(f.Query.Tree(f.Request, n), f.Schemas.Request)
	if err != nil {
		return result, fmt.Errorf("encode page %d: %w", n, err)
	}
	err = conn.Send(ctx, request)
	if err != nil {
		tel.ReportBroken(report_page_send, err, n)
		return result, fmt.Errorf("send page %d: %w", n, err)
	}
	err = f.Clock.Sleep(ctx, opts.SettleDelay)
	if err != nil {
		return result, err
	}

	_, stop, err := channel.Collect(ctx, conn, channel.CollectOptions{
		PerMessageTimeout: opts.PerMessageTimeout,
		TotalTimeout:      opts.TotalTimeout,
		MaxMessages:       opts.MaxMessages,
	}, func(msg channel.RawMessage) bool {
		tree, err := codec.DecodeFrame(f.Codec, f.Schemas.Response, msg)
		if err != nil {
			tel.ReportWarning(report_page_frame, n, err)
			return false
		}
		if result.count == 0 {
			if count, ok := PageCount(tree); ok {
				result.count = count
			}
		}
		if !result.hasRows {
			table, err := TableOf(tree)
			switch {
			case errors.Is(err, ErrNoTable):
			case err != nil:
				tel.ReportWarning(report_page_table, n, err)
			default:
				result.table = table
				result.hasRows = true
			}
		}
		return extract.IsStreamComplete(tree)
	})
	span.SetAttributes(attribute.String("stop", string(stop)))
	if err != nil {
		tel.ReportBroken(report_page_read, err, n)
		return result, fmt.Errorf("read page %d: %w", n, err)
	}
	return result, nil
}
