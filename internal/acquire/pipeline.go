package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hashdive-scraper/internal/channel"
	"hashdive-scraper/internal/codec"
	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/internal/components/chrono"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/extract"
	"hashdive-scraper/internal/record"
	"hashdive-scraper/internal/session"
	"hashdive-scraper/internal/tabular"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_run_credentials     = "run.credentials"
	report_run_cancelled       = "run.cancelled"
	report_attempt_lookup      = "attempt.lookup"
	report_attempt_open        = "attempt.open"
	report_attempt_encode      = "attempt.encode"
	report_attempt_send        = "attempt.send"
	report_attempt_read        = "attempt.read"
	report_attempt_decode      = "attempt.decode"
	report_attempt_message_log = "attempt.message-log"
	report_attempt_persist     = "attempt.persist"
	report_attempt_journal     = "attempt.journal"
)

var tracer = otel.Tracer("hashdive/internal/acquire")

type Options struct {
	// Limit caps how many identifiers are processed after Offset, <= 0 means all.
	Limit  int
	Offset int
	// Refetch attempts identifiers that already have a record.
	Refetch           bool
	InterRequestDelay time.Duration
	PerMessageTimeout time.Duration
	TotalTimeout      time.Duration
	MaxMessages       int
}

func DefaultOptions() Options {
	return Options{
		InterRequestDelay: time.Second,
		PerMessageTimeout: 5 * time.Second,
		TotalTimeout:      30 * time.Second,
		MaxMessages:       300,
	}
}

// Schemas name the codec schemas of the request and of the stream frames.
type Schemas struct {
	Request  string
	Response string
}

type RecordStore interface {
	Exists(id string) (bool, error)
	Write(id string, rec record.Record) error
}

type CredentialResolver interface {
	Resolve(ctx context.Context) (session.Credentials, error)
}

type MessageLog interface {
	Write(id string, messages []map[string]any) error
}

// Attempt is one identifier's entry in a run, as handed to the Journal.
type Attempt struct {
	Index      int
	Identifier string
	StartedAt  time.Time
	Outcome    Outcome
}

// Journal keeps a durable history of attempts.
type Journal interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

type Deps struct {
	Store    RecordStore
	Sessions CredentialResolver
	Opener   channel.Opener
	Codec    codec.Codec
	Schemas  Schemas
	Request  codec.RequestOptions
	Clock    chrono.API
	Tel      telemetry.API

	// optional
	Progress Progress
	Messages MessageLog
	Journal  Journal
	Metrics  *Metrics
}

// Pipeline fetches trader records one identifier at a time.
type Pipeline struct {
	deps Deps
	opts Options
	tel  telemetry.API
}

func NewPipeline(deps Deps, opts Options) Pipeline {
	assert.NotNil(deps.Store)
	assert.NotNil(deps.Sessions)
	assert.NotNil(deps.Opener)
	assert.NotNil(deps.Codec)
	assert.NotNil(deps.Clock)
	assert.NotNil(deps.Tel)
	assert.NotEmptyStr(deps.Schemas.Request)
	assert.NotEmptyStr(deps.Schemas.Response)

	if deps.Progress == nil {
		deps.Progress = nopProgress{}
	}
	defaults := DefaultOptions()
	if opts.PerMessageTimeout <= 0 {
		opts.PerMessageTimeout = defaults.PerMessageTimeout
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = defaults.TotalTimeout
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	return Pipeline{
		deps: deps,
		opts: opts,
		tel:  telemetry.NewScopedAPI("acquire", deps.Tel),
	}
}

// Run processes rows in order after applying offset and limit. Credentials
// are resolved once up front and a failure there is the only error that ends
// the run before any identifier is attempted. Every other failure is folded
// into the identifier's outcome and the run moves on. A cancelled context
// stops the run between identifiers and returns the summary so far along with
// the context error, the identifier in flight is not persisted.
func (p Pipeline) Run(ctx context.Context, rows []record.Row) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	started := p.deps.Clock.Now()
	rows = tabular.Slice(rows, p.opts.Offset, p.opts.Limit)
	summary := Summary{Total: len(rows)}
	span.SetAttributes(
		attribute.Int("total", len(rows)),
		attribute.Bool("refetch", p.opts.Refetch),
	)

	creds, err := p.deps.Sessions.Resolve(ctx)
	if err != nil {
		p.tel.ReportBroken(report_run_credentials, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "credentials unavailable")
		return summary, fmt.Errorf("resolve credentials: %w", err)
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			p.tel.ReportWarning(report_run_cancelled, summary.Processed(), len(rows))
			summary.Elapsed = p.deps.Clock.Now().Sub(started)
			return summary, err
		}

		index := i + 1
		attemptStart := p.deps.Clock.Now()
		outcome, attempted := p.process(ctx, row, creds, index, len(rows))
		if ctx.Err() != nil && attempted {
			p.tel.ReportWarning(report_run_cancelled, row.Identifier, summary.Processed(), len(rows))
			summary.Elapsed = p.deps.Clock.Now().Sub(started)
			return summary, ctx.Err()
		}

		summary.Add(outcome)
		p.deps.Metrics.Observe(outcome)
		p.journal(ctx, Attempt{
			Index:      index,
			Identifier: row.Identifier,
			StartedAt:  attemptStart,
			Outcome:    outcome,
		})
		p.deps.Progress.Finished(index, len(rows), row.Identifier, outcome, summary)

		if attempted && p.opts.InterRequestDelay > 0 {
			err := p.deps.Clock.Sleep(ctx, p.opts.InterRequestDelay)
			if err != nil {
				summary.Elapsed = p.deps.Clock.Now().Sub(started)
				return summary, err
			}
		}
	}

	summary.Elapsed = p.deps.Clock.Now().Sub(started)
	span.SetAttributes(
		attribute.Int("success", summary.Success),
		attribute.Int("empty", summary.Empty),
		attribute.Int("failed", summary.TimedOut+summary.Errored),
	)
	return summary, nil
}

func (p Pipeline) journal(ctx context.Context, attempt Attempt) {
	if p.deps.Journal == nil {
		return
	}
	err := p.deps.Journal.RecordAttempt(ctx, attempt)
	if err != nil {
		p.tel.ReportWarning(report_attempt_journal, attempt.Identifier, err)
	}
}

// process returns the outcome for one row and whether the network was touched.
func (p Pipeline) process(ctx context.Context, row record.Row, creds session.Credentials, index, total int) (Outcome, bool) {
	if !p.opts.Refetch {
		exists, err := p.deps.Store.Exists(row.Identifier)
		if err != nil {
			p.tel.ReportWarning(report_attempt_lookup, row.Identifier, err)
			return Outcome{Kind: KindErrored, Err: fmt.Errorf("check existing record: %w", err)}, false
		}
		if exists {
			return Outcome{Kind: KindSkipped}, false
		}
	}

	p.deps.Progress.Started(index, total, row.Identifier)
	outcome, rec := p.attempt(ctx, row, creds)
	if ctx.Err() != nil || !outcome.Kind.Persists() {
		return outcome, true
	}

	err := p.deps.Store.Write(row.Identifier, rec)
	if err != nil {
		p.tel.ReportBroken(report_attempt_persist, row.Identifier, err)
		outcome.Kind = KindErrored
		outcome.Err = fmt.Errorf("persist record: %w", err)
	}
	return outcome, true
}

// failure turns an error from the stream into an outcome, running out of the
// attempt's time is a timeout and everything else an error.
func (p Pipeline) failure(ctx context.Context, reportID, id string, out Outcome, err error) Outcome {
	out.Kind = KindErrored
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		out.Kind = KindTimedOut
	}
	out.Err = err
	p.tel.ReportWarning(reportID, id, err)
	return out
}

func (p Pipeline) attempt(ctx context.Context, row record.Row, creds session.Credentials) (out Outcome, rec record.Record) {
	id := row.Identifier
	ctx, span := tracer.Start(ctx, "Attempt")
	defer span.End()
	span.SetAttributes(attribute.String("identifier", id))

	start := p.deps.Clock.Now()
	defer func() {
		out.Duration = p.deps.Clock.Now().Sub(start)
		span.SetAttributes(
			attribute.String("outcome", string(out.Kind)),
			attribute.Int("messages", out.Messages),
		)
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, string(out.Kind))
		}
	}()

	// bounds the handshake and the request, the rest of the budget goes to reading
	attemptCtx, cancel := context.WithTimeout(ctx, p.opts.TotalTimeout)
	defer cancel()

	conn, err := p.deps.Opener.Open(attemptCtx, id, creds)
	if err != nil {
		return p.failure(ctx, report_attempt_open, id, out, err), nil
	}
	defer conn.Close()

	request, err := p.deps.Codec.Encode(codec.RequestTree(p.deps.Request, id), p.deps.Schemas.Request)
	if err != nil {
		return p.failure(ctx, report_attempt_encode, id, out, fmt.Errorf("encode request: %w", err)), nil
	}
	err = conn.Send(attemptCtx, request)
	if err != nil {
		return p.failure(ctx, report_attempt_send, id, out, err), nil
	}

	remaining := p.opts.TotalTimeout - p.deps.Clock.Now().Sub(start)
	if remaining <= 0 {
		return p.failure(ctx, report_attempt_read, id, out, context.DeadlineExceeded), nil
	}

	trees := []map[string]any{}
	messages, stop, err := channel.Collect(ctx, conn, channel.CollectOptions{
		PerMessageTimeout: p.opts.PerMessageTimeout,
		TotalTimeout:      remaining,
		MaxMessages:       p.opts.MaxMessages,
	}, func(msg channel.RawMessage) bool {
		tree, err := codec.DecodeFrame(p.deps.Codec, p.deps.Schemas.Response, msg)
		if err != nil {
			p.tel.ReportWarning(report_attempt_decode, id, err)
			return false
		}
		trees = append(trees, tree)
		return extract.IsStreamComplete(tree)
	})
	out.Messages = len(messages)
	out.Stop = stop
	if err != nil {
		return p.failure(ctx, report_attempt_read, id, out, err), nil
	}

	if p.deps.Messages != nil {
		err = p.deps.Messages.Write(id, trees)
		if err != nil {
			p.tel.ReportWarning(report_attempt_message_log, id, err)
		}
	}

	result := extract.Parse(ctx, trees)
	tags, _ := result.Fields[record.FieldTraderTypes].([]string)
	out.Tags = tags
	out.Kind = KindSuccess
	if len(tags) == 0 {
		out.Kind = KindEmpty
	}
	p.tel.ReportDebug("stream parsed", id, len(trees), string(stop), result.NonNull())

	return out, record.Merge(row, result.Fields, p.deps.Clock.Now())
}
