// Package probe checks that the site answers over http and that a stream can
// be opened and produces frames, without writing anything.
package probe

import (
	"context"
	"fmt"
	"time"

	"hashdive-scraper/internal/acquire"
	"hashdive-scraper/internal/channel"
	"hashdive-scraper/internal/codec"
	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/internal/components/chrono"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/session"
	"hashdive-scraper/lib/restyutil"
	libtelemetry "hashdive-scraper/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const (
	report_http_check   = "http.check"
	report_stream_open  = "stream.open"
	report_stream_send  = "stream.send"
	report_stream_read  = "stream.read"
	report_stream_frame = "stream.frame"
)

var tracer = otel.Tracer("hashdive/internal/probe")

// DefaultIdentifier is a known trader used when no identifier is given.
const DefaultIdentifier = "0x04dbe94fc549e2bfff09aec1cd9d02960adaf0fd"

type HTTPResult struct {
	URL     string
	Status  int
	Latency time.Duration
	Err     error
}

func (r HTTPResult) Healthy() bool {
	return r.Err == nil && r.Status > 0 && r.Status < 400
}

type HTTPChecker struct {
	client *resty.Client
	tel    telemetry.API
}

func NewHTTPChecker(userAgent string, timeout time.Duration, tel telemetry.API) HTTPChecker {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("probe", tel)

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	if userAgent != "" {
		client.SetHeader("user-agent", userAgent)
	}
	client.SetTimeout(timeout)

	limiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(client, tel)
	libtelemetry.TraceResty(client, "hashdive/internal/probe")

	return HTTPChecker{client: client, tel: tel}
}

// DumpTo writes the full text of every exchange the checker makes to output.
func (h HTTPChecker) DumpTo(output restyutil.Output) {
	restyutil.Dump(h.client, output)
}

// Check issues a single GET, a status of 400 or more is reported but is not
// an error.
func (h HTTPChecker) Check(ctx context.Context, url string) HTTPResult {
	ctx, span := tracer.Start(ctx, "CheckHTTP")
	defer span.End()

	result := HTTPResult{URL: url}
	start := time.Now()
	res, err := h.client.R().SetContext(ctx).Get(url)
	result.Latency = time.Since(start)
	if err != nil {
		h.tel.ReportBroken(report_http_check, err, url)
		result.Err = err
		return result
	}
	result.Status = res.StatusCode()
	span.SetAttributes(attribute.Int("status", result.Status))
	if !result.Healthy() {
		h.tel.ReportWarning(report_http_check, url, res.Status())
	}
	return result
}

type StreamOptions struct {
	PerMessageTimeout time.Duration
	TotalTimeout      time.Duration
	MaxMessages       int
}

func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		PerMessageTimeout: 5 * time.Second,
		TotalTimeout:      10 * time.Second,
		MaxMessages:       3,
	}
}

type Frame struct {
	Binary  bool
	Size    int
	Decoded bool
}

type StreamResult struct {
	Identifier string
	Frames     []Frame
	Stop       channel.StopReason
	Elapsed    time.Duration
}

// Working is true when at least one frame arrived.
func (r StreamResult) Working() bool {
	return len(r.Frames) > 0
}

type Streamer struct {
	Opener  channel.Opener
	Codec   codec.Codec
	Schemas acquire.Schemas
	Request codec.RequestOptions
	Clock   chrono.API
	Tel     telemetry.API
}

// CheckStream opens one stream for identifier, sends the page request and
// reads a few frames. Errors are returned for a failed open or send, running
// out of time is reported through Stop.
func (s Streamer) CheckStream(ctx context.Context, creds session.Credentials, identifier string, opts StreamOptions) (result StreamResult, err error) {
	assert.NotNil(s.Opener)
	assert.NotNil(s.Codec)
	assert.NotNil(s.Clock)
	assert.NotNil(s.Tel)
	tel := telemetry.NewScopedAPI("probe", s.Tel)

	ctx, span := tracer.Start(ctx, "CheckStream")
	defer span.End()

	if identifier == "" {
		identifier = DefaultIdentifier
	}
	result = StreamResult{Identifier: identifier}
	start := s.Clock.Now()
	defer func() {
		result.Elapsed = s.Clock.Now().Sub(start)
	}()

	openCtx, cancel := context.WithTimeout(ctx, opts.TotalTimeout)
	defer cancel()

	conn, err := s.Opener.Open(openCtx, identifier, creds)
	if err != nil {
		tel.ReportBroken(report_stream_open, err, identifier)
		return result, err
	}
	defer conn.Close()

	request, err := s.Codec.Encode(codec.RequestTree(s.Request, identifier), s.Schemas.Request)
	if err != nil {
		return result, fmt.Errorf("encode request: %w", err)
	}
	err = conn.Send(openCtx, request)
	if err != nil {
		tel.ReportBroken(report_stream_send, err, identifier)
		return result, err
	}

	_, stop, err := channel.Collect(ctx, conn, channel.CollectOptions{
		PerMessageTimeout: opts.PerMessageTimeout,
		TotalTimeout:      opts.TotalTimeout,
		MaxMessages:       opts.MaxMessages,
	}, func(msg channel.RawMessage) bool {
		frame := Frame{Binary: msg.Binary, Size: len(msg.Data)}
		_, decodeErr := codec.DecodeFrame(s.Codec, s.Schemas.Response, msg)
		if decodeErr != nil {
			tel.ReportWarning(report_stream_frame, identifier, decodeErr)
		} else {
			frame.Decoded = true
		}
		result.Frames = append(result.Frames, frame)
		return false
	})
	result.Stop = stop
	span.SetAttributes(attribute.Int("frames", len(result.Frames)), attribute.String("stop", string(stop)))
	if err != nil {
		tel.ReportBroken(report_stream_read, err, identifier)
		return result, err
	}
	return result, nil
}
