package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/internal/components/chrono"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"nhooyr.io/websocket"
)

const (
	report_dialer_open  = "dialer.open"
	report_conn_close   = "conn.close"
	report_conn_receive = "conn.receive-next"
	report_conn_send    = "conn.send"
)

var tracer = otel.Tracer("hashdive/internal/channel")

var (
	ErrConnection     = errors.New("connection failed")
	ErrMessageTimeout = errors.New("no message within timeout")
	ErrClosed         = errors.New("connection closed")
)

// RawMessage is one frame as it came off the wire.
type RawMessage struct {
	Binary     bool
	Data       []byte
	ReceivedAt time.Time
}

// Conn is one open stream, owned by a single acquisition attempt.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	// ReceiveNext blocks until a frame arrives, failing with ErrMessageTimeout
	// when nothing arrives within timeout.
	ReceiveNext(ctx context.Context, timeout time.Duration) (RawMessage, error)
	// Close releases the connection, calling it more than once is safe.
	Close() error
}

// Opener opens a stream for an identifier.
//
// note: fault injection point
type Opener interface {
	Open(ctx context.Context, identifier string, creds session.Credentials) (Conn, error)
}

type Config struct {
	URL       string
	Origin    string
	UserAgent string
	// Subprotocol is offered first, the xsrf token is offered as the second subprotocol.
	Subprotocol       string
	ReadLimit         int64
	HandshakeAttempts int
	HandshakeBackoff  time.Duration
}

type Dialer struct {
	cfg   Config
	clock chrono.API
	tel   telemetry.API
}

func NewDialer(cfg Config, clock chrono.API, tel telemetry.API) Dialer {
	assert.NotEmptyStr(cfg.URL)
	assert.NotNil(clock)
	assert.NotNil(tel)

	if cfg.HandshakeAttempts <= 0 {
		cfg.HandshakeAttempts = 1
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 32 << 20
	}
	return Dialer{
		cfg:   cfg,
		clock: clock,
		tel:   telemetry.NewScopedAPI("channel", tel),
	}
}

func (d Dialer) header(creds session.Credentials) http.Header {
	header := http.Header{}
	header.Set("Cookie", creds.CookieHeader())
	if d.cfg.Origin != "" {
		header.Set("Origin", d.cfg.Origin)
	}
	if d.cfg.UserAgent != "" {
		header.Set("User-Agent", d.cfg.UserAgent)
	}
	return header
}

func (d Dialer) subprotocols(creds session.Credentials) []string {
	out := []string{}
	if d.cfg.Subprotocol != "" {
		out = append(out, d.cfg.Subprotocol)
	}
	if xsrf := creds.Get(session.NameXsrf); xsrf != "" {
		out = append(out, xsrf)
	}
	return out
}

// Open performs the websocket handshake, retrying with a linearly growing
// pause. Handshake failures wrap ErrConnection.
func (d Dialer) Open(ctx context.Context, identifier string, creds session.Credentials) (Conn, error) {
	ctx, span := tracer.Start(ctx, "Open")
	defer span.End()
	span.SetAttributes(attribute.String("identifier", identifier))

	opts := &websocket.DialOptions{
		HTTPHeader:   d.header(creds),
		Subprotocols: d.subprotocols(creds),
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.HandshakeAttempts; attempt++ {
		ws, res, err := websocket.Dial(ctx, d.cfg.URL, opts)
		if err == nil {
			ws.SetReadLimit(d.cfg.ReadLimit)
			span.SetAttributes(attribute.Int("attempts", attempt))
			return &wsConn{ws: ws, tel: d.tel}, nil
		}

		status := 0
		if res != nil {
			status = res.StatusCode
		}
		lastErr = err
		d.tel.ReportWarning(report_dialer_open, identifier, attempt, status, err)

		if attempt == d.cfg.HandshakeAttempts || ctx.Err() != nil {
			break
		}
		err = d.clock.Sleep(ctx, d.cfg.HandshakeBackoff*time.Duration(attempt))
		if err != nil {
			lastErr = err
			break
		}
	}

	span.RecordError(lastErr)
	d.tel.ReportBroken(report_dialer_open, identifier, lastErr)
	return nil, fmt.Errorf("%w: %s: %w", ErrConnection, d.cfg.URL, lastErr)
}

type wsConn struct {
	ws        *websocket.Conn
	tel       telemetry.API
	closeOnce sync.Once
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	err := c.ws.Write(ctx, websocket.MessageBinary, data)
	if err != nil {
		c.tel.ReportWarning(report_conn_send, err)
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// a read that times out tears down the websocket, the conn is only good for
// Close after ErrMessageTimeout
func (c *wsConn) ReceiveNext(ctx context.Context, timeout time.Duration) (RawMessage, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	typ, data, err := c.ws.Read(readCtx)
	if err == nil {
		return RawMessage{
			Binary:     typ == websocket.MessageBinary,
			Data:       data,
			ReceivedAt: time.Now(),
		}, nil
	}

	if ctx.Err() != nil {
		return RawMessage{}, ctx.Err()
	}
	if errors.Is(readCtx.Err(), context.DeadlineExceeded) {
		return RawMessage{}, ErrMessageTimeout
	}
	if websocket.CloseStatus(err) != -1 {
		return RawMessage{}, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	c.tel.ReportWarning(report_conn_receive, err)
	return RawMessage{}, err
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		err := c.ws.Close(websocket.StatusNormalClosure, "")
		if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
			c.tel.ReportDebug(report_conn_close, err)
		}
	})
	return nil
}
