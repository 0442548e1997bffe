// Package channeltest provides scripted in-memory streams for tests.
package channeltest

import (
	"context"
	"sync"
	"time"

	"hashdive-scraper/internal/channel"
	"hashdive-scraper/internal/session"
)

// Conn replays Frames in order, then fails every read with After
// (channel.ErrMessageTimeout when After is nil).
type Conn struct {
	Frames []channel.RawMessage
	After  error
	// SendErr is returned by Send when set.
	SendErr error

	mutex  sync.Mutex
	next   int
	sent   [][]byte
	closed int
}

func NewConn(frames ...[]byte) *Conn {
	conn := &Conn{}
	for _, data := range frames {
		conn.Frames = append(conn.Frames, channel.RawMessage{Binary: true, Data: data, ReceivedAt: time.Now()})
	}
	return conn
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *Conn) ReceiveNext(ctx context.Context, timeout time.Duration) (channel.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return channel.RawMessage{}, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.next < len(c.Frames) {
		msg := c.Frames[c.next]
		c.next++
		return msg, nil
	}
	if c.After != nil {
		return channel.RawMessage{}, c.After
	}
	return channel.RawMessage{}, channel.ErrMessageTimeout
}

func (c *Conn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closed++
	return nil
}

func (c *Conn) Sent() [][]byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *Conn) Closed() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

// Opener hands out the scripted Conn for each identifier, identifiers in
// Fail get the error instead. Unknown identifiers get an empty Conn.
type Opener struct {
	Conns map[string]*Conn
	Fail  map[string]error

	mutex  sync.Mutex
	opened []string
}

func NewOpener() *Opener {
	return &Opener{Conns: map[string]*Conn{}, Fail: map[string]error{}}
}

func (o *Opener) Open(ctx context.Context, identifier string, creds session.Credentials) (channel.Conn, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.opened = append(o.opened, identifier)
	if err, ok := o.Fail[identifier]; ok {
		return nil, err
	}
	conn, ok := o.Conns[identifier]
	if !ok {
		conn = &Conn{}
		o.Conns[identifier] = conn
	}
	return conn, nil
}

// Opened returns every identifier Open was called with, in order.
func (o *Opener) Opened() []string {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return append([]string(nil), o.opened...)
}
