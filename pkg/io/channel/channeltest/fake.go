// Package channeltest provides an in-memory channel.Dialer for tests.
package channeltest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xpanvictor/agentcall/pkg/io/channel"
)

// Conn is an in-memory connection. Frames pushed with Deliver are returned
// by ReadMessage; frames written by the client are recorded.
type Conn struct {
	URL string

	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	sent      [][]byte
	closeCode int
	remote    *channel.CloseError
}

func newConn(url string) *Conn {
	return &Conn{URL: url, in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.remote != nil {
			return nil, c.remote
		}
		return nil, &channel.CloseError{Code: c.closeCode}
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *Conn) Close(code int, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// Deliver queues an inbound frame.
func (c *Conn) Deliver(frame string) {
	c.in <- []byte(frame)
}

// CloseRemote simulates the server closing with code.
func (c *Conn) CloseRemote(code int) {
	c.once.Do(func() {
		c.mu.Lock()
		c.remote = &channel.CloseError{Code: code}
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
}

// Sent returns a copy of every frame written by the client.
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, s := range c.sent {
		out[i] = string(s)
	}
	return out
}

// CloseCode is the code the client closed with, 0 if still open.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// Dialer records dials and hands out Conns.
type Dialer struct {
	mu    sync.Mutex
	conns []*Conn
	fail  error
	dials chan *Conn
}

func NewDialer() *Dialer {
	return &Dialer{dials: make(chan *Conn, 64)}
}

func (d *Dialer) Dial(ctx context.Context, url string) (channel.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	c := newConn(url)
	d.conns = append(d.conns, c)
	d.dials <- c
	return c, nil
}

// Fail makes subsequent dials return err; nil restores success.
func (d *Dialer) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// Next waits for the next successful dial.
func (d *Dialer) Next(timeout time.Duration) *Conn {
	select {
	case c := <-d.dials:
		return c
	case <-time.After(timeout):
		return nil
	}
}

func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
