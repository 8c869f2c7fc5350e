package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xpanvictor/agentcall/pkg/io/channel"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	closeGracePeriod        = time.Second
)

// Dialer opens gorilla websocket connections for a channel.Channel.
type Dialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

func NewDialer() *Dialer {
	return &Dialer{
		HandshakeTimeout: defaultHandshakeTimeout,
		WriteTimeout:     defaultWriteTimeout,
	}
}

// Dial implements channel.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (channel.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	client, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newConn(client, d.WriteTimeout), nil
}

type wsConn struct {
	client       *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func newConn(client *websocket.Conn, writeTimeout time.Duration) *wsConn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &wsConn{client: client, writeTimeout: writeTimeout}
}

// ReadMessage implements channel.Conn. Close frames surface as
// *channel.CloseError; a connection dropped without one reports 1006.
func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := w.client.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &channel.CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage implements channel.Conn.
func (w *wsConn) WriteMessage(data []byte) error {
	_ = w.client.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.client.WriteMessage(websocket.TextMessage, data)
}

// Close implements channel.Conn. It sends a close frame then drops the
// socket; repeated calls return the first result.
func (w *wsConn) Close(code int, reason string) error {
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = w.client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		w.closeErr = w.client.Close()
	})
	return w.closeErr
}
