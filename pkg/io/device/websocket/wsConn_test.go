package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xpanvictor/agentcall/pkg/io/channel"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newServer(t *testing.T, handle func(c *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer c.Close()
		handle(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialEchoAndCloseCode(t *testing.T) {
	url := newServer(t, func(c *websocket.Conn) {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, data)
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4001, "bad key"))
		time.Sleep(50 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := NewDialer().Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(channel.CloseNormal, "")

	if err := conn.WriteMessage([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("Expected echo, got %s", data)
	}

	_, err = conn.ReadMessage()
	var ce *channel.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected CloseError, got %v", err)
	}
	if ce.Code != 4001 || ce.Reason != "bad key" {
		t.Errorf("Unexpected close error %+v", ce)
	}
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDialer().Dial(ctx, "ws://127.0.0.1:1/none"); err == nil {
		t.Errorf("Expected dial error on cancelled context")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	url := newServer(t, func(c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	conn, err := NewDialer().Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	first := conn.Close(channel.CloseNormal, "bye")
	second := conn.Close(channel.CloseNormal, "bye")
	if first != second {
		t.Errorf("Expected repeated Close to return the first result, got %v then %v", first, second)
	}
}
