package websocket

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/xpanvictor/agentcall/internal/domains/chat"
	"github.com/xpanvictor/agentcall/pkg/Logger"
)

// busySource emits an event while the snapshot is being taken.
type busySource struct {
	mu  sync.Mutex
	obs chat.Observer
}

func (s *busySource) Subscribe(obs chat.Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = obs
	return func() {}
}

func (s *busySource) Snapshot() chat.Snapshot {
	s.mu.Lock()
	obs := s.obs
	s.mu.Unlock()
	obs(chat.Event{Kind: chat.EventNotification, Notification: &chat.Notification{Level: chat.LevelInfo, Title: "joined"}})
	return chat.Snapshot{State: chat.StateReady}
}

func TestEventsDuringJoinReachClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewEventsHandler(&busySource{}, Logger.Nop())
	defer h.Close()
	r := gin.New()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		seen[msg.Type] = true
	}
	if !seen["snapshot"] || !seen["notification"] {
		t.Errorf("Expected snapshot and the concurrent notification, got %v", seen)
	}
}
