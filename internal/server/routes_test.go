package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	gws "github.com/gorilla/websocket"
	"github.com/xpanvictor/agentcall/internal/config"
	"github.com/xpanvictor/agentcall/internal/domains/chat"
	"github.com/xpanvictor/agentcall/internal/handlers/websocket"
	"github.com/xpanvictor/agentcall/pkg/Logger"
)

type fakeSession struct {
	mu        sync.Mutex
	started   []string
	sent      []string
	startErr  error
	sendErr   error
	observers []chat.Observer
	mic       bool
}

func (f *fakeSession) Start(agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, agentID)
	return nil
}

func (f *fakeSession) Restart(agentID string) error { return chat.ErrInvalidState }
func (f *fakeSession) End() error                   { return nil }

func (f *fakeSession) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSession) ToggleMic(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mic {
		return false, chat.ErrTextMode
	}
	return true, nil
}

func (f *fakeSession) ToggleAudioOutput() (bool, error)         { return false, nil }
func (f *fakeSession) ToggleInputMode() (chat.InputMode, error) { return chat.InputAudio, nil }

func (f *fakeSession) Snapshot() chat.Snapshot {
	return chat.Snapshot{State: chat.StateReady, Status: "Connected"}
}

func (f *fakeSession) Messages() []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.Message, len(f.sent))
	for i, s := range f.sent {
		out[i] = chat.Message{Role: chat.RoleUser, Content: s}
	}
	return out
}

func (f *fakeSession) Subscribe(obs chat.Observer) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, obs)
	return func() {}
}

func (f *fakeSession) publish(ev chat.Event) {
	f.mu.Lock()
	obs := append([]chat.Observer(nil), f.observers...)
	f.mu.Unlock()
	for _, fn := range obs {
		fn(ev)
	}
}

func newTestRouter(t *testing.T, secret string) (*gin.Engine, *fakeSession) {
	r, sess, _ := newTestRouterWithEvents(t, secret)
	return r, sess
}

func newTestRouterWithEvents(t *testing.T, secret string) (*gin.Engine, *fakeSession, *websocket.EventsHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Settings{}
	cfg.Agent.AgentID = "default-agent"
	cfg.Control.JWTSecret = secret
	sess := &fakeSession{}
	r, events := NewRouter(NewServerDependencies(sess, Logger.Nop(), cfg))
	t.Cleanup(func() { _ = events.Close() })
	return r, sess, events
}

func do(r http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, "")
	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("Unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestStartSession(t *testing.T) {
	r, sess := newTestRouter(t, "")

	w := do(r, http.MethodPost, "/session/start", `{"agent_id":"agent-7"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodPost, "/session/start", "", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 with default agent, got %d", w.Code)
	}
	if len(sess.started) != 2 || sess.started[0] != "agent-7" || sess.started[1] != "default-agent" {
		t.Errorf("Unexpected agents %v", sess.started)
	}

	sess.startErr = chat.ErrInvalidState
	w = do(r, http.MethodPost, "/session/start", `{"agent_id":"x"}`, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for invalid transition, got %d", w.Code)
	}
	sess.startErr = chat.ErrMissingAgent
	w = do(r, http.MethodPost, "/session/start", `{"agent_id":""}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing agent, got %d", w.Code)
	}
}

func TestMessages(t *testing.T) {
	r, sess := newTestRouter(t, "")

	if w := do(r, http.MethodPost, "/messages", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty body, got %d", w.Code)
	}
	w := do(r, http.MethodPost, "/messages", `{"content":"hello"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Content != "hello" {
		t.Errorf("Unexpected messages %+v", resp.Messages)
	}

	sess.sendErr = chat.ErrNotConnected
	if w := do(r, http.MethodPost, "/messages", `{"content":"again"}`, nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 when not connected, got %d", w.Code)
	}
}

func TestToggles(t *testing.T) {
	r, sess := newTestRouter(t, "")

	if w := do(r, http.MethodPost, "/session/mic", "", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 in text mode, got %d", w.Code)
	}
	sess.mic = true
	w := do(r, http.MethodPost, "/session/mic", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"streaming":true`) {
		t.Errorf("Unexpected mic response %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodPost, "/session/input-mode", "", nil)
	if !strings.Contains(w.Body.String(), `"inputMode":"audio"`) {
		t.Errorf("Unexpected input mode response %s", w.Body.String())
	}
	if w := do(r, http.MethodPost, "/session/restart", "", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 on restart, got %d", w.Code)
	}
}

func TestJWTGuard(t *testing.T) {
	const secret = "s3cret"
	r, _ := newTestRouter(t, secret)

	if w := do(r, http.MethodGet, "/session", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("Health should stay open, got %d", w.Code)
	}

	sign := func(key string, method jwt.SigningMethod) string {
		tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		s, err := tok.SignedString([]byte(key))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	bad := http.Header{"Authorization": {"Bearer " + sign("other", jwt.SigningMethodHS256)}}
	if w := do(r, http.MethodGet, "/session", "", bad); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong key, got %d", w.Code)
	}
	wrongAlg := http.Header{"Authorization": {"Bearer " + sign(secret, jwt.SigningMethodHS512)}}
	if w := do(r, http.MethodGet, "/session", "", wrongAlg); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for non-HS256 token, got %d", w.Code)
	}
	good := http.Header{"Authorization": {"Bearer " + sign(secret, jwt.SigningMethodHS256)}}
	w := do(r, http.MethodGet, "/session", "", good)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"state":"ready"`) {
		t.Errorf("Expected session with valid token, got %d %s", w.Code, w.Body.String())
	}
}

func TestEventFeed(t *testing.T) {
	r, sess, events := newTestRouterWithEvents(t, "")
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg struct {
		Type     string          `json:"type"`
		Data     json.RawMessage `json:"data"`
		Sequence uint64          `json:"sequence"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Read snapshot: %v", err)
	}
	if msg.Type != "snapshot" || !strings.Contains(string(msg.Data), `"ready"`) {
		t.Errorf("Expected snapshot first, got %s %s", msg.Type, msg.Data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for events.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sess.publish(chat.Event{Kind: chat.EventNotification, Notification: &chat.Notification{Level: chat.LevelInfo, Title: "hi"}})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Read event: %v", err)
	}
	if msg.Type != "notification" || msg.Sequence < 2 {
		t.Errorf("Expected notification event, got %s seq=%d", msg.Type, msg.Sequence)
	}
}
