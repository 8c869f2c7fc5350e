package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/agentcall/pkg/Logger"
)

var (
	ErrSessionClosed = errors.New("session not active")
	ErrSlowConsumer  = errors.New("client send buffer full")
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = (pongTimeout * 9) / 10
)

// Session is one connected event feed client.
type Session struct {
	SessionID   uuid.UUID
	Conn        *websocket.Conn
	ConnectedAt time.Time

	logger *Logger.Logger
	send   chan WSMessage
	done   chan struct{}
	once   sync.Once

	mutex      sync.RWMutex
	lastActive time.Time
	IsActive   bool
	sequence   uint64
}

func NewSession(conn *websocket.Conn, logger *Logger.Logger) *Session {
	now := time.Now()
	return &Session{
		SessionID:   uuid.New(),
		Conn:        conn,
		ConnectedAt: now,
		logger:      logger,
		send:        make(chan WSMessage, sendBuffer),
		done:        make(chan struct{}),
		lastActive:  now,
		IsActive:    true,
	}
}

// SendWebSocketMessage queues a message for the client without blocking.
func (s *Session) SendWebSocketMessage(msgType MessageType, data interface{}) error {
	s.mutex.Lock()
	if !s.IsActive {
		s.mutex.Unlock()
		return ErrSessionClosed
	}
	s.sequence++
	msg := WSMessage{
		Type:      msgType,
		Data:      data,
		SessionID: s.SessionID.String(),
		Sequence:  s.sequence,
		Timestamp: time.Now(),
	}
	s.mutex.Unlock()

	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

// SendError sends an error message to the client
func (s *Session) SendError(code, message string) error {
	return s.SendWebSocketMessage(MessageTypeError, ErrorMessage{Code: code, Message: message})
}

// WritePump drains queued messages to the socket and keeps it alive with
// pings. It returns when the session closes or a write fails.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-s.send:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.Conn.WriteJSON(msg); err != nil {
				s.logger.Debugf("event feed write failed for %s: %v", s.SessionID, err)
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// ReadPump consumes client frames until the connection drops. The feed is
// one-way, so inbound payloads only refresh activity.
func (s *Session) ReadPump() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.Conn.SetPongHandler(func(string) error {
		s.UpdateLastActive()
		return s.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugf("event feed read error for %s: %v", s.SessionID, err)
			}
			return
		}
		s.UpdateLastActive()
	}
}

// UpdateLastActive updates the last activity timestamp
func (s *Session) UpdateLastActive() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActive = time.Now()
}

// IsExpired reports whether the client has been silent longer than timeout
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastActive) > timeout
}

// Close stops the pumps and closes the socket. Safe to call repeatedly.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.mutex.Lock()
		s.IsActive = false
		s.mutex.Unlock()
		close(s.done)
		_ = s.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.Conn.Close()
	})
	return err
}
