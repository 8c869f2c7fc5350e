package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/agentcall/pkg/Logger"
)

// ConnectionManager tracks event feed clients and fans messages out to them
type ConnectionManager struct {
	logger         *Logger.Logger
	sessions       map[uuid.UUID]*Session
	mutex          sync.RWMutex
	cleanupTicker  *time.Ticker
	stopCleanup    chan struct{}
	closeOnce      sync.Once
	sessionTimeout time.Duration
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(logger *Logger.Logger) *ConnectionManager {
	cm := &ConnectionManager{
		logger:         logger,
		sessions:       make(map[uuid.UUID]*Session),
		stopCleanup:    make(chan struct{}),
		sessionTimeout: 2 * pongTimeout,
	}
	cm.startCleanupRoutine()
	return cm
}

// RegisterConnection registers a new session
func (cm *ConnectionManager) RegisterConnection(session *Session) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.sessions[session.SessionID] = session
	cm.logger.Infof("Registered event feed client %s", session.SessionID)
}

// UnregisterConnection removes and closes a session
func (cm *ConnectionManager) UnregisterConnection(id uuid.UUID) {
	cm.mutex.Lock()
	session, exists := cm.sessions[id]
	delete(cm.sessions, id)
	cm.mutex.Unlock()

	if !exists {
		return
	}
	cm.logger.Infof("Unregistering event feed client %s", id)
	if err := session.Close(); err != nil {
		cm.logger.Debugf("Error closing client %s: %v", id, err)
	}
}

// GetSessionCount returns the number of active sessions
func (cm *ConnectionManager) GetSessionCount() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.sessions)
}

// BroadcastMessage sends a message to all connected clients. Clients that
// cannot keep up are dropped.
func (cm *ConnectionManager) BroadcastMessage(msgType MessageType, data interface{}) {
	cm.mutex.RLock()
	sessions := make([]*Session, 0, len(cm.sessions))
	for _, session := range cm.sessions {
		sessions = append(sessions, session)
	}
	cm.mutex.RUnlock()

	for _, session := range sessions {
		err := session.SendWebSocketMessage(msgType, data)
		switch {
		case err == nil:
		case errors.Is(err, ErrSlowConsumer):
			cm.logger.Warnf("Dropping slow event feed client %s", session.SessionID)
			go cm.UnregisterConnection(session.SessionID)
		default:
			cm.logger.Debugf("Failed to send %s to client %s: %v", msgType, session.SessionID, err)
		}
	}
}

// startCleanupRoutine starts a goroutine to clean up silent clients
func (cm *ConnectionManager) startCleanupRoutine() {
	cm.cleanupTicker = time.NewTicker(pongTimeout)

	go func() {
		for {
			select {
			case <-cm.cleanupTicker.C:
				cm.cleanupExpiredSessions()
			case <-cm.stopCleanup:
				cm.cleanupTicker.Stop()
				return
			}
		}
	}()
}

func (cm *ConnectionManager) cleanupExpiredSessions() {
	cm.mutex.Lock()
	expired := make([]*Session, 0)
	for id, session := range cm.sessions {
		if session.IsExpired(cm.sessionTimeout) {
			expired = append(expired, session)
			delete(cm.sessions, id)
		}
	}
	cm.mutex.Unlock()

	for _, session := range expired {
		cm.logger.Infof("Cleaning up silent client %s", session.SessionID)
		_ = session.Close()
	}
}

// Close shuts down the connection manager
func (cm *ConnectionManager) Close() error {
	cm.closeOnce.Do(func() { close(cm.stopCleanup) })

	cm.mutex.Lock()
	sessions := cm.sessions
	cm.sessions = make(map[uuid.UUID]*Session)
	cm.mutex.Unlock()

	for id, session := range sessions {
		if err := session.Close(); err != nil {
			cm.logger.Debugf("Error closing client %s: %v", id, err)
		}
	}
	cm.logger.Infof("Connection manager closed")
	return nil
}

// GetStats returns connection manager statistics
func (cm *ConnectionManager) GetStats() map[string]interface{} {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return map[string]interface{}{
		"clients":        len(cm.sessions),
		"sessionTimeout": cm.sessionTimeout.String(),
	}
}
