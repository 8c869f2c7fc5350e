package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/agentcall/internal/domains/chat"
	"github.com/xpanvictor/agentcall/pkg/Logger"
)

// EventSource is the chat session being observed.
type EventSource interface {
	Subscribe(obs chat.Observer) func()
	Snapshot() chat.Snapshot
}

// EventsHandler streams chat session events to websocket clients
type EventsHandler struct {
	logger            *Logger.Logger
	source            EventSource
	connectionManager *ConnectionManager
	upgrader          websocket.Upgrader
	unsubscribe       func()
}

func NewEventsHandler(source EventSource, logger *Logger.Logger) *EventsHandler {
	h := &EventsHandler{
		logger:            logger.Named("events"),
		source:            source,
		connectionManager: NewConnectionManager(logger.Named("events")),
		upgrader: websocket.Upgrader{
			// local control surface; any origin may watch
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	h.unsubscribe = source.Subscribe(h.forward)
	return h
}

func messageType(kind chat.EventKind) MessageType {
	switch kind {
	case chat.EventState:
		return MessageTypeState
	case chat.EventNotification:
		return MessageTypeNotification
	case chat.EventTranscript:
		return MessageTypeTranscript
	case chat.EventInterim:
		return MessageTypeInterim
	case chat.EventAgentInfo:
		return MessageTypeAgentInfo
	}
	return MessageType(kind)
}

func (h *EventsHandler) forward(ev chat.Event) {
	h.connectionManager.BroadcastMessage(messageType(ev.Kind), ev)
}

// RegisterRoutes registers the event feed routes
func (h *EventsHandler) RegisterRoutes(router gin.IRouter) {
	ws := router.Group("/ws")
	{
		ws.GET("/events", h.HandleEvents)
		ws.GET("/stats", h.HandleStats)
	}
}

// HandleEvents upgrades the request and streams session events until the
// client disconnects. The snapshot is taken after the client is registered,
// so every later event reaches it.
func (h *EventsHandler) HandleEvents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	session := NewSession(conn, h.logger)
	h.connectionManager.RegisterConnection(session)
	defer h.connectionManager.UnregisterConnection(session.SessionID)
	if err := session.SendWebSocketMessage(MessageTypeSnapshot, h.source.Snapshot()); err != nil {
		h.logger.Warnf("initial snapshot not queued: %v", err)
	}

	go session.WritePump()
	session.ReadPump()
}

// HandleStats reports connected feed clients
func (h *EventsHandler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.connectionManager.GetStats())
}

// Clients returns the number of connected feed clients
func (h *EventsHandler) Clients() int {
	return h.connectionManager.GetSessionCount()
}

// Close disconnects every client and stops observing the session
func (h *EventsHandler) Close() error {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	return h.connectionManager.Close()
}
