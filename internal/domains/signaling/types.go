package signaling

import (
	"time"

	"github.com/xpanvictor/agentcall/internal/protocol"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
	StatusAuthError    Status = "auth_error"
	StatusFailed       Status = "failed"
	StatusError        Status = "error"
)

// StatusEvent reports a connection state change of the signaling channel.
type StatusEvent struct {
	Status  Status
	Attempt int
	Delay   time.Duration
	Code    int
	Err     error
}

// Handler receives dispatched signaling frames and status changes.
type Handler interface {
	OnStatus(ev StatusEvent)
	OnAgentInfo(info map[string]interface{})
	OnText(text string)
	OnAudio(payload string)
	OnStreamChunk(chunk protocol.StreamChunk)
	OnStreamEnd(msgID string)
	OnServerError(message string)
}
