package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeSnapshot     MessageType = "snapshot"
	MessageTypeState        MessageType = "state"
	MessageTypeNotification MessageType = "notification"
	MessageTypeTranscript   MessageType = "transcript"
	MessageTypeInterim      MessageType = "interim"
	MessageTypeAgentInfo    MessageType = "agent_info"
	MessageTypeError        MessageType = "error"
)

// WSMessage represents the structure of WebSocket messages
type WSMessage struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Sequence  uint64      `json:"sequence,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorMessage contains error information
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
