package handlers

import "github.com/xpanvictor/agentcall/internal/domains/chat"

// Response wrapper types for the control API

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Message string `json:"message" example:"Operation completed successfully"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Something went wrong"`
	Details string `json:"details,omitempty" example:"Validation error details"`
}

// StartSessionRequest is the body of POST /session/start and /session/restart
type StartSessionRequest struct {
	AgentID string `json:"agent_id" example:"agent-42"`
}

// SendMessageRequest is the body of POST /messages
type SendMessageRequest struct {
	Content string `json:"content" binding:"required" example:"Hello there"`
}

// SessionResponse wraps the current session snapshot
type SessionResponse struct {
	Session chat.Snapshot `json:"session"`
}

// MessagesResponse lists the transcript of the current session
type MessagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

// MicResponse reports the microphone after a toggle
type MicResponse struct {
	Streaming bool `json:"streaming"`
}

// AudioOutputResponse reports audio playback after a toggle
type AudioOutputResponse struct {
	Enabled bool `json:"enabled"`
}

// InputModeResponse reports the input mode after a toggle
type InputModeResponse struct {
	InputMode chat.InputMode `json:"inputMode"`
}
