package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/agentcall/internal/domains/chat"
	"github.com/xpanvictor/agentcall/pkg/Logger"
	"github.com/xpanvictor/agentcall/pkg/io/capture"
)

// SessionService is the chat session driven by the control API.
type SessionService interface {
	Start(agentID string) error
	Restart(agentID string) error
	End() error
	SendText(text string) error
	ToggleMic(ctx context.Context) (bool, error)
	ToggleAudioOutput() (bool, error)
	ToggleInputMode() (chat.InputMode, error)
	Snapshot() chat.Snapshot
	Messages() []chat.Message
}

type SessionHandler struct {
	session        SessionService
	defaultAgentID string
	logger         *Logger.Logger
}

func NewSessionHandler(session SessionService, defaultAgentID string, logger *Logger.Logger) *SessionHandler {
	return &SessionHandler{session: session, defaultAgentID: defaultAgentID, logger: logger}
}

// GetSession returns the current session snapshot
// @Summary Current session
// @Tags Session
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SessionResponse
// @Router /session [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, SessionResponse{Session: h.session.Snapshot()})
}

func (h *SessionHandler) agentID(c *gin.Context) (string, bool) {
	var req StartSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request data",
				Details: err.Error(),
			})
			return "", false
		}
	}
	if req.AgentID == "" {
		req.AgentID = h.defaultAgentID
	}
	return req.AgentID, true
}

// StartSession connects to an agent
// @Summary Start a session
// @Tags Session
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body StartSessionRequest false "Agent to call"
// @Success 202 {object} SessionResponse
// @Failure 400 {object} ErrorResponse "Missing agent id"
// @Failure 409 {object} ErrorResponse "Session already running"
// @Router /session/start [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	agentID, ok := h.agentID(c)
	if !ok {
		return
	}
	if err := h.session.Start(agentID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SessionResponse{Session: h.session.Snapshot()})
}

// RestartSession replaces an ended or failed session with a fresh one
// @Summary Restart the session
// @Tags Session
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body StartSessionRequest false "Agent to call, defaults to the previous one"
// @Success 202 {object} SessionResponse
// @Failure 409 {object} ErrorResponse "Session still active"
// @Router /session/restart [post]
func (h *SessionHandler) RestartSession(c *gin.Context) {
	var req StartSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request data", Details: err.Error()})
			return
		}
	}
	if err := h.session.Restart(req.AgentID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SessionResponse{Session: h.session.Snapshot()})
}

// EndSession tears the session down
// @Summary End the session
// @Tags Session
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SessionResponse
// @Router /session/end [post]
func (h *SessionHandler) EndSession(c *gin.Context) {
	if err := h.session.End(); err != nil {
		if errors.Is(err, chat.ErrStopped) {
			h.fail(c, err)
			return
		}
		// teardown problems are reported, the session is ended regardless
		h.logger.Warnf("session ended with errors: %v", err)
	}
	c.JSON(http.StatusOK, SessionResponse{Session: h.session.Snapshot()})
}

// ListMessages returns the transcript
// @Summary Session transcript
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MessagesResponse
// @Router /messages [get]
func (h *SessionHandler) ListMessages(c *gin.Context) {
	c.JSON(http.StatusOK, MessagesResponse{Messages: h.session.Messages()})
}

// SendMessage sends a text message to the agent
// @Summary Send a message
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SendMessageRequest true "Message"
// @Success 201 {object} MessagesResponse
// @Failure 400 {object} ErrorResponse "Invalid request data"
// @Failure 409 {object} ErrorResponse "Not connected"
// @Router /messages [post]
func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}
	if err := h.session.SendText(req.Content); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, MessagesResponse{Messages: h.session.Messages()})
}

// ToggleMic starts or stops the microphone stream
// @Summary Toggle microphone
// @Tags Session
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MicResponse
// @Failure 409 {object} ErrorResponse "Not in audio mode or not connected"
// @Failure 503 {object} ErrorResponse "Microphone unavailable"
// @Router /session/mic [post]
func (h *SessionHandler) ToggleMic(c *gin.Context) {
	on, err := h.session.ToggleMic(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, MicResponse{Streaming: on})
}

// ToggleAudioOutput mutes or unmutes agent audio
// @Summary Toggle audio output
// @Tags Session
// @Produce json
// @Security BearerAuth
// @Success 200 {object} AudioOutputResponse
// @Router /session/audio-output [post]
func (h *SessionHandler) ToggleAudioOutput(c *gin.Context) {
	on, err := h.session.ToggleAudioOutput()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AudioOutputResponse{Enabled: on})
}

// ToggleInputMode switches between text and audio input
// @Summary Toggle input mode
// @Tags Session
// @Produce json
// @Security BearerAuth
// @Success 200 {object} InputModeResponse
// @Router /session/input-mode [post]
func (h *SessionHandler) ToggleInputMode(c *gin.Context) {
	mode, err := h.session.ToggleInputMode()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, InputModeResponse{InputMode: mode})
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrMissingAgent), errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request data", Details: err.Error()})
	case errors.Is(err, chat.ErrInvalidState), errors.Is(err, chat.ErrTextMode),
		errors.Is(err, chat.ErrNotConnected), errors.Is(err, chat.ErrMicUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Operation not allowed now", Details: err.Error()})
	case errors.Is(err, capture.ErrPermissionDenied), errors.Is(err, capture.ErrMicrophoneUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Microphone unavailable", Details: err.Error()})
	case errors.Is(err, chat.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Session loop not running"})
	default:
		h.logger.Errorf("session operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Details: err.Error()})
	}
}
