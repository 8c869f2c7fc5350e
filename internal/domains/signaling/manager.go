package signaling

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xpanvictor/agentcall/internal/protocol"
	"github.com/xpanvictor/agentcall/pkg/Logger"
	"github.com/xpanvictor/agentcall/pkg/io/channel"
	"github.com/xpanvictor/agentcall/pkg/utils/clock"
)

var ErrNotConnected = errors.New("signaling channel not connected")

type Config struct {
	Endpoint string
	APIKey   string
	Backoff  channel.Backoff
}

// Manager owns the signaling socket to the agent: it connects, dispatches
// inbound frames by kind and answers keepalive pings.
type Manager struct {
	cfg     Config
	dialer  channel.Dialer
	clock   clock.Clock
	handler Handler
	logger  *Logger.Logger

	mu      sync.Mutex
	ch      *channel.Channel
	agentID string
}

func NewManager(cfg Config, dialer channel.Dialer, clk clock.Clock, handler Handler, logger *Logger.Logger) *Manager {
	if logger == nil {
		logger = Logger.Nop()
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		clock:   clk,
		handler: handler,
		logger:  logger.Named("signaling"),
	}
}

// Connect opens the channel for agentID. It is a no-op while a connection
// is in progress or open.
func (m *Manager) Connect(agentID string) {
	m.mu.Lock()
	if m.ch == nil || m.agentID != agentID {
		if m.ch != nil {
			_ = m.ch.Close()
		}
		m.agentID = agentID
		m.ch = channel.New(channel.Config{
			Name:     "signaling",
			Endpoint: m.cfg.Endpoint,
			APIKey:   m.cfg.APIKey,
			AgentID:  agentID,
			Backoff:  m.cfg.Backoff,
		}, m.dialer, m.clock, channel.Funcs{
			Open:         m.onOpen,
			Message:      m.onMessage,
			Closed:       m.onClose,
			Reconnecting: m.onReconnecting,
			GiveUp:       m.onGiveUp,
			Error:        m.onError,
		}, m.logger)
	}
	ch := m.ch
	m.mu.Unlock()

	switch ch.State() {
	case channel.StateConnecting, channel.StateOpen:
		return
	}
	m.handler.OnStatus(StatusEvent{Status: StatusConnecting})
	ch.Connect()
}

func (m *Manager) current() *channel.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch
}

func (m *Manager) IsOpen() bool {
	ch := m.current()
	return ch != nil && ch.IsOpen()
}

// Send encodes and writes one frame. It fails with ErrNotConnected unless
// the channel is open.
func (m *Manager) Send(frame interface{}) error {
	ch := m.current()
	if ch == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	if err := ch.Send(data); err != nil {
		if errors.Is(err, channel.ErrNotOpen) {
			return ErrNotConnected
		}
		return fmt.Errorf("signaling send: %w", err)
	}
	return nil
}

func (m *Manager) SendMessage(text string, audioEnabled bool) error {
	return m.Send(protocol.NewMessage(text, audioEnabled))
}

// Close shuts the channel with a normal closure and cancels pending retries.
func (m *Manager) Close() error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

func (m *Manager) onOpen(clientID string) {
	m.logger.Infof("signaling connected client=%s", clientID)
	m.handler.OnStatus(StatusEvent{Status: StatusConnected})
}

func (m *Manager) onMessage(data []byte) {
	frame, err := protocol.DecodeSignaling(data)
	if err != nil {
		m.logger.Warnf("dropping frame: %v", err)
		return
	}

	switch frame.Type {
	case protocol.TypeAgentInfo:
		info, err := frame.AgentInfo()
		if err != nil {
			m.logger.Warnf("dropping agent_info: %v", err)
			return
		}
		m.handler.OnAgentInfo(info)
	case protocol.TypeText:
		m.handler.OnText(frame.Text())
	case protocol.TypeAudio:
		if p := frame.AudioPayload(); p != "" {
			m.handler.OnAudio(p)
		}
	case protocol.TypeStreamChunk:
		m.handler.OnStreamChunk(frame.Chunk())
	case protocol.TypeStreamEnd:
		m.handler.OnStreamEnd(frame.MsgID)
	case protocol.TypeError:
		m.handler.OnServerError(frame.Text())
	case protocol.TypePing:
		if err := m.Send(protocol.Pong()); err != nil {
			m.logger.Debugf("pong not sent: %v", err)
		}
	case protocol.TypeConnectionAck, protocol.TypePong:
		m.logger.Debugf("received %s", frame.Type)
	default:
		m.logger.Debugf("ignoring unknown frame type %q", frame.Type)
	}
}

func (m *Manager) onClose(code int, terminal bool) {
	if !terminal {
		return
	}
	switch {
	case channel.IsAuthFailure(code):
		m.handler.OnStatus(StatusEvent{Status: StatusAuthError, Code: code})
	case code == channel.CloseNormal:
		m.handler.OnStatus(StatusEvent{Status: StatusDisconnected, Code: code})
	}
}

func (m *Manager) onReconnecting(attempt int, delay time.Duration) {
	m.handler.OnStatus(StatusEvent{Status: StatusReconnecting, Attempt: attempt, Delay: delay})
}

func (m *Manager) onGiveUp() {
	m.handler.OnStatus(StatusEvent{Status: StatusFailed})
}

func (m *Manager) onError(err error) {
	m.handler.OnStatus(StatusEvent{Status: StatusError, Err: err})
}
