package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/xpanvictor/agentcall/internal/domains/media"
	"github.com/xpanvictor/agentcall/internal/domains/signaling"
	"github.com/xpanvictor/agentcall/internal/protocol"
	"github.com/xpanvictor/agentcall/pkg/io/playback"
)

type EventKind string

const (
	EventState        EventKind = "state"
	EventNotification EventKind = "notification"
	EventTranscript   EventKind = "transcript"
	EventInterim      EventKind = "interim"
	EventAgentInfo    EventKind = "agent_info"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notification struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Event is what observers see of the session.
type Event struct {
	Kind         EventKind              `json:"kind"`
	State        State                  `json:"state,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Notification *Notification          `json:"notification,omitempty"`
	Message      *Message               `json:"message,omitempty"`
	Text         string                 `json:"text,omitempty"`
	AgentInfo    map[string]interface{} `json:"agentInfo,omitempty"`
	At           time.Time              `json:"at"`
}

// Observer is called on the session loop and must not block.
type Observer func(Event)

// Subscribe registers obs and returns a function removing it.
func (o *Orchestrator) Subscribe(obs Observer) func() {
	o.obsMu.Lock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = obs
	o.obsMu.Unlock()
	return func() {
		o.obsMu.Lock()
		delete(o.observers, id)
		o.obsMu.Unlock()
	}
}

func (o *Orchestrator) emit(ev Event) {
	ev.At = o.clock.Now()
	o.obsMu.RLock()
	obs := make([]Observer, 0, len(o.observers))
	for _, fn := range o.observers {
		obs = append(obs, fn)
	}
	o.obsMu.RUnlock()
	for _, fn := range obs {
		fn(ev)
	}
}

func (o *Orchestrator) notify(level Level, title, message string) {
	o.emit(Event{Kind: EventNotification, Notification: &Notification{Level: level, Title: title, Message: message}})
}

// signalingEvents forwards chat signaling callbacks onto the loop, bound
// to the session that created them.
type signalingEvents struct {
	o *Orchestrator
	s *session
}

func (h *signalingEvents) run(fn func()) {
	h.o.post(func() {
		if h.o.sess != h.s || h.s.closed {
			return
		}
		fn()
	})
}

func (h *signalingEvents) OnStatus(ev signaling.StatusEvent) {
	h.run(func() { h.o.onSignalingStatus(h.s, ev) })
}

func (h *signalingEvents) OnAgentInfo(info map[string]interface{}) {
	h.run(func() {
		h.o.agentInfo = info
		h.o.emit(Event{Kind: EventAgentInfo, AgentInfo: info})
	})
}

func (h *signalingEvents) OnText(text string) {
	h.run(func() {
		msg := h.o.transcript.AddAssistant(text)
		h.o.emit(Event{Kind: EventTranscript, Message: &msg})
	})
}

func (h *signalingEvents) OnAudio(payload string) {
	h.run(func() { h.o.playClip(h.s, payload) })
}

func (h *signalingEvents) OnStreamChunk(c protocol.StreamChunk) {
	h.run(func() { h.o.onChunk(h.s, c) })
}

func (h *signalingEvents) OnStreamEnd(msgID string) {
	h.run(func() { h.o.onStreamEnd(msgID) })
}

func (h *signalingEvents) OnServerError(message string) {
	h.run(func() {
		h.o.log.Warnf("agent error: %s", message)
		msg := h.o.transcript.AddSystem(message, map[string]interface{}{"source": "agent", "level": string(LevelError)})
		h.o.emit(Event{Kind: EventTranscript, Message: &msg})
		h.o.notify(LevelError, "Agent error", message)
	})
}

type mediaEvents struct {
	o *Orchestrator
	s *session
}

func (h *mediaEvents) run(fn func()) {
	h.o.post(func() {
		if h.o.sess != h.s || h.s.closed {
			return
		}
		fn()
	})
}

func (h *mediaEvents) OnPhase(p media.Phase) {
	h.run(func() { h.o.onMediaPhase(h.s, p) })
}

func (h *mediaEvents) OnAudioResponse(status, streamID string) {
	h.run(func() { h.o.log.Debugf("audio stream %s: %s", streamID, status) })
}

func (h *mediaEvents) OnStreamChunk(c protocol.StreamChunk) {
	h.run(func() { h.o.onChunk(h.s, c) })
}

func (h *mediaEvents) OnStreamEnd(msgID string) {
	h.run(func() { h.o.onStreamEnd(msgID) })
}

func (h *mediaEvents) OnError(err error) {
	h.run(func() { h.o.onMediaError(h.s, err) })
}

func (o *Orchestrator) onSignalingStatus(s *session, ev signaling.StatusEvent) {
	switch ev.Status {
	case signaling.StatusConnecting:
		o.setStatus("Connecting...")
	case signaling.StatusConnected:
		o.status = "Connected"
		if o.transition(evConnected) {
			o.notify(LevelSuccess, "Connected", "Connected to agent")
		}
		o.scheduleMedia(s)
	case signaling.StatusReconnecting:
		o.dropMic(s)
		o.status = fmt.Sprintf("Reconnecting (attempt %d)...", ev.Attempt)
		if !o.transition(evDrop) {
			o.setStatus(o.status)
		}
		o.notify(LevelWarning, "Reconnecting", fmt.Sprintf("Connection lost, retrying in %s (attempt %d)", ev.Delay, ev.Attempt))
	case signaling.StatusDisconnected:
		o.dropMic(s)
		o.status = "Disconnected"
		if o.transition(evDrop) {
			o.notify(LevelWarning, "Disconnected", "Connection closed")
		}
	case signaling.StatusAuthError:
		o.fail(s, "Authentication Error", fmt.Sprintf("Agent rejected credentials (code %d)", ev.Code))
	case signaling.StatusFailed:
		o.fail(s, "Connection failed", "Unable to reach the agent after several attempts")
	case signaling.StatusError:
		if ev.Err != nil {
			o.log.Warnf("signaling transport: %v", ev.Err)
		}
		o.setStatus("Connection error")
	}
}

func (o *Orchestrator) onMediaPhase(s *session, p media.Phase) {
	switch p {
	case media.Connected:
		if o.current() == StateStreamingAudio && !s.media.Streaming() {
			o.stopMic(s)
		}
	case media.Disconnected, media.Failed:
		o.dropMic(s)
	}
}

func (o *Orchestrator) onMediaError(s *session, err error) {
	o.log.Errorf("media session: %v", err)
	switch {
	case errors.Is(err, media.ErrUnauthorized):
		o.fail(s, "Authentication Error", "Voice channel rejected credentials")
	case errors.Is(err, media.ErrRetriesExhausted):
		o.fail(s, "Voice channel failed", "Unable to reach the voice channel after several attempts")
	case errors.Is(err, media.ErrICEFailed):
		o.fail(s, "Voice channel failed", "Media connection could not be established")
	default:
		o.notify(LevelWarning, "Voice channel", err.Error())
	}
}

// dropMic leaves streaming_audio when the link under the stream went away.
func (o *Orchestrator) dropMic(s *session) {
	if o.current() == StateStreamingAudio {
		o.stopMic(s)
	}
}

func (o *Orchestrator) fail(s *session, title, message string) {
	o.dropMic(s)
	o.status = title
	o.transition(evFail)
	o.notify(LevelError, title, message)
}

func (o *Orchestrator) onChunk(s *session, c protocol.StreamChunk) {
	if c.TextContent != "" {
		msg := o.transcript.AppendChunk(c.MsgID, c.TextContent)
		o.emit(Event{Kind: EventTranscript, Message: &msg})
	}
	if c.AudioContent != "" && o.audioOut {
		if err := s.playback.EnqueueChunk(c.AudioContent); err != nil && !errors.Is(err, playback.ErrDisabled) {
			o.log.Debugf("chunk audio dropped: %v", err)
		}
	}
}

func (o *Orchestrator) onStreamEnd(msgID string) {
	msg, ok := o.transcript.Finalize(msgID)
	if !ok {
		o.log.Debugf("stream_end for unknown message %s", msgID)
		return
	}
	o.emit(Event{Kind: EventTranscript, Message: &msg})
}

func (o *Orchestrator) playClip(s *session, payload string) {
	if !o.audioOut {
		return
	}
	if err := s.playback.PlayClip(payload); err != nil && !errors.Is(err, playback.ErrDisabled) {
		o.log.Warnf("audio clip dropped: %v", err)
	}
}
