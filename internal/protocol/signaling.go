package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType is the "type" discriminator shared by both socket protocols.
type FrameType string

// Signaling channel kinds.
const (
	TypeAgentInfo     FrameType = "agent_info"
	TypeText          FrameType = "text"
	TypeAudio         FrameType = "audio"
	TypeStreamChunk   FrameType = "stream_chunk"
	TypeStreamEnd     FrameType = "stream_end"
	TypeError         FrameType = "error"
	TypePing          FrameType = "ping"
	TypePong          FrameType = "pong"
	TypeConnectionAck FrameType = "connection_ack"
	TypeMessage       FrameType = "message"
)

// SignalingFrame is the union of every inbound signaling kind. Only the
// fields relevant to Type are populated.
type SignalingFrame struct {
	Type         FrameType       `json:"type"`
	Message      string          `json:"message,omitempty"`
	Content      string          `json:"content,omitempty"`
	Audio        string          `json:"audio,omitempty"`
	MsgID        string          `json:"msg_id,omitempty"`
	TextContent  string          `json:"text_content,omitempty"`
	AudioContent string          `json:"audio_content,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Text returns the body of a one-shot text reply.
func (f SignalingFrame) Text() string {
	if f.Message != "" {
		return f.Message
	}
	return f.Content
}

// AudioPayload returns the base64 clip of a one-shot audio reply.
func (f SignalingFrame) AudioPayload() string {
	if f.Audio != "" {
		return f.Audio
	}
	return f.AudioContent
}

// AgentInfo decodes the opaque agent metadata carried by agent_info.
func (f SignalingFrame) AgentInfo() (map[string]interface{}, error) {
	info := map[string]interface{}{}
	if len(f.Data) == 0 {
		return info, nil
	}
	if err := Decode(f.Data, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// StreamChunk is one piece of a streamed reply, shared by both channels.
type StreamChunk struct {
	MsgID        string
	TextContent  string
	AudioContent string
}

func (f SignalingFrame) Chunk() StreamChunk {
	return StreamChunk{MsgID: f.MsgID, TextContent: f.TextContent, AudioContent: f.AudioContent}
}

// OutboundMessage carries user text to the agent.
type OutboundMessage struct {
	Type         FrameType `json:"type"`
	Message      string    `json:"message"`
	AudioEnabled bool      `json:"audio_enabled"`
}

func NewMessage(text string, audioEnabled bool) OutboundMessage {
	return OutboundMessage{Type: TypeMessage, Message: text, AudioEnabled: audioEnabled}
}

type Control struct {
	Type FrameType `json:"type"`
}

func Pong() Control { return Control{Type: TypePong} }
func Ping() Control { return Control{Type: TypePing} }

// DecodeSignaling parses an inbound signaling frame.
func DecodeSignaling(data []byte) (SignalingFrame, error) {
	var f SignalingFrame
	if err := Decode(data, &f); err != nil {
		return f, err
	}
	if f.Type == "" {
		return f, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}
