package protocol

import (
	"encoding/json"
	"fmt"
)

// Media-signaling channel kinds.
const (
	TypeConfig        FrameType = "config"
	TypeConfigRequest FrameType = "config_request"
	TypeSignal        FrameType = "signal"
	TypeAudioResponse FrameType = "audio_response"
)

// Audio stream actions on the media channel.
type AudioAction string

const (
	ActionStartStream AudioAction = "start_stream"
	ActionAudioChunk  AudioAction = "audio_chunk"
	ActionEndStream   AudioAction = "end_stream"
)

// RemotePeerServer is the well-known peer id of the media server.
const RemotePeerServer = "server"

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// UnmarshalJSON accepts "urls" as either a string or a list, matching the
// browser RTCIceServer shape.
func (s *ICEServer) UnmarshalJSON(data []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := api.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Username = raw.Username
	s.Credential = raw.Credential
	s.URLs = nil
	if len(raw.URLs) == 0 {
		return nil
	}
	var single string
	if err := api.Unmarshal(raw.URLs, &single); err == nil {
		s.URLs = []string{single}
		return nil
	}
	return api.Unmarshal(raw.URLs, &s.URLs)
}

// MediaFrame is the union of every inbound media-signaling kind.
type MediaFrame struct {
	Type         FrameType       `json:"type"`
	ICEServers   []ICEServer     `json:"ice_servers,omitempty"`
	FromPeer     string          `json:"from_peer,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Status       string          `json:"status,omitempty"`
	StreamID     string          `json:"stream_id,omitempty"`
	MsgID        string          `json:"msg_id,omitempty"`
	TextContent  string          `json:"text_content,omitempty"`
	AudioContent string          `json:"audio_content,omitempty"`
}

func (f MediaFrame) Chunk() StreamChunk {
	return StreamChunk{MsgID: f.MsgID, TextContent: f.TextContent, AudioContent: f.AudioContent}
}

// SignalData is the payload of a signal frame: either a session description
// or an ICE candidate.
type SignalData struct {
	Type             string  `json:"type,omitempty"`
	SDP              string  `json:"sdp,omitempty"`
	Candidate        string  `json:"candidate,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (d SignalData) IsDescription() bool {
	return d.Type == "offer" || d.Type == "answer"
}

func (d SignalData) IsCandidate() bool {
	return d.Candidate != ""
}

// Signal decodes the data of a signal frame.
func (f MediaFrame) Signal() (SignalData, error) {
	var d SignalData
	if len(f.Data) == 0 {
		return d, fmt.Errorf("%w: signal without data", ErrMalformedFrame)
	}
	if err := Decode(f.Data, &d); err != nil {
		return d, err
	}
	return d, nil
}

type ConfigRequest struct {
	Type FrameType `json:"type"`
}

func NewConfigRequest() ConfigRequest { return ConfigRequest{Type: TypeConfigRequest} }

type OutboundSignal struct {
	Type   FrameType  `json:"type"`
	ToPeer string     `json:"to_peer"`
	Data   SignalData `json:"data"`
}

func NewSignal(data SignalData) OutboundSignal {
	return OutboundSignal{Type: TypeSignal, ToPeer: RemotePeerServer, Data: data}
}

// StreamMetadata describes the PCM stream announced by start_stream.
type StreamMetadata struct {
	Format     string `json:"format"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	AgentID    string `json:"agent_id"`
	Timestamp  int64  `json:"timestamp"`
}

type ChunkData struct {
	Sequence  uint64 `json:"sequence"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type OutboundAudio struct {
	Type      FrameType       `json:"type"`
	Action    AudioAction     `json:"action"`
	Metadata  *StreamMetadata `json:"metadata,omitempty"`
	ChunkData *ChunkData      `json:"chunk_data,omitempty"`
}

func NewStartStream(meta StreamMetadata) OutboundAudio {
	return OutboundAudio{Type: TypeAudio, Action: ActionStartStream, Metadata: &meta}
}

func NewAudioChunk(chunk ChunkData) OutboundAudio {
	return OutboundAudio{Type: TypeAudio, Action: ActionAudioChunk, ChunkData: &chunk}
}

func NewEndStream() OutboundAudio {
	return OutboundAudio{Type: TypeAudio, Action: ActionEndStream}
}

func DecodeMedia(data []byte) (MediaFrame, error) {
	var f MediaFrame
	if err := Decode(data, &f); err != nil {
		return f, err
	}
	if f.Type == "" {
		return f, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}
