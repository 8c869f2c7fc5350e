package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeSignalingKinds(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		check func(t *testing.T, f SignalingFrame)
	}{
		{
			name: "text with message",
			raw:  `{"type":"text","message":"hi there"}`,
			check: func(t *testing.T, f SignalingFrame) {
				if f.Text() != "hi there" {
					t.Errorf("Expected text 'hi there', got %q", f.Text())
				}
			},
		},
		{
			name: "text with content fallback",
			raw:  `{"type":"text","content":"fallback"}`,
			check: func(t *testing.T, f SignalingFrame) {
				if f.Text() != "fallback" {
					t.Errorf("Expected text 'fallback', got %q", f.Text())
				}
			},
		},
		{
			name: "stream chunk",
			raw:  `{"type":"stream_chunk","msg_id":"m1","text_content":"Hel","audio_content":"AAA="}`,
			check: func(t *testing.T, f SignalingFrame) {
				c := f.Chunk()
				if c.MsgID != "m1" || c.TextContent != "Hel" || c.AudioContent != "AAA=" {
					t.Errorf("Unexpected chunk %+v", c)
				}
			},
		},
		{
			name: "agent info",
			raw:  `{"type":"agent_info","data":{"name":"Ada","voice":"alloy"}}`,
			check: func(t *testing.T, f SignalingFrame) {
				info, err := f.AgentInfo()
				if err != nil {
					t.Fatalf("AgentInfo failed: %v", err)
				}
				if info["name"] != "Ada" {
					t.Errorf("Expected name Ada, got %v", info["name"])
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := DecodeSignaling([]byte(tc.raw))
			if err != nil {
				t.Fatalf("DecodeSignaling failed: %v", err)
			}
			tc.check(t, f)
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, raw := range []string{``, `not json`, `{"message":"no type"}`} {
		if _, err := DecodeSignaling([]byte(raw)); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Expected ErrMalformedFrame for %q, got %v", raw, err)
		}
	}
}

func TestICEServerAcceptsStringOrList(t *testing.T) {
	raw := `{"type":"config","ice_servers":[{"urls":"stun:a"},{"urls":["turn:b","turn:c"],"username":"u","credential":"p"}]}`
	f, err := DecodeMedia([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeMedia failed: %v", err)
	}
	if len(f.ICEServers) != 2 {
		t.Fatalf("Expected 2 ice servers, got %d", len(f.ICEServers))
	}
	if len(f.ICEServers[0].URLs) != 1 || f.ICEServers[0].URLs[0] != "stun:a" {
		t.Errorf("Unexpected first server %+v", f.ICEServers[0])
	}
	if len(f.ICEServers[1].URLs) != 2 || f.ICEServers[1].Username != "u" {
		t.Errorf("Unexpected second server %+v", f.ICEServers[1])
	}
}

func TestSignalData(t *testing.T) {
	f, err := DecodeMedia([]byte(`{"type":"signal","from_peer":"server","data":{"type":"offer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatalf("DecodeMedia failed: %v", err)
	}
	d, err := f.Signal()
	if err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if !d.IsDescription() || d.IsCandidate() || d.SDP != "v=0" {
		t.Errorf("Unexpected signal data %+v", d)
	}

	f, _ = DecodeMedia([]byte(`{"type":"signal","data":{"candidate":"candidate:1 1 udp","sdpMid":"0","sdpMLineIndex":0}}`))
	d, err = f.Signal()
	if err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if !d.IsCandidate() || d.SDPMid == nil || *d.SDPMid != "0" {
		t.Errorf("Unexpected candidate %+v", d)
	}
}

func TestOutboundShapes(t *testing.T) {
	data, err := Encode(NewSignal(SignalData{Type: "answer", SDP: "v=0"}))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"to_peer":"server"`) || !strings.Contains(s, `"type":"signal"`) {
		t.Errorf("Unexpected signal encoding: %s", s)
	}

	data, _ = Encode(NewMessage("Hello", true))
	s = string(data)
	if !strings.Contains(s, `"message":"Hello"`) || !strings.Contains(s, `"audio_enabled":true`) {
		t.Errorf("Unexpected message encoding: %s", s)
	}

	data, _ = Encode(NewEndStream())
	s = string(data)
	if !strings.Contains(s, `"action":"end_stream"`) || strings.Contains(s, "chunk_data") {
		t.Errorf("Unexpected end_stream encoding: %s", s)
	}
}
