package pion

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/xpanvictor/agentcall/pkg/io/rtc"
)

func TestAnswerRemoteOffer(t *testing.T) {
	offerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	defer offerer.Close()
	if _, err := offerer.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("AddTransceiverFromKind failed: %v", err)
	}
	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription failed: %v", err)
	}

	p, err := NewFactory(nil).NewPeer(nil, rtc.PeerHandlers{})
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer p.Close()

	if err := p.SetRemoteDescription(rtc.SessionDescription{Type: "offer", SDP: offer.SDP}); err != nil {
		t.Fatalf("SetRemoteDescription failed: %v", err)
	}
	answer, err := p.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	if answer.Type != "answer" || !strings.Contains(answer.SDP, "m=audio") {
		t.Errorf("Unexpected answer %s: %q", answer.Type, answer.SDP)
	}
	if err := offerer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		t.Errorf("Offerer rejected answer: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	p, err := NewFactory(nil).NewPeer([]rtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}, rtc.PeerHandlers{})
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}
