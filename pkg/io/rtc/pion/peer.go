package pion

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
	"github.com/xpanvictor/agentcall/pkg/Logger"
	"github.com/xpanvictor/agentcall/pkg/io/rtc"
)

// Factory builds pion peer connections.
type Factory struct {
	logger *Logger.Logger
}

func NewFactory(logger *Logger.Logger) *Factory {
	if logger == nil {
		logger = Logger.Nop()
	}
	return &Factory{logger: logger.Named("pion")}
}

type peer struct {
	pc     *webrtc.PeerConnection
	logger *Logger.Logger
}

// NewPeer implements rtc.PeerFactory.
func (f *Factory) NewPeer(servers []rtc.ICEServer, h rtc.PeerHandlers) (rtc.Peer, error) {
	iceServers := make([]webrtc.ICEServer, len(servers))
	for i, s := range servers {
		iceServers[i] = webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	p := &peer{pc: pc, logger: f.logger}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || h.OnICECandidate == nil {
			return
		}
		init := c.ToJSON()
		h.OnICECandidate(rtc.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.logger.Infof("ICE connection state changed: %s", state)
		if h.OnICEStateChange != nil {
			h.OnICEStateChange(rtc.ICEState(state.String()))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Infof("remote %s track received codec=%s", track.Kind(), track.Codec().MimeType)
		go p.drain(track)
	})

	return p, nil
}

// drain keeps the remote track flowing; audio replies are played from the
// media channel, not from RTP.
func (p *peer) drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debugf("remote track ended: %v", err)
			}
			return
		}
	}
}

func (p *peer) SetRemoteDescription(desc rtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *peer) CreateAnswer() (rtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return rtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return rtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return rtc.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *peer) AddICECandidate(c rtc.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *peer) Close() error {
	return p.pc.Close()
}
