package rtc

// ICE connection states as reported by the peer.
type ICEState string

const (
	ICENew          ICEState = "new"
	ICEChecking     ICEState = "checking"
	ICEConnected    ICEState = "connected"
	ICECompleted    ICEState = "completed"
	ICEFailed       ICEState = "failed"
	ICEDisconnected ICEState = "disconnected"
	ICEClosed       ICEState = "closed"
)

type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

type SessionDescription struct {
	Type string // "offer" or "answer"
	SDP  string
}

type ICECandidate struct {
	Candidate        string
	SDPMid           *string
	SDPMLineIndex    *uint16
	UsernameFragment *string
}

// PeerHandlers receive peer events; they may be called from any goroutine.
type PeerHandlers struct {
	OnICECandidate   func(ICECandidate)
	OnICEStateChange func(ICEState)
}

// Peer is the answering side of a WebRTC session.
type Peer interface {
	SetRemoteDescription(desc SessionDescription) error
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (SessionDescription, error)
	AddICECandidate(c ICECandidate) error
	Close() error
}

type PeerFactory interface {
	NewPeer(servers []ICEServer, h PeerHandlers) (Peer, error)
}
