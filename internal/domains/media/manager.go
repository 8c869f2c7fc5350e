package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/xpanvictor/agentcall/internal/protocol"
	"github.com/xpanvictor/agentcall/pkg/Logger"
	"github.com/xpanvictor/agentcall/pkg/io/capture"
	"github.com/xpanvictor/agentcall/pkg/io/channel"
	"github.com/xpanvictor/agentcall/pkg/io/rtc"
	"github.com/xpanvictor/agentcall/pkg/utils/clock"
)

var (
	ErrNotReady         = errors.New("media session not connected")
	ErrStreamActive     = errors.New("audio stream already active")
	ErrUnauthorized     = errors.New("media channel rejected credentials")
	ErrRetriesExhausted = errors.New("media channel retries exhausted")
	ErrICEFailed        = errors.New("ice connection failed")
	ErrNoPeerForSignal  = errors.New("signal received before peer configuration")
)

const (
	defaultKeepalive     = 20 * time.Second
	defaultStreamCodec   = "pcm_s16le"
	defaultStreamFormat  = "pcm"
	defaultStreamRate    = 16000
	defaultStreamChannel = 1
)

// Handler receives media session events.
type Handler interface {
	OnPhase(p Phase)
	OnAudioResponse(status, streamID string)
	OnStreamChunk(chunk protocol.StreamChunk)
	OnStreamEnd(msgID string)
	OnError(err error)
}

// Encoder is the microphone streaming encoder driven by the session.
type Encoder interface {
	Start(ctx context.Context) error
	Stop() error
	Active() bool
	Stats() capture.Stats
}

// EncoderFactory builds an encoder that delivers chunks to sink.
type EncoderFactory func(sink capture.Sink) Encoder

// Clearer empties the playback queue on teardown.
type Clearer interface {
	Clear()
}

type Config struct {
	Endpoint          string
	APIKey            string
	Backoff           channel.Backoff
	KeepaliveInterval time.Duration
	SampleRate        int
}

// Manager negotiates the WebRTC session over a dedicated signaling socket
// and owns the outbound audio stream.
type Manager struct {
	cfg        Config
	dialer     channel.Dialer
	clock      clock.Clock
	peers      rtc.PeerFactory
	newEncoder EncoderFactory
	playback   Clearer
	handler    Handler
	logger     *Logger.Logger

	mu         sync.Mutex
	phase      *fsm.FSM
	ch         *channel.Channel
	agentID    string
	peer       rtc.Peer
	remoteSet  bool
	candidates []rtc.ICECandidate
	encoder    Encoder
	starting   bool
	keepalive  clock.Timer
	gen        uint64
	stats      capture.Stats
}

func NewManager(cfg Config, dialer channel.Dialer, clk clock.Clock, peers rtc.PeerFactory, newEncoder EncoderFactory, playback Clearer, handler Handler, logger *Logger.Logger) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = Logger.Nop()
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = defaultKeepalive
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultStreamRate
	}
	return &Manager{
		cfg:        cfg,
		dialer:     dialer,
		clock:      clk,
		peers:      peers,
		newEncoder: newEncoder,
		playback:   playback,
		handler:    handler,
		logger:     logger.Named("media"),
		phase:      newStateMachine(),
	}
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Phase(m.phase.Current())
}

// Streaming reports whether an audio stream is active.
func (m *Manager) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encoder != nil
}

// Stats returns the counters of the active stream, or of the last one.
func (m *Manager) Stats() capture.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.encoder != nil {
		return m.encoder.Stats()
	}
	return m.stats
}

// transition fires ev under m.mu and returns the phase to report, if any.
func (m *Manager) transition(ev phaseEvent) (Phase, bool) {
	if fire(m.phase, ev) {
		return Phase(m.phase.Current()), true
	}
	return "", false
}

func (m *Manager) report(p Phase, changed bool) {
	if changed {
		m.handler.OnPhase(p)
	}
}

// Setup opens the media signaling socket for agentID. It is a no-op while a
// connection is already in progress or open.
func (m *Manager) Setup(agentID string) {
	m.mu.Lock()
	if m.ch != nil {
		switch m.ch.State() {
		case channel.StateConnecting, channel.StateOpen:
			m.mu.Unlock()
			return
		}
		_ = m.ch.Close()
	}
	m.gen++
	gen := m.gen
	m.agentID = agentID
	m.ch = channel.New(channel.Config{
		Name:     "media",
		Endpoint: m.cfg.Endpoint,
		APIKey:   m.cfg.APIKey,
		AgentID:  agentID,
		Backoff:  m.cfg.Backoff,
	}, m.dialer, m.clock, channel.Funcs{
		Open:         func(string) { m.onOpen(gen) },
		Message:      func(data []byte) { m.onMessage(gen, data) },
		Closed:       func(code int, terminal bool) { m.onClose(gen, code, terminal) },
		Reconnecting: func(attempt int, delay time.Duration) { m.logger.Infof("media reconnect %d in %s", attempt, delay) },
		GiveUp:       func() { m.onGiveUp(gen) },
		Error:        func(err error) { m.logger.Warnf("media transport error: %v", err) },
	}, m.logger)
	ch := m.ch
	p, changed := m.transition(evConnect)
	m.mu.Unlock()

	m.report(p, changed)
	ch.Connect()
}

func (m *Manager) send(frame interface{}) error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	return m.sendOn(ch, frame)
}

func (m *Manager) sendOn(ch *channel.Channel, frame interface{}) error {
	if ch == nil {
		return channel.ErrNotOpen
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return ch.Send(data)
}

func (m *Manager) onOpen(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	p, changed := m.transition(evOpen)
	m.scheduleKeepaliveLocked(gen)
	m.mu.Unlock()

	m.report(p, changed)
	if err := m.send(protocol.NewConfigRequest()); err != nil {
		m.logger.Warnf("config_request not sent: %v", err)
	}
}

func (m *Manager) scheduleKeepaliveLocked(gen uint64) {
	if m.keepalive != nil {
		m.keepalive.Stop()
		m.keepalive = nil
	}
	if m.cfg.KeepaliveInterval <= 0 {
		return
	}
	m.keepalive = m.clock.AfterFunc(m.cfg.KeepaliveInterval, func() {
		m.mu.Lock()
		if gen != m.gen || m.ch == nil || !m.ch.IsOpen() {
			m.mu.Unlock()
			return
		}
		ch := m.ch
		m.scheduleKeepaliveLocked(gen)
		m.mu.Unlock()
		if err := m.sendOn(ch, protocol.Ping()); err != nil {
			m.logger.Debugf("keepalive ping not sent: %v", err)
		}
	})
}

func (m *Manager) onMessage(gen uint64, data []byte) {
	if !m.current(gen) {
		return
	}
	frame, err := protocol.DecodeMedia(data)
	if err != nil {
		m.logger.Warnf("dropping frame: %v", err)
		return
	}

	switch frame.Type {
	case protocol.TypeConfig:
		m.configure(gen, frame.ICEServers)
	case protocol.TypeSignal:
		sig, err := frame.Signal()
		if err != nil {
			m.logger.Warnf("dropping signal: %v", err)
			return
		}
		m.applySignal(gen, sig)
	case protocol.TypeAudioResponse:
		m.handler.OnAudioResponse(frame.Status, frame.StreamID)
	case protocol.TypeStreamChunk:
		m.handler.OnStreamChunk(frame.Chunk())
	case protocol.TypeStreamEnd:
		m.handler.OnStreamEnd(frame.MsgID)
	case protocol.TypePong:
		m.logger.Debugf("keepalive pong")
	default:
		m.logger.Debugf("ignoring unknown frame type %q", frame.Type)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) configure(gen uint64, servers []protocol.ICEServer) {
	ice := make([]rtc.ICEServer, len(servers))
	for i, s := range servers {
		ice[i] = rtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential}
	}

	peer, err := m.peers.NewPeer(ice, rtc.PeerHandlers{
		OnICECandidate:   func(c rtc.ICECandidate) { m.onLocalCandidate(gen, c) },
		OnICEStateChange: func(s rtc.ICEState) { m.onICEState(gen, s) },
	})
	if err != nil {
		m.logger.Errorf("peer connection setup failed: %v", err)
		m.handler.OnError(fmt.Errorf("peer connection: %w", err))
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = peer.Close()
		return
	}
	old := m.peer
	m.peer = peer
	m.remoteSet = false
	m.candidates = nil
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.logger.Infof("peer configured with %d ice servers", len(ice))
}

func (m *Manager) onLocalCandidate(gen uint64, c rtc.ICECandidate) {
	if !m.current(gen) {
		return
	}
	err := m.send(protocol.NewSignal(protocol.SignalData{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}))
	if err != nil {
		m.logger.Debugf("local candidate not relayed: %v", err)
	}
}

func (m *Manager) applySignal(gen uint64, sig protocol.SignalData) {
	m.mu.Lock()
	peer := m.peer
	if peer == nil || gen != m.gen {
		m.mu.Unlock()
		m.logger.Warnf("%v", ErrNoPeerForSignal)
		return
	}
	if sig.IsCandidate() && !m.remoteSet {
		m.candidates = append(m.candidates, toCandidate(sig))
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	switch {
	case sig.IsCandidate():
		if err := peer.AddICECandidate(toCandidate(sig)); err != nil {
			m.logger.Warnf("add remote candidate: %v", err)
		}
	case sig.Type == "offer":
		if err := peer.SetRemoteDescription(rtc.SessionDescription{Type: sig.Type, SDP: sig.SDP}); err != nil {
			m.logger.Errorf("set remote offer: %v", err)
			return
		}
		m.flushCandidates(peer)
		answer, err := peer.CreateAnswer()
		if err != nil {
			m.logger.Errorf("create answer: %v", err)
			return
		}
		if err := m.send(protocol.NewSignal(protocol.SignalData{Type: answer.Type, SDP: answer.SDP})); err != nil {
			m.logger.Warnf("answer not relayed: %v", err)
		}
	case sig.Type == "answer":
		if err := peer.SetRemoteDescription(rtc.SessionDescription{Type: sig.Type, SDP: sig.SDP}); err != nil {
			m.logger.Errorf("set remote answer: %v", err)
			return
		}
		m.flushCandidates(peer)
	default:
		m.logger.Debugf("ignoring signal type %q", sig.Type)
	}
}

// flushCandidates applies remote candidates that arrived before the remote
// description.
func (m *Manager) flushCandidates(peer rtc.Peer) {
	m.mu.Lock()
	if m.peer != peer {
		m.mu.Unlock()
		return
	}
	m.remoteSet = true
	pending := m.candidates
	m.candidates = nil
	m.mu.Unlock()

	for _, c := range pending {
		if err := peer.AddICECandidate(c); err != nil {
			m.logger.Warnf("add buffered candidate: %v", err)
		}
	}
}

func toCandidate(sig protocol.SignalData) rtc.ICECandidate {
	return rtc.ICECandidate{
		Candidate:        sig.Candidate,
		SDPMid:           sig.SDPMid,
		SDPMLineIndex:    sig.SDPMLineIndex,
		UsernameFragment: sig.UsernameFragment,
	}
}

func (m *Manager) onICEState(gen uint64, s rtc.ICEState) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	var (
		p       Phase
		changed bool
		enc     Encoder
		err     error
	)
	switch s {
	case rtc.ICEConnected, rtc.ICECompleted:
		p, changed = m.transition(evICEConnected)
	case rtc.ICEFailed:
		enc = m.detachEncoderLocked()
		p, changed = m.transition(evFail)
		err = ErrICEFailed
	case rtc.ICEDisconnected, rtc.ICEClosed:
		enc = m.detachEncoderLocked()
		p, changed = m.transition(evDrop)
	default:
		m.mu.Unlock()
		return
	}
	ch := m.ch
	m.mu.Unlock()

	if enc != nil {
		m.stopEncoder(ch, enc)
	}
	m.report(p, changed)
	if err != nil {
		m.handler.OnError(err)
	}
}

func (m *Manager) onClose(gen uint64, code int, terminal bool) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	enc := m.detachEncoderLocked()
	peer := m.peer
	m.peer = nil
	m.remoteSet = false
	m.candidates = nil
	if m.keepalive != nil {
		m.keepalive.Stop()
		m.keepalive = nil
	}
	var (
		p       Phase
		changed bool
		err     error
	)
	switch {
	case terminal && channel.IsAuthFailure(code):
		p, changed = m.transition(evFail)
		err = ErrUnauthorized
	case terminal && channel.IsTerminal(code):
		p, changed = m.transition(evDrop)
	case !terminal:
		p, changed = m.transition(evDrop)
	}
	m.mu.Unlock()

	if enc != nil {
		m.stopEncoder(nil, enc)
	}
	if peer != nil {
		_ = peer.Close()
	}
	m.report(p, changed)
	if err != nil {
		m.handler.OnError(err)
	}
}

func (m *Manager) onGiveUp(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	p, changed := m.transition(evFail)
	m.mu.Unlock()
	m.report(p, changed)
	m.handler.OnError(ErrRetriesExhausted)
}

// StartAudioStream announces a new PCM stream and starts the microphone.
// At most one stream is active at a time.
func (m *Manager) StartAudioStream(ctx context.Context) error {
	m.mu.Lock()
	if m.encoder != nil || m.starting {
		m.mu.Unlock()
		return ErrStreamActive
	}
	if Phase(m.phase.Current()) != Connected || m.ch == nil || !m.ch.IsOpen() {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.starting = true
	ch := m.ch
	gen := m.gen
	agentID := m.agentID
	m.mu.Unlock()

	done := func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}

	enc := m.newEncoder(func(c capture.Chunk) error {
		return m.sendOn(ch, protocol.NewAudioChunk(protocol.ChunkData{
			Sequence:  c.Sequence,
			Data:      c.Data,
			Timestamp: c.Timestamp,
		}))
	})

	err := m.sendOn(ch, protocol.NewStartStream(protocol.StreamMetadata{
		Format:     defaultStreamFormat,
		Codec:      defaultStreamCodec,
		SampleRate: m.cfg.SampleRate,
		Channels:   defaultStreamChannel,
		AgentID:    agentID,
		Timestamp:  m.clock.Now().UnixMilli(),
	}))
	if err != nil {
		done()
		return fmt.Errorf("announce stream: %w", err)
	}

	if err := enc.Start(ctx); err != nil {
		done()
		_ = m.sendOn(ch, protocol.NewEndStream())
		return err
	}

	m.mu.Lock()
	m.starting = false
	if gen != m.gen || Phase(m.phase.Current()) != Connected {
		// session changed while the microphone was opening
		m.mu.Unlock()
		_ = enc.Stop()
		_ = m.sendOn(ch, protocol.NewEndStream())
		return ErrNotReady
	}
	m.encoder = enc
	p, changed := m.transition(evStartStream)
	m.mu.Unlock()

	m.report(p, changed)
	m.logger.Infof("audio stream started")
	return nil
}

// StopAudioStream stops the microphone and announces the end of the
// stream. Safe to call when no stream is active.
func (m *Manager) StopAudioStream() error {
	m.mu.Lock()
	enc := m.detachEncoderLocked()
	if enc == nil {
		m.mu.Unlock()
		return nil
	}
	p, changed := m.transition(evStopStream)
	ch := m.ch
	m.mu.Unlock()

	err := m.stopEncoder(ch, enc)
	m.report(p, changed)
	return err
}

func (m *Manager) detachEncoderLocked() Encoder {
	enc := m.encoder
	m.encoder = nil
	if enc != nil {
		m.stats = enc.Stats()
	}
	return enc
}

// stopEncoder releases the microphone and, when ch is open, sends
// end_stream.
func (m *Manager) stopEncoder(ch *channel.Channel, enc Encoder) error {
	err := enc.Stop()
	if ch != nil && ch.IsOpen() {
		if sendErr := m.sendOn(ch, protocol.NewEndStream()); sendErr != nil {
			m.logger.Debugf("end_stream not sent: %v", sendErr)
		}
	}
	m.logger.Infof("audio stream stopped")
	return err
}

// Teardown stops the stream, closes the peer and the socket, cancels
// timers and clears playback. It is idempotent and never panics.
func (m *Manager) Teardown() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, fmt.Errorf("media teardown panic: %v", r))
		}
	}()

	m.mu.Lock()
	m.gen++
	enc := m.detachEncoderLocked()
	peer := m.peer
	m.peer = nil
	m.remoteSet = false
	m.candidates = nil
	ch := m.ch
	m.ch = nil
	if m.keepalive != nil {
		m.keepalive.Stop()
		m.keepalive = nil
	}
	p, changed := m.transition(evDrop)
	m.mu.Unlock()

	var errs []error
	if enc != nil {
		if e := m.stopEncoder(ch, enc); e != nil {
			errs = append(errs, e)
		}
	}
	if peer != nil {
		if e := peer.Close(); e != nil {
			errs = append(errs, fmt.Errorf("close peer: %w", e))
		}
	}
	if ch != nil {
		if e := ch.Close(); e != nil {
			errs = append(errs, fmt.Errorf("close media channel: %w", e))
		}
	}
	if m.playback != nil {
		m.playback.Clear()
	}
	if changed {
		m.logger.Infof("media session torn down from %s", p)
	}
	return errors.Join(errs...)
}
