package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/xpanvictor/agentcall/internal/domains/media"
	"github.com/xpanvictor/agentcall/internal/domains/signaling"
	"github.com/xpanvictor/agentcall/pkg/Logger"
	"github.com/xpanvictor/agentcall/pkg/io/capture"
	"github.com/xpanvictor/agentcall/pkg/io/playback"
	"github.com/xpanvictor/agentcall/pkg/io/stt"
	"github.com/xpanvictor/agentcall/pkg/utils/clock"
)

var (
	ErrNotConnected   = errors.New("not connected to agent")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMissingAgent   = errors.New("agent id is required")
	ErrInvalidState   = errors.New("operation not allowed in current state")
	ErrTextMode       = errors.New("microphone requires audio input mode")
	ErrStopped        = errors.New("session loop not running")
	ErrMicUnavailable = errors.New("microphone start already in progress")
)

// Signaling is the chat signaling channel of one session.
type Signaling interface {
	Connect(agentID string)
	SendMessage(text string, audioEnabled bool) error
	IsOpen() bool
	Close() error
}

// Media is the WebRTC media session of one session.
type Media interface {
	Setup(agentID string)
	StartAudioStream(ctx context.Context) error
	StopAudioStream() error
	Streaming() bool
	Phase() media.Phase
	Stats() capture.Stats
	Teardown() error
}

// Playback is the audio output engine of one session.
type Playback interface {
	PlayClip(payload string) error
	EnqueueChunk(payload string) error
	SetEnabled(enabled bool)
	Stop()
	Stats() playback.Stats
}

// Speech turns microphone speech into outbound messages.
type Speech interface {
	Start(ctx context.Context) error
	Stop() error
	Close() error
}

// Factories build the per-session entities. Speech may be nil.
type Factories struct {
	Playback  func(enabled bool) Playback
	Signaling func(h signaling.Handler) Signaling
	Media     func(h media.Handler, pb Playback) Media
	Speech    func(cb stt.Callbacks) Speech
}

type Config struct {
	MediaStartDelay time.Duration `mapstructure:"media_start_delay"`
	AudioOutput     bool          `mapstructure:"audio_output"`
	InputMode       InputMode     `mapstructure:"input_mode"`
}

// Snapshot is a point-in-time view of the session for readers outside the
// event loop.
type Snapshot struct {
	SessionID   string                 `json:"sessionId,omitempty"`
	AgentID     string                 `json:"agentId,omitempty"`
	State       State                  `json:"state"`
	Status      string                 `json:"status"`
	InputMode   InputMode              `json:"inputMode"`
	AudioOutput bool                   `json:"audioOutput"`
	AgentInfo   map[string]interface{} `json:"agentInfo,omitempty"`
	MediaPhase  media.Phase            `json:"mediaPhase,omitempty"`
	Encoder     capture.Stats          `json:"encoder"`
	Playback    playback.Stats         `json:"playback"`
}

type session struct {
	id         string
	agentID    string
	signaling  Signaling
	media      Media
	playback   Playback
	speech     Speech
	mediaTimer clock.Timer
	micPending bool
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// Orchestrator runs the chat session state machine. Every callback from
// the session entities and every API call is executed on the Run loop.
type Orchestrator struct {
	cfg   Config
	f     Factories
	clock clock.Clock
	log   *Logger.Logger

	inbox chan func()
	done  chan struct{}
	once  sync.Once

	// loop-owned
	state      *fsm.FSM
	sess       *session
	inputMode  InputMode
	audioOut   bool
	agentInfo  map[string]interface{}
	status     string
	transcript *Transcript

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	snapMu sync.RWMutex
	snap   Snapshot
}

func NewOrchestrator(cfg Config, f Factories, clk clock.Clock, logger *Logger.Logger) *Orchestrator {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = Logger.Nop()
	}
	if cfg.InputMode == "" {
		cfg.InputMode = InputText
	}
	o := &Orchestrator{
		cfg:        cfg,
		f:          f,
		clock:      clk,
		log:        logger.Named("chat"),
		inbox:      make(chan func(), 256),
		done:       make(chan struct{}),
		state:      newStateMachine(),
		inputMode:  cfg.InputMode,
		audioOut:   cfg.AudioOutput,
		status:     "Idle",
		transcript: NewTranscript(clk.Now),
		observers:  map[int]Observer{},
	}
	o.refresh()
	return o
}

// Run executes queued work until ctx is cancelled, then ends the session.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.once.Do(func() { close(o.done) })
	for {
		select {
		case <-ctx.Done():
			if err := o.end(); err != nil {
				o.log.Warnf("teardown on shutdown: %v", err)
			}
			return ctx.Err()
		case fn := <-o.inbox:
			o.exec(fn)
		}
	}
}

func (o *Orchestrator) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorf("session loop recovered: %v", r)
		}
		o.refresh()
	}()
	fn()
}

// post queues fn without waiting. Work posted after Run exits is dropped.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.inbox <- fn:
	case <-o.done:
	}
}

// do runs fn on the loop and waits for its result.
func (o *Orchestrator) do(fn func() error) error {
	res := make(chan error, 1)
	select {
	case o.inbox <- func() { res <- fn() }:
	case <-o.done:
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-o.done:
		return ErrStopped
	}
}

func (o *Orchestrator) current() State {
	return State(o.state.Current())
}

func (o *Orchestrator) transition(ev sessionEvent) bool {
	if !fire(o.state, ev) {
		return false
	}
	o.log.Infof("session state %s", o.current())
	o.emit(Event{Kind: EventState, State: o.current(), Status: o.status})
	return true
}

func (o *Orchestrator) setStatus(text string) {
	o.status = text
	o.emit(Event{Kind: EventState, State: o.current(), Status: text})
}

// Start opens a new session with agentID.
func (o *Orchestrator) Start(agentID string) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return ErrMissingAgent
	}
	return o.do(func() error {
		if !fire(o.state, evStart) {
			return fmt.Errorf("%w: start from %s", ErrInvalidState, o.current())
		}
		o.begin(agentID)
		return nil
	})
}

// Restart ends the current session and opens a fresh one. An empty agentID
// reuses the previous agent.
func (o *Orchestrator) Restart(agentID string) error {
	agentID = strings.TrimSpace(agentID)
	return o.do(func() error {
		if agentID == "" && o.sess != nil {
			agentID = o.sess.agentID
		}
		if agentID == "" {
			return ErrMissingAgent
		}
		switch o.current() {
		case StateEnded, StateError, StateDisconnected:
		default:
			return fmt.Errorf("%w: restart from %s", ErrInvalidState, o.current())
		}
		if err := o.teardown(); err != nil {
			o.log.Warnf("teardown before restart: %v", err)
		}
		if !fire(o.state, evRestart) {
			return fmt.Errorf("%w: restart from %s", ErrInvalidState, o.current())
		}
		o.begin(agentID)
		return nil
	})
}

// begin runs after the fsm entered connecting.
func (o *Orchestrator) begin(agentID string) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{id: uuid.NewString(), agentID: agentID, ctx: ctx, cancel: cancel}
	o.sess = s
	o.agentInfo = nil
	o.snapMu.Lock()
	o.transcript = NewTranscript(o.clock.Now)
	o.snapMu.Unlock()

	s.playback = o.f.Playback(o.audioOut)
	s.signaling = o.f.Signaling(&signalingEvents{o: o, s: s})
	s.media = o.f.Media(&mediaEvents{o: o, s: s}, s.playback)
	if o.f.Speech != nil {
		s.speech = o.f.Speech(stt.Callbacks{
			Utterance: func(text string) { o.post(func() { o.onUtterance(s, text) }) },
			Interim: func(text string) {
				o.post(func() {
					if o.sess == s {
						o.emit(Event{Kind: EventInterim, Text: text})
					}
				})
			},
			Error: func(err error) { o.post(func() { o.onSpeechError(s, err) }) },
		})
	}

	o.log.Infof("session %s starting agent=%s", s.id, agentID)
	o.status = "Connecting..."
	o.emit(Event{Kind: EventState, State: o.current(), Status: o.status})
	s.signaling.Connect(agentID)
}

// SendText appends a user message and sends it to the agent.
func (o *Orchestrator) SendText(text string) error {
	return o.do(func() error { return o.sendText(text) })
}

func (o *Orchestrator) sendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	s := o.sess
	switch o.current() {
	case StateReady, StateStreamingAudio:
	default:
		return ErrNotConnected
	}
	if s == nil || !s.signaling.IsOpen() {
		return ErrNotConnected
	}
	msg := o.transcript.AddUser(text)
	o.emit(Event{Kind: EventTranscript, Message: &msg})
	if err := s.signaling.SendMessage(text, o.audioOut); err != nil {
		o.notify(LevelError, "Send failed", err.Error())
		return err
	}
	return nil
}

// ToggleMic starts or stops the outbound audio stream. It reports whether
// the microphone is on afterwards.
func (o *Orchestrator) ToggleMic(ctx context.Context) (bool, error) {
	var s *session
	err := o.do(func() error {
		if o.inputMode != InputAudio {
			return ErrTextMode
		}
		switch o.current() {
		case StateStreamingAudio:
			o.stopMic(o.sess)
			return nil
		case StateReady:
			if o.sess.micPending {
				return ErrMicUnavailable
			}
			o.sess.micPending = true
			s = o.sess
			return nil
		default:
			return fmt.Errorf("%w: microphone in %s", ErrInvalidState, o.current())
		}
	})
	if err != nil || s == nil {
		return false, err
	}

	// Mic acquisition blocks; keep it off the loop.
	startErr := s.media.StartAudioStream(ctx)
	var on bool
	err = o.do(func() error {
		s.micPending = false
		if o.sess != s {
			if startErr == nil {
				_ = s.media.StopAudioStream()
			}
			return ErrInvalidState
		}
		if startErr != nil {
			o.notify(LevelError, "Microphone", startErr.Error())
			return startErr
		}
		if !o.transition(evMicOn) {
			// session moved on while the device opened
			_ = s.media.StopAudioStream()
			return fmt.Errorf("%w: microphone in %s", ErrInvalidState, o.current())
		}
		if s.speech != nil {
			if err := s.speech.Start(s.ctx); err != nil {
				o.log.Warnf("speech capture not started: %v", err)
				o.notify(LevelWarning, "Speech recognition", err.Error())
			}
		}
		o.notify(LevelInfo, "Microphone", "Streaming audio")
		on = true
		return nil
	})
	return on, err
}

// stopMic ends the audio stream if one is running. Safe in any state.
func (o *Orchestrator) stopMic(s *session) {
	if s == nil {
		return
	}
	if s.speech != nil {
		if err := s.speech.Stop(); err != nil {
			o.log.Debugf("speech stop: %v", err)
		}
	}
	if err := s.media.StopAudioStream(); err != nil {
		o.log.Warnf("stop audio stream: %v", err)
	}
	o.transition(evMicOff)
}

// ToggleAudioOutput flips agent audio playback and returns the new value.
func (o *Orchestrator) ToggleAudioOutput() (bool, error) {
	var on bool
	err := o.do(func() error {
		o.audioOut = !o.audioOut
		if o.sess != nil {
			o.sess.playback.SetEnabled(o.audioOut)
		}
		on = o.audioOut
		o.emit(Event{Kind: EventState, State: o.current(), Status: o.status})
		return nil
	})
	return on, err
}

// ToggleInputMode switches between text and audio input. Leaving audio
// mode stops the microphone.
func (o *Orchestrator) ToggleInputMode() (InputMode, error) {
	var mode InputMode
	err := o.do(func() error {
		if o.inputMode == InputAudio {
			if o.current() == StateStreamingAudio {
				o.stopMic(o.sess)
			}
			o.inputMode = InputText
		} else {
			o.inputMode = InputAudio
		}
		mode = o.inputMode
		o.emit(Event{Kind: EventState, State: o.current(), Status: o.status})
		return nil
	})
	return mode, err
}

// End tears the session down. Calling it again is a no-op.
func (o *Orchestrator) End() error {
	return o.do(o.end)
}

func (o *Orchestrator) end() error {
	if o.current() == StateEnded {
		return nil
	}
	err := o.teardown()
	o.status = "Session ended"
	o.transition(evEnd)
	return err
}

// teardown releases every entity of the current session. Failures are
// collected, never propagated mid-way.
func (o *Orchestrator) teardown() error {
	s := o.sess
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	step := func(name string, fn func() error) {
		defer func() {
			if r := recover(); r != nil {
				errs = append(errs, fmt.Errorf("%s: panic: %v", name, r))
			}
		}()
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	s.cancel()
	if s.mediaTimer != nil {
		s.mediaTimer.Stop()
		s.mediaTimer = nil
	}
	if s.speech != nil {
		step("speech", s.speech.Close)
	}
	step("media", s.media.Teardown)
	step("signaling", s.signaling.Close)
	step("playback", func() error {
		s.playback.SetEnabled(false)
		s.playback.Stop()
		return nil
	})

	err := errors.Join(errs...)
	if err != nil {
		o.log.Warnf("session %s teardown: %v", s.id, err)
	} else {
		o.log.Infof("session %s torn down", s.id)
	}
	return err
}

// Messages returns the transcript of the current session.
func (o *Orchestrator) Messages() []Message {
	o.snapMu.RLock()
	t := o.transcript
	o.snapMu.RUnlock()
	return t.Messages()
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snap
}

// refresh publishes loop state for Snapshot and Messages.
func (o *Orchestrator) refresh() {
	snap := Snapshot{
		State:       o.current(),
		Status:      o.status,
		InputMode:   o.inputMode,
		AudioOutput: o.audioOut,
		AgentInfo:   o.agentInfo,
	}
	if s := o.sess; s != nil {
		snap.SessionID = s.id
		snap.AgentID = s.agentID
		snap.MediaPhase = s.media.Phase()
		snap.Encoder = s.media.Stats()
		snap.Playback = s.playback.Stats()
	}
	o.snapMu.Lock()
	o.snap = snap
	o.snapMu.Unlock()
}

func (o *Orchestrator) onUtterance(s *session, text string) {
	if o.sess != s {
		return
	}
	if err := o.sendText(text); err != nil {
		o.log.Warnf("utterance dropped: %v", err)
	}
}

func (o *Orchestrator) onSpeechError(s *session, err error) {
	if o.sess != s {
		return
	}
	o.log.Warnf("speech recognition: %v", err)
	o.notify(LevelWarning, "Speech recognition", err.Error())
}

func (o *Orchestrator) scheduleMedia(s *session) {
	if s.mediaTimer != nil {
		return
	}
	if o.cfg.MediaStartDelay <= 0 {
		s.media.Setup(s.agentID)
		return
	}
	s.mediaTimer = o.clock.AfterFunc(o.cfg.MediaStartDelay, func() {
		o.post(func() {
			if o.sess != s || o.current() == StateEnded {
				return
			}
			s.mediaTimer = nil
			s.media.Setup(s.agentID)
		})
	})
}
