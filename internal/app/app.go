package app

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/agentcall/internal/config"
	"github.com/xpanvictor/agentcall/internal/domains/chat"
	"github.com/xpanvictor/agentcall/internal/domains/media"
	"github.com/xpanvictor/agentcall/internal/domains/signaling"
	"github.com/xpanvictor/agentcall/internal/handlers/websocket"
	"github.com/xpanvictor/agentcall/internal/server"
	"github.com/xpanvictor/agentcall/pkg/Logger"
	"github.com/xpanvictor/agentcall/pkg/io/capture"
	"github.com/xpanvictor/agentcall/pkg/io/channel"
	"github.com/xpanvictor/agentcall/pkg/io/device/miniaudio"
	wsdevice "github.com/xpanvictor/agentcall/pkg/io/device/websocket"
	"github.com/xpanvictor/agentcall/pkg/io/playback"
	"github.com/xpanvictor/agentcall/pkg/io/rtc"
	"github.com/xpanvictor/agentcall/pkg/io/rtc/pion"
	"github.com/xpanvictor/agentcall/pkg/io/stt"
	"github.com/xpanvictor/agentcall/pkg/io/stt/vad"
	"github.com/xpanvictor/agentcall/pkg/io/stt/whisper"
	"github.com/xpanvictor/agentcall/pkg/utils/clock"
)

// App represents the application with all its dependencies
type App struct {
	Config  *config.Settings
	Logger  *Logger.Logger
	Session *chat.Orchestrator
	Router  *gin.Engine

	events *websocket.EventsHandler
	audio  *miniaudio.Context
	output playback.Output
	closer func() error
}

// NewApp creates a new application instance with all dependencies properly wired
func NewApp(cfg *config.Settings, logger *Logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.setupDependencies(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) setupDependencies() error {
	// 1. audio devices; a headless host still gets a working text session
	a.setupAudio()

	// 2. transports
	dialer := wsdevice.NewDialer()
	peers := pion.NewFactory(a.Logger)

	// 3. session orchestrator
	mode := chat.InputMode(a.Config.Audio.InputMode)
	a.Session = chat.NewOrchestrator(chat.Config{
		MediaStartDelay: a.Config.Media.StartDelay,
		AudioOutput:     a.Config.Audio.OutputEnabled,
		InputMode:       mode,
	}, a.factories(dialer, peers), clock.System(), a.Logger)

	// 4. control API
	deps := server.NewServerDependencies(a.Session, a.Logger, a.Config)
	a.Router, a.events = server.NewRouter(deps)
	return nil
}

func (a *App) setupAudio() {
	ctx, err := miniaudio.NewContext(a.Logger)
	if err != nil {
		a.Logger.Warnf("audio disabled: %v", err)
		a.output = silentOutput{}
		return
	}
	a.audio = ctx
	out, err := miniaudio.NewOutput(ctx, a.Config.Audio.OutputRate)
	if err != nil {
		a.Logger.Warnf("speaker unavailable, agent audio muted: %v", err)
		a.output = silentOutput{}
		return
	}
	a.output = out
	a.closer = out.Close
}

func (a *App) factories(dialer channel.Dialer, peers rtc.PeerFactory) chat.Factories {
	cfg := a.Config
	source := miniaudio.NewSource(a.audio)
	capCfg := capture.Config{
		SampleRate:       cfg.Audio.SampleRate,
		FrameSize:        cfg.Audio.FrameSize,
		SilenceThreshold: cfg.Audio.SilenceThreshold,
		EchoCancellation: cfg.Audio.EchoCancellation,
		NoiseSuppression: cfg.Audio.NoiseSuppression,
	}

	f := chat.Factories{
		Playback: func(enabled bool) chat.Playback {
			return playback.NewEngine(a.output, playback.NewQueue(cfg.Audio.QueueCapacity), enabled, a.Logger)
		},
		Signaling: func(h signaling.Handler) chat.Signaling {
			return signaling.NewManager(signaling.Config{
				Endpoint: cfg.Agent.Endpoint,
				APIKey:   cfg.Agent.APIKey,
				Backoff:  cfg.Reconnect,
			}, dialer, clock.System(), h, a.Logger)
		},
		Media: func(h media.Handler, pb chat.Playback) chat.Media {
			newEncoder := func(sink capture.Sink) media.Encoder {
				return capture.NewEncoder(capCfg, source, sink, clock.System(), a.Logger)
			}
			return media.NewManager(media.Config{
				Endpoint:          cfg.Agent.MediaEndpoint,
				APIKey:            cfg.Agent.APIKey,
				Backoff:           cfg.Reconnect,
				KeepaliveInterval: cfg.Media.KeepaliveInterval,
				SampleRate:        cfg.Audio.SampleRate,
			}, dialer, clock.System(), peers, newEncoder, pb, h, a.Logger)
		},
	}

	if cfg.STT.Enabled {
		client := whisper.NewWhisperClient(cfg.STT.WhisperURL, a.Logger, whisper.WithLanguage(cfg.STT.Language))
		vc := vad.DefaultVADConfig()
		vc.SampleRate = int32(cfg.Audio.SampleRate)
		if cfg.STT.SilenceHangover > 0 {
			vc.MinSilenceMs = int(cfg.STT.SilenceHangover / time.Millisecond)
		}
		f.Speech = func(cb stt.Callbacks) chat.Speech {
			rec := whisper.NewRecognizer(source, client, vc, cfg.Audio.FrameSize, a.Logger)
			return stt.NewAdapter(rec, cb, a.Logger)
		}
	}
	return f
}

// Run drives the session loop until ctx is cancelled. A configured agent
// id is dialled right away.
func (a *App) Run(ctx context.Context) error {
	if id := a.Config.Agent.AgentID; id != "" {
		go func() {
			if err := a.Session.Start(id); err != nil && !errors.Is(err, chat.ErrStopped) {
				a.Logger.Errorf("auto start for %s failed: %v", id, err)
			}
		}()
	}
	return a.Session.Run(ctx)
}

// Close releases the event feed and audio devices. Call after Run returns.
func (a *App) Close() error {
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.closer != nil {
		errs = append(errs, a.closer())
	}
	if a.audio != nil {
		errs = append(errs, a.audio.Close())
	}
	return errors.Join(errs...)
}

// silentOutput completes every buffer immediately.
type silentOutput struct{}

func (silentOutput) Play(b playback.Buffer, done func()) error {
	go done()
	return nil
}

func (silentOutput) PlayClip(playback.Buffer) error { return nil }
