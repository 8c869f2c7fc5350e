package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/xpanvictor/agentcall/pkg/io/channel"
)

const envPrefix = "AGENTCALL"

type AgentConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	MediaEndpoint string `mapstructure:"media_endpoint"`
	APIKey        string `mapstructure:"api_key"`
	AgentID       string `mapstructure:"agent_id"`
}

type MediaConfig struct {
	StartDelay        time.Duration `mapstructure:"start_delay"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
}

type AudioConfig struct {
	SampleRate       int     `mapstructure:"sample_rate"`
	FrameSize        int     `mapstructure:"frame_size"`
	SilenceThreshold float64 `mapstructure:"silence_threshold"`
	EchoCancellation bool    `mapstructure:"echo_cancellation"`
	NoiseSuppression bool    `mapstructure:"noise_suppression"`
	OutputEnabled    bool    `mapstructure:"output_enabled"`
	OutputRate       int     `mapstructure:"output_rate"`
	QueueCapacity    int     `mapstructure:"queue_capacity"`
	InputMode        string  `mapstructure:"input_mode"`
}

type STTConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	WhisperURL      string        `mapstructure:"whisper_url"`
	Language        string        `mapstructure:"language"`
	SilenceHangover time.Duration `mapstructure:"silence_hangover"`
}

type ControlConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Settings struct {
	Agent     AgentConfig     `mapstructure:"agent"`
	Reconnect channel.Backoff `mapstructure:"reconnect"`
	Media     MediaConfig     `mapstructure:"media"`
	Audio     AudioConfig     `mapstructure:"audio"`
	STT       STTConfig       `mapstructure:"stt"`
	Control   ControlConfig   `mapstructure:"control"`
	Env       string          `mapstructure:"env"`
	Debug     bool            `mapstructure:"debug"`
}

func (s *Settings) Validate() error {
	var errs []error
	if s.Agent.Endpoint == "" {
		errs = append(errs, errors.New("agent.endpoint is required"))
	}
	if s.Agent.MediaEndpoint == "" {
		errs = append(errs, errors.New("agent.media_endpoint is required"))
	}
	if s.Agent.APIKey == "" {
		errs = append(errs, errors.New("agent.api_key is required"))
	}
	if s.STT.Enabled && s.STT.WhisperURL == "" {
		errs = append(errs, errors.New("stt.whisper_url is required when stt is enabled"))
	}
	switch s.Audio.InputMode {
	case "text", "audio":
	default:
		errs = append(errs, fmt.Errorf("audio.input_mode must be text or audio, got %q", s.Audio.InputMode))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("debug", false)

	v.SetDefault("agent.endpoint", "")
	v.SetDefault("agent.media_endpoint", "")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.agent_id", "")

	b := channel.DefaultBackoff()
	v.SetDefault("reconnect.base", b.Base)
	v.SetDefault("reconnect.cap", b.Cap)
	v.SetDefault("reconnect.max_attempts", b.MaxAttempts)

	v.SetDefault("media.start_delay", time.Duration(0))
	v.SetDefault("media.keepalive_interval", 20*time.Second)

	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.frame_size", 4096)
	v.SetDefault("audio.silence_threshold", 0.01)
	v.SetDefault("audio.echo_cancellation", true)
	v.SetDefault("audio.noise_suppression", true)
	v.SetDefault("audio.output_enabled", true)
	v.SetDefault("audio.output_rate", 24000)
	v.SetDefault("audio.queue_capacity", 4<<20)
	v.SetDefault("audio.input_mode", "text")

	v.SetDefault("stt.enabled", false)
	v.SetDefault("stt.whisper_url", "http://localhost:9000")
	v.SetDefault("stt.language", "en")
	v.SetDefault("stt.silence_hangover", 700*time.Millisecond)

	v.SetDefault("control.addr", ":8088")
	v.SetDefault("control.jwt_secret", "")
}

// Load reads .env, then config_<env>.yaml from the working directory or
// ./config, then AGENTCALL_* environment overrides.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom(viper.New(), ".", "./config")
}

// LoadFrom populates v and unmarshals it. A missing config file is not an
// error; defaults and the environment still apply.
func LoadFrom(v *viper.Viper, paths ...string) (*Settings, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config_" + genEnv(v))
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &settings, nil
}

func genEnv(v *viper.Viper) string {
	env := v.GetString("env")
	if env == "" {
		return "dev"
	}
	return env
}
