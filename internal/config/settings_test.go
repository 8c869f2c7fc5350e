package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	s, err := LoadFrom(viper.New(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if s.Reconnect.Base != time.Second || s.Reconnect.Cap != 30*time.Second || s.Reconnect.MaxAttempts != 5 {
		t.Errorf("Unexpected reconnect defaults %+v", s.Reconnect)
	}
	if s.Audio.SampleRate != 16000 || s.Audio.FrameSize != 4096 || s.Audio.SilenceThreshold != 0.01 {
		t.Errorf("Unexpected audio defaults %+v", s.Audio)
	}
	if s.Media.KeepaliveInterval != 20*time.Second || s.Media.StartDelay != 0 {
		t.Errorf("Unexpected media defaults %+v", s.Media)
	}
	if s.Env != "dev" || s.Control.Addr != ":8088" {
		t.Errorf("Unexpected env/control defaults %q %q", s.Env, s.Control.Addr)
	}
}

func TestFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
agent:
  endpoint: wss://agents.example/ws
  media_endpoint: wss://agents.example/media
  api_key: file-key
reconnect:
  base: 500ms
  max_attempts: 3
media:
  start_delay: 2s
audio:
  input_mode: audio
`
	if err := os.WriteFile(filepath.Join(dir, "config_dev.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AGENTCALL_AGENT_API_KEY", "env-key")
	t.Setenv("AGENTCALL_STT_ENABLED", "true")

	s, err := LoadFrom(viper.New(), dir)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if s.Agent.Endpoint != "wss://agents.example/ws" {
		t.Errorf("Expected endpoint from file, got %q", s.Agent.Endpoint)
	}
	if s.Agent.APIKey != "env-key" {
		t.Errorf("Expected env override for api key, got %q", s.Agent.APIKey)
	}
	if s.Reconnect.Base != 500*time.Millisecond || s.Reconnect.MaxAttempts != 3 || s.Reconnect.Cap != 30*time.Second {
		t.Errorf("Unexpected reconnect %+v", s.Reconnect)
	}
	if s.Media.StartDelay != 2*time.Second {
		t.Errorf("Expected media start delay 2s, got %s", s.Media.StartDelay)
	}
	if !s.STT.Enabled {
		t.Errorf("Expected stt enabled from env")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Expected valid settings, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	s, err := LoadFrom(viper.New(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	s.Audio.InputMode = "video"
	err = s.Validate()
	if err == nil {
		t.Fatalf("Expected validation errors")
	}
	for _, want := range []string{"agent.endpoint", "agent.api_key", "input_mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in %v", want, err)
		}
	}
}
