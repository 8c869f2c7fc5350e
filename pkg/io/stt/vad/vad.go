package vad

import (
	"encoding/binary"
	"time"
)

// VADResult represents the result of voice activity detection
type VADResult struct {
	HasVoice   bool    `json:"hasVoice"`
	Confidence float32 `json:"confidence"`
	Energy     float32 `json:"energy"`
}

// VADConfig contains configuration for VAD
type VADConfig struct {
	SampleRate   int32   `mapstructure:"sample_rate"`
	Threshold    float32 `mapstructure:"threshold"`      // normalized mean-square energy
	MinSpeechMs  int     `mapstructure:"min_speech_ms"`  // shorter bursts are discarded
	MinSilenceMs int     `mapstructure:"min_silence_ms"` // hang-over that closes an utterance
	MaxSpeechMs  int     `mapstructure:"max_speech_ms"`  // utterances are cut at this length
}

func DefaultVADConfig() VADConfig {
	return VADConfig{
		SampleRate:   16000,
		Threshold:    0.0005,
		MinSpeechMs:  250,
		MinSilenceMs: 700,
		MaxSpeechMs:  15000,
	}
}

// EnergyVAD is a threshold detector over PCM16LE frames.
type EnergyVAD struct {
	config VADConfig
}

func NewEnergyVAD(config VADConfig) *EnergyVAD {
	d := DefaultVADConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = d.SampleRate
	}
	if config.Threshold <= 0 {
		config.Threshold = d.Threshold
	}
	return &EnergyVAD{config: config}
}

// DetectVoice computes the normalized energy of a PCM16LE frame.
func (v *EnergyVAD) DetectVoice(pcm []byte) VADResult {
	n := len(pcm) / 2
	if n == 0 {
		return VADResult{}
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	energy := float32(sum / float64(n) / (32768.0 * 32768.0))

	confidence := energy / v.config.Threshold
	if confidence > 1 {
		confidence = 1
	}
	return VADResult{HasVoice: energy > v.config.Threshold, Confidence: confidence, Energy: energy}
}

// Segmenter groups voiced frames into utterances, closing one after
// MinSilenceMs of silence or MaxSpeechMs of speech.
type Segmenter struct {
	vad        *EnergyVAD
	config     VADConfig
	buf        []byte
	voiced     time.Duration
	silence    time.Duration
	inSpeech   bool
	sampleRate int
}

func NewSegmenter(config VADConfig) *Segmenter {
	d := DefaultVADConfig()
	if config.MinSilenceMs <= 0 {
		config.MinSilenceMs = d.MinSilenceMs
	}
	if config.MaxSpeechMs <= 0 {
		config.MaxSpeechMs = d.MaxSpeechMs
	}
	v := NewEnergyVAD(config)
	return &Segmenter{vad: v, config: v.config, sampleRate: int(v.config.SampleRate)}
}

func (s *Segmenter) frameDuration(pcm []byte) time.Duration {
	return time.Duration(len(pcm)/2) * time.Second / time.Duration(s.sampleRate)
}

// Feed adds one PCM16LE frame. It returns a completed utterance, or nil.
func (s *Segmenter) Feed(pcm []byte) []byte {
	res := s.vad.DetectVoice(pcm)
	d := s.frameDuration(pcm)

	if !s.inSpeech {
		if !res.HasVoice {
			return nil
		}
		s.inSpeech = true
		s.buf = s.buf[:0]
		s.voiced, s.silence = 0, 0
	}

	s.buf = append(s.buf, pcm...)
	if res.HasVoice {
		s.voiced += d
		s.silence = 0
	} else {
		s.silence += d
	}

	maxSpeech := time.Duration(s.config.MaxSpeechMs) * time.Millisecond
	if s.silence >= time.Duration(s.config.MinSilenceMs)*time.Millisecond || s.voiced+s.silence >= maxSpeech {
		return s.cut()
	}
	return nil
}

// Flush returns whatever speech is buffered, e.g. when capture stops.
func (s *Segmenter) Flush() []byte {
	if !s.inSpeech {
		return nil
	}
	return s.cut()
}

func (s *Segmenter) cut() []byte {
	s.inSpeech = false
	if s.voiced < time.Duration(s.config.MinSpeechMs)*time.Millisecond {
		s.buf = s.buf[:0]
		return nil
	}
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	s.buf = s.buf[:0]
	return out
}
