package vad

import (
	"encoding/binary"
	"testing"
)

// pcmFrame builds 100ms of constant-amplitude 16kHz PCM.
func pcmFrame(amplitude int16) []byte {
	out := make([]byte, 1600*2)
	for i := 0; i < 1600; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplitude))
	}
	return out
}

func TestDetectVoice(t *testing.T) {
	v := NewEnergyVAD(DefaultVADConfig())
	if r := v.DetectVoice(pcmFrame(0)); r.HasVoice {
		t.Errorf("Expected silence, got %+v", r)
	}
	if r := v.DetectVoice(pcmFrame(8000)); !r.HasVoice || r.Confidence != 1 {
		t.Errorf("Expected voice, got %+v", r)
	}
	if r := v.DetectVoice(nil); r.HasVoice {
		t.Errorf("Expected no voice for empty frame")
	}
}

func TestSegmenterCutsOnSilence(t *testing.T) {
	s := NewSegmenter(VADConfig{SampleRate: 16000, MinSpeechMs: 200, MinSilenceMs: 300, MaxSpeechMs: 10000})

	if s.Feed(pcmFrame(0)) != nil {
		t.Fatalf("Leading silence should not produce an utterance")
	}
	for i := 0; i < 5; i++ {
		if s.Feed(pcmFrame(8000)) != nil {
			t.Fatalf("Utterance cut during speech")
		}
	}
	s.Feed(pcmFrame(0))
	s.Feed(pcmFrame(0))
	utt := s.Feed(pcmFrame(0))
	if utt == nil {
		t.Fatalf("Expected utterance after 300ms of silence")
	}
	if len(utt) != 8*3200 {
		t.Errorf("Expected 8 frames of audio, got %d bytes", len(utt))
	}
}

func TestSegmenterDropsShortBursts(t *testing.T) {
	s := NewSegmenter(VADConfig{SampleRate: 16000, MinSpeechMs: 300, MinSilenceMs: 100, MaxSpeechMs: 10000})
	s.Feed(pcmFrame(8000))
	if utt := s.Feed(pcmFrame(0)); utt != nil {
		t.Errorf("Expected short burst to be dropped, got %d bytes", len(utt))
	}
}

func TestSegmenterMaxLengthAndFlush(t *testing.T) {
	s := NewSegmenter(VADConfig{SampleRate: 16000, MinSpeechMs: 100, MinSilenceMs: 1000, MaxSpeechMs: 300})
	s.Feed(pcmFrame(8000))
	s.Feed(pcmFrame(8000))
	if utt := s.Feed(pcmFrame(8000)); utt == nil {
		t.Errorf("Expected utterance cut at max length")
	}

	s.Feed(pcmFrame(8000))
	s.Feed(pcmFrame(8000))
	if utt := s.Flush(); len(utt) != 2*3200 {
		t.Errorf("Expected flush to return buffered speech, got %d bytes", len(utt))
	}
	if s.Flush() != nil {
		t.Errorf("Expected second flush to be empty")
	}
}
