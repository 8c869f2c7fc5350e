package playback

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUndecodable = errors.New("undecodable audio payload")

// Format of raw PCM payloads that carry no header.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// Decode turns a base64 payload into a playable buffer. Payloads starting
// with a RIFF/WAVE header must be 16-bit PCM; anything else is taken as raw
// PCM16LE at the default rate.
func Decode(payload string) (Buffer, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.Index(payload, ";base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+len(";base64,"):]
	}
	if payload == "" {
		return Buffer{}, fmt.Errorf("%w: empty", ErrUndecodable)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return Buffer{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
	}
	return DecodeBytes(raw)
}

func DecodeBytes(raw []byte) (Buffer, error) {
	if len(raw) >= 12 && bytes.Equal(raw[0:4], []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WAVE")) {
		return decodeWAV(raw)
	}
	if len(raw) < 2 {
		return Buffer{}, fmt.Errorf("%w: %d bytes", ErrUndecodable, len(raw))
	}
	pcm := raw[:len(raw)&^1]
	return Buffer{PCM: pcm, SampleRate: DefaultSampleRate, Channels: DefaultChannels, ReceivedAt: time.Now()}, nil
}

func decodeWAV(raw []byte) (Buffer, error) {
	var (
		b         = Buffer{ReceivedAt: time.Now()}
		haveFmt   bool
		bitsPerSm uint16
	)
	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4:]))
		body := pos + 8
		if size < 0 || body+size > len(raw) {
			// tolerate streaming writers that leave the data size unset
			if id == "data" {
				size = len(raw) - body
			} else {
				return Buffer{}, fmt.Errorf("%w: truncated %q chunk", ErrUndecodable, id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Buffer{}, fmt.Errorf("%w: short fmt chunk", ErrUndecodable)
			}
			format := binary.LittleEndian.Uint16(raw[body:])
			b.Channels = int16(binary.LittleEndian.Uint16(raw[body+2:]))
			b.SampleRate = int32(binary.LittleEndian.Uint32(raw[body+4:]))
			bitsPerSm = binary.LittleEndian.Uint16(raw[body+14:])
			if format != 1 || bitsPerSm != 16 {
				return Buffer{}, fmt.Errorf("%w: unsupported wav format=%d bits=%d", ErrUndecodable, format, bitsPerSm)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Buffer{}, fmt.Errorf("%w: data before fmt", ErrUndecodable)
			}
			b.PCM = raw[body : body+size&^1]
			return b, nil
		}
		pos = body + size + size%2
	}
	return Buffer{}, fmt.Errorf("%w: wav without data chunk", ErrUndecodable)
}
