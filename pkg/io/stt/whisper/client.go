package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/xpanvictor/agentcall/pkg/Logger"
)

// TranscriptionResponse represents the response from Whisper STT service
type TranscriptionResponse struct {
	Text        string                 `json:"text"`
	Language    string                 `json:"language"`
	Segments    []TranscriptionSegment `json:"segments,omitempty"`
	GeneratedAt time.Time              `json:"-"`
}

// TranscriptionSegment represents a timed segment of transcription
type TranscriptionSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	ID    int     `json:"id"`
}

// WhisperClient talks to a whisper-asr-webservice compatible /asr endpoint.
type WhisperClient struct {
	baseURL       string
	language      string
	initialPrompt string
	httpClient    *http.Client
	logger        *Logger.Logger
}

type Option func(*WhisperClient)

func WithLanguage(lang string) Option {
	return func(w *WhisperClient) { w.language = lang }
}

func WithInitialPrompt(prompt string) Option {
	return func(w *WhisperClient) { w.initialPrompt = prompt }
}

func WithHTTPClient(c *http.Client) Option {
	return func(w *WhisperClient) { w.httpClient = c }
}

func NewWhisperClient(baseURL string, logger *Logger.Logger, opts ...Option) *WhisperClient {
	if logger == nil {
		logger = Logger.Nop()
	}
	w := &WhisperClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: "en",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("whisper"),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Transcribe sends one mono PCM16LE utterance and returns its transcription.
func (w *WhisperClient) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (*TranscriptionResponse, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("no audio provided")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio_file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(PCMToWAV(pcm, sampleRate)); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	q := url.Values{}
	q.Set("encode", "true")
	q.Set("task", "transcribe")
	q.Set("output", "json")
	if w.language != "" {
		q.Set("language", w.language)
	}
	if w.initialPrompt != "" {
		q.Set("initial_prompt", w.initialPrompt)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/asr?"+q.Encode(), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		w.logger.Errorf("Whisper service error (status %d): %s", resp.StatusCode, string(responseBody))
		return nil, fmt.Errorf("whisper service returned status %d", resp.StatusCode)
	}
	if len(responseBody) == 0 {
		return nil, fmt.Errorf("whisper service returned empty response")
	}

	var transcription TranscriptionResponse
	if err := sonic.Unmarshal(responseBody, &transcription); err != nil {
		// some deployments answer with plain text
		w.logger.Debugf("Treating response as plain text transcription")
		return &TranscriptionResponse{
			Text:        string(responseBody),
			Language:    w.language,
			GeneratedAt: time.Now(),
		}, nil
	}
	transcription.GeneratedAt = time.Now()
	w.logger.Debugf("Whisper transcription: %s (language: %s)", transcription.Text, transcription.Language)
	return &transcription, nil
}

// PCMToWAV wraps mono PCM16LE samples in a 44-byte RIFF header.
func PCMToWAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	out := make([]byte, 44, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], numChannels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	return append(out, pcm...)
}
