package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	StreamID  string    `json:"msgId,omitempty"`
	Streaming bool      `json:"isStreaming"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Metadata is opaque to the transcript.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Transcript is the ordered conversation of one session. Streamed replies
// are tracked by msg_id until their stream_end arrives.
type Transcript struct {
	mu       sync.RWMutex
	messages []*Message
	open     map[string]*Message
	now      func() time.Time
}

func NewTranscript(now func() time.Time) *Transcript {
	if now == nil {
		now = time.Now
	}
	return &Transcript{open: map[string]*Message{}, now: now}
}

func (t *Transcript) add(role Role, content, streamID string, streaming bool) Message {
	at := t.now()
	m := &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		StreamID:  streamID,
		Streaming: streaming,
		CreatedAt: at,
		UpdatedAt: at,
	}
	t.messages = append(t.messages, m)
	return *m
}

// AddSystem appends a client-side notice, such as an error reported by the
// agent.
func (t *Transcript) AddSystem(content string, metadata map[string]interface{}) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.add(RoleSystem, content, "", false)
	t.messages[len(t.messages)-1].Metadata = metadata
	m.Metadata = metadata
	return m
}

func (t *Transcript) AddUser(content string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(RoleUser, content, "", false)
}

// AddAssistant appends a complete, non-streamed reply.
func (t *Transcript) AddAssistant(content string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(RoleAssistant, content, "", false)
}

// AppendChunk extends the in-progress reply for msgID, creating it on the
// first chunk.
func (t *Transcript) AppendChunk(msgID, text string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.open[msgID]; ok {
		m.Content += text
		m.UpdatedAt = t.now()
		return *m
	}
	msg := t.add(RoleAssistant, text, msgID, true)
	t.open[msgID] = t.messages[len(t.messages)-1]
	return msg
}

// Finalize marks the reply for msgID complete. It reports false when no
// reply with that id is in progress.
func (t *Transcript) Finalize(msgID string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.open[msgID]
	if !ok {
		return Message{}, false
	}
	delete(t.open, msgID)
	m.Streaming = false
	m.UpdatedAt = t.now()
	return *m, true
}

// Messages returns a copy of the transcript in order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = *m
	}
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
