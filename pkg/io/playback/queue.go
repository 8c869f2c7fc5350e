package playback

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/smallnest/ringbuffer"
)

const DefaultQueueCapacity = 4 << 20

var (
	ErrBufferTooLarge = errors.New("audio buffer too large for queue")
	ErrQueueFull      = errors.New("playback queue full")
)

// Queue is the FIFO of buffers waiting to play.
type Queue interface {
	Enqueue(b Buffer) error
	Dequeue() (Buffer, bool)
	// Len is the number of queued buffers.
	Len() int
	Capacity() int
	Reset()
}

// ringQueue stores length-prefixed buffers in a byte ring. A buffer that
// does not fit in the free space is refused; queued buffers are never
// evicted.
type ringQueue struct {
	mu     sync.Mutex
	size   int
	rb     *ringbuffer.RingBuffer
	frames int
}

func NewQueue(size int) Queue {
	if size <= 0 {
		size = DefaultQueueCapacity
	}
	return &ringQueue{
		size: size,
		rb:   ringbuffer.New(size).SetBlocking(false),
	}
}

func (q *ringQueue) Capacity() int {
	return q.size
}

func (q *ringQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames
}

func (q *ringQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rb.Reset()
	q.frames = 0
}

func (q *ringQueue) Enqueue(b Buffer) error {
	data, err := b.MarshalBinary()
	if err != nil {
		return err
	}
	required := len(data) + 4

	q.mu.Lock()
	defer q.mu.Unlock()

	if required > q.rb.Capacity() {
		return ErrBufferTooLarge
	}
	if q.rb.Free() < required {
		return ErrQueueFull
	}

	prefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(prefix, uint32(len(data)))
	if _, err := q.rb.Write(prefix); err != nil {
		return err
	}
	if _, err := q.rb.Write(data); err != nil {
		return err
	}
	q.frames++
	return nil
}

func (q *ringQueue) Dequeue() (Buffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, ok := q.readFrame()
	if !ok {
		return Buffer{}, false
	}
	var b Buffer
	if err := b.UnmarshalBinary(data); err != nil {
		return Buffer{}, false
	}
	return b, true
}

// readFrame pops one length-prefixed frame. Callers hold q.mu.
func (q *ringQueue) readFrame() ([]byte, bool) {
	if q.rb.IsEmpty() {
		return nil, false
	}
	prefix := make([]byte, 4)
	n, err := q.rb.Read(prefix)
	if err != nil || n != 4 {
		return nil, false
	}
	size := int(binary.LittleEndian.Uint32(prefix))
	data := make([]byte, size)
	if size > 0 {
		n, err = q.rb.Read(data)
		if err != nil || n != size {
			return nil, false
		}
	}
	q.frames--
	return data, true
}
