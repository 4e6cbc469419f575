package modem

import (
	"sync"

	"github.com/eapache/queue"
)

// rxBuffer is a bounded FIFO of received chunks. Bytes beyond the
// capacity are never queued.
type rxBuffer struct {
	mu       sync.Mutex
	chunks   *queue.Queue
	head     []byte
	size     int
	capacity int
}

func newRxBuffer(capacity int) *rxBuffer {
	return &rxBuffer{chunks: queue.New(), capacity: capacity}
}

// write queues as much of p as fits and returns the count queued.
func (b *rxBuffer) write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(len(p), b.capacity-b.size)
	if n <= 0 {
		return 0
	}
	chunk := make([]byte, n)
	copy(chunk, p)
	b.chunks.Add(chunk)
	b.size += n
	return n
}

func (b *rxBuffer) read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for n < len(p) {
		if len(b.head) == 0 {
			if b.chunks.Length() == 0 {
				break
			}
			b.head = b.chunks.Remove().([]byte)
		}
		c := copy(p[n:], b.head)
		b.head = b.head[c:]
		n += c
	}
	b.size -= n
	return n
}

func (b *rxBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *rxBuffer) free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity - b.size
}

func (b *rxBuffer) clear() {
	b.mu.Lock()
	b.chunks = queue.New()
	b.head = nil
	b.size = 0
	b.mu.Unlock()
}
