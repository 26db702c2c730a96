package terminal

import "sync"

const defaultRingSize = 64 * 1024

// RingBuffer keeps the most recent bytes written to it. Once full, each write
// overwrites the oldest data, so commands with huge output cannot exhaust
// memory.
type RingBuffer struct {
	mu    sync.RWMutex
	buf   []byte
	start int
	n     int
}

// NewRingBuffer returns a buffer holding at most size bytes (64KB if size <= 0).
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = defaultRingSize
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. It never fails.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	written := len(p)
	size := len(r.buf)
	if len(p) >= size {
		copy(r.buf, p[len(p)-size:])
		r.start, r.n = 0, size
		return written, nil
	}
	for _, c := range p {
		r.buf[(r.start+r.n)%size] = c
		if r.n < size {
			r.n++
		} else {
			r.start = (r.start + 1) % size
		}
	}
	return written, nil
}

// String returns the buffered bytes oldest first.
func (r *RingBuffer) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	end := r.start + r.n
	if end <= len(r.buf) {
		return string(r.buf[r.start:end])
	}
	return string(r.buf[r.start:]) + string(r.buf[:end-len(r.buf)])
}

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Reset discards all data.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.n = 0, 0
}
