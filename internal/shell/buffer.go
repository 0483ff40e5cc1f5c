package shell

import "sync"

// DefaultMaxOutput is the output capture size used when none is configured.
const DefaultMaxOutput = 1024 * 1024

// OutputBuffer keeps the last limit bytes of a command's merged output.
// Storage grows with the output and wraps once it reaches limit.
type OutputBuffer struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	head    int // oldest byte once buf is full
	dropped int64
}

// NewOutputBuffer returns a buffer capped at limit bytes.
func NewOutputBuffer(limit int) *OutputBuffer {
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	return &OutputBuffer{limit: limit}
}

// Write appends p, discarding the oldest bytes past the limit.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.limit {
		b.dropped += int64(len(b.buf) + n - b.limit)
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		b.head = 0
		return n, nil
	}
	if room := b.limit - len(b.buf); room > 0 {
		k := min(room, len(p))
		b.buf = append(b.buf, p[:k]...)
		p = p[k:]
	}
	for len(p) > 0 {
		k := copy(b.buf[b.head:], p)
		b.head = (b.head + k) % b.limit
		b.dropped += int64(k)
		p = p[k:]
	}
	return n, nil
}

// String returns the retained output, oldest byte first.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.head == 0 {
		return string(b.buf)
	}
	return string(b.buf[b.head:]) + string(b.buf[:b.head])
}

// Truncated reports whether earlier output was discarded.
func (b *OutputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped > 0
}
