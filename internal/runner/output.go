package runner

import (
	"bytes"
	"sync"
)

// TruncationMarker is appended to output that hit the capture limit.
const TruncationMarker = "\n[output truncated]"

// Capture collects at most limit bytes of child output and silently drops
// the rest. Write always reports success so a chatty child never sees EPIPE
// from us. It is safe for concurrent use.
type Capture struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

// NewCapture returns a Capture holding at most limit bytes (0 means unlimited).
func NewCapture(limit int) *Capture {
	return &Capture{limit: limit}
}

func (b *Capture) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = len(p) > 0 || b.truncated
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *Capture) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + TruncationMarker
	}
	return b.buf.String()
}

func (b *Capture) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
