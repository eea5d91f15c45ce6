package player

import "sync"

// Tap captures a mono mix of the master bus into a ring buffer for
// visualization. The mixer pushes into it from the rendering thread;
// the UI pulls snapshots at frame rate.
type Tap struct {
	mu   sync.Mutex
	buf  []float64
	pos  int
	size int
}

// NewTap creates a tap with a ring buffer of the given size.
func NewTap(size int) *Tap {
	return &Tap{
		buf:  make([]float64, size),
		size: size,
	}
}

// Push appends a rendered block's mono mix to the ring buffer.
func (t *Tap) Push(samples [][2]float64) {
	t.mu.Lock()
	for _, fr := range samples {
		t.buf[t.pos] = (fr[0] + fr[1]) / 2
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()
}

// Samples returns the last n captured samples in chronological order.
func (t *Tap) Samples(n int) []float64 {
	if n > t.size {
		n = t.size
	}
	out := make([]float64, n)
	t.mu.Lock()
	start := (t.pos - n + t.size) % t.size
	for i := range out {
		out[i] = t.buf[(start+i)%t.size]
	}
	t.mu.Unlock()
	return out
}
