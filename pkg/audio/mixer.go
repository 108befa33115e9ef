package audio

import "sync"

// Mixer sums mono streams placed at absolute sample positions on a shared
// timeline and hands out the mix in order.
//
// Positions before the drain cursor are already gone: samples placed there are
// discarded, so the timeline never rewinds.
type Mixer struct {
	mu sync.Mutex

	// base is the absolute position of buffer[0], i.e. everything before it
	// has been drained.
	base int64

	// buffer accumulates in float so overlapping speakers can exceed 1.0
	// until they are saturated on Drain.
	buffer []float32
}

// NewMixer creates an empty Mixer positioned at sample 0.
func NewMixer() *Mixer {
	return &Mixer{}
}

// Add mixes pcm into the timeline starting at absolute sample pos. It returns
// the number of leading samples discarded because they fell before the drain
// cursor. Safe for concurrent use.
func (m *Mixer) Add(pos int64, pcm []float32) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	if pos < m.base {
		dropped = int(min(int64(len(pcm)), m.base-pos))
		pcm = pcm[dropped:]
		pos = m.base
	}
	if len(pcm) == 0 {
		return dropped
	}

	offset := int(pos - m.base)
	if need := offset + len(pcm); need > len(m.buffer) {
		m.buffer = append(m.buffer, make([]float32, need-len(m.buffer))...)
	}
	for i, s := range pcm {
		m.buffer[offset+i] += s
	}
	return dropped
}

// Drain returns the next n mixed samples (silence where nothing was placed),
// saturated to [-1, 1], and advances the cursor by n.
func (m *Mixer) Drain(n int) []float32 {
	if n <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]float32, n)
	k := min(n, len(m.buffer))
	for i := 0; i < k; i++ {
		out[i] = saturate(m.buffer[i])
	}

	// Shift the remainder down so memory does not grow with session length.
	m.buffer = append(m.buffer[:0], m.buffer[k:]...)
	m.base += int64(n)
	return out
}

// Position returns the absolute position of the drain cursor.
func (m *Mixer) Position() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.base
}

// Len returns the number of samples buffered past the drain cursor.
func (m *Mixer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.buffer)
}

// Clear discards buffered audio but keeps the cursor where it is.
func (m *Mixer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = nil
}

func saturate(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
