package client

import (
	"sync/atomic"

	"github.com/wagaya/voicerelay/pkg/audio"
)

// Outbound is an encoded microphone frame waiting to be sent.
type Outbound struct {
	ChannelID string
	PCM       []byte
}

// Capture cuts microphone samples into fixed-size frames and hands them to
// the sender goroutine. OnSamples runs on the audio thread: it never blocks
// and drops frames when the sender falls behind.
type Capture struct {
	frameSamples int
	out          chan<- Outbound

	buf     []float32 // audio thread only
	channel atomic.Pointer[string]
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewCapture creates a disabled Capture writing to out.
func NewCapture(frameSamples int, out chan<- Outbound) *Capture {
	return &Capture{
		frameSamples: frameSamples,
		out:          out,
		buf:          make([]float32, 0, frameSamples*2),
	}
}

// Enable starts forwarding frames for channelID.
func (c *Capture) Enable(channelID string) {
	c.channel.Store(&channelID)
}

// Disable stops forwarding. Samples arriving afterwards are discarded.
func (c *Capture) Disable() {
	c.channel.Store(nil)
}

// OnSamples is the capture device callback.
func (c *Capture) OnSamples(samples []float32) {
	channel := c.channel.Load()
	if channel == nil {
		c.buf = c.buf[:0]
		return
	}

	c.buf = append(c.buf, samples...)
	consumed := 0
	for len(c.buf)-consumed >= c.frameSamples {
		frame := Outbound{
			ChannelID: *channel,
			PCM:       audio.Encode(c.buf[consumed : consumed+c.frameSamples]),
		}
		consumed += c.frameSamples

		select {
		case c.out <- frame:
			c.sent.Add(1)
		default:
			c.dropped.Add(1)
		}
	}
	c.buf = append(c.buf[:0], c.buf[consumed:]...)
}

// Dropped returns how many frames were discarded because the send queue
// was full.
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// Sent returns how many frames were queued for sending.
func (c *Capture) Sent() uint64 {
	return c.sent.Load()
}
